package slcan_test

import (
	"context"
	"errors"
	"testing"

	"github.com/awer25/pandaop/can"
	"github.com/awer25/pandaop/protocols/slcan"
	"github.com/awer25/pandaop/safety"
)

// cruiseFrame returns a Toyota PCM_CRUISE frame with a valid checksum.
func cruiseFrame(b0 byte) can.Frame {
	data := []byte{b0, 0, 0, 0, 0, 0, 0, 0}
	sum := byte(0xD2) + byte(0x01) + byte(len(data))
	for _, b := range data[:7] {
		sum += b
	}
	data[7] = sum
	return can.MustFrame(0x1D2, 0, data)
}

func tickClock(step uint32) slcan.Clock {
	var t uint32
	return func() uint32 {
		t += step
		return t
	}
}

func collect(events <-chan slcan.Event) []slcan.Event {
	var out []slcan.Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestMonitorSession(t *testing.T) {
	t.Run("ReportsTransitions", func(t *testing.T) {
		e := safety.NewEngine()
		if err := e.SelectProfile(safety.ModeToyota, 0); err != nil {
			t.Fatal(err)
		}

		bad := cruiseFrame(0x30)
		bad.Data[7]++
		frames := []can.Frame{
			cruiseFrame(0x10),
			cruiseFrame(0x30),
			cruiseFrame(0x30),
			bad,
		}
		conn := slcan.NewFakeConnection(frames, 0)

		events := collect(slcan.MonitorSession(context.Background(), conn, e, tickClock(1000), nil))
		if len(events) != len(frames) {
			t.Fatalf("expected %d events but got %d", len(frames), len(events))
		}

		if events[0].ControlsAllowed || events[0].Transition {
			t.Fatalf("unexpected first event %+v", events[0])
		}
		if !events[1].ControlsAllowed || !events[1].Transition {
			t.Fatalf("expected arming on the rising edge, got %+v", events[1])
		}
		if !events[2].ControlsAllowed || events[2].Transition {
			t.Fatalf("expected no transition while engaged, got %+v", events[2])
		}
		if !errors.Is(events[3].Err, safety.ErrChecksumMismatch) {
			t.Fatalf("expected ErrChecksumMismatch but got %v", events[3].Err)
		}
		if events[3].ControlsAllowed || !events[3].Transition {
			t.Fatalf("expected disarm on the bad checksum, got %+v", events[3])
		}
		if events[3].Tick != 4000 {
			t.Fatalf("expected tick 4000 but got %d", events[3].Tick)
		}
	})

	t.Run("StopsAfterConsecutiveErrors", func(t *testing.T) {
		src := &failingSource{}
		events := collect(slcan.MonitorSession(context.Background(), src, safety.NewEngine(), nil, nil))
		if len(events) != 0 {
			t.Fatalf("expected no events but got %d", len(events))
		}
		if src.calls != 3 {
			t.Fatalf("expected 3 reads but got %d", src.calls)
		}
	})

	t.Run("StopsOnCanceledContext", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		conn := slcan.NewFakeConnection([]can.Frame{cruiseFrame(0x10)}, 0)
		events := collect(slcan.MonitorSession(ctx, conn, safety.NewEngine(), nil, nil))
		if len(events) != 0 {
			t.Fatalf("expected no events but got %d", len(events))
		}
	})
}

type failingSource struct {
	calls int
}

func (s *failingSource) NextFrame(ctx context.Context) (can.Frame, error) {
	s.calls++
	return can.Frame{}, slcan.ErrReadTimeout
}
