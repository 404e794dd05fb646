package slcan_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/awer25/pandaop/can"
	"github.com/awer25/pandaop/protocols/slcan"
)

type testSerialPort struct {
	out    *bytes.Buffer
	in     *bytes.Buffer
	closed bool
}

func (p *testSerialPort) Read(b []byte) (int, error) {
	return p.out.Read(b)
}

func (p *testSerialPort) Write(b []byte) (int, error) {
	return p.in.Write(b)
}

func (p *testSerialPort) Close() error {
	p.closed = true
	return nil
}

func newTestSerialPort(out string) *testSerialPort {
	return &testSerialPort{
		out: bytes.NewBufferString(out),
		in:  &bytes.Buffer{},
	}
}

// idlePort behaves like a serial port with a read timeout: reads on an idle
// line return no bytes and no error.
type idlePort struct {
	mu  sync.Mutex
	out bytes.Buffer
	in  bytes.Buffer
}

func (p *idlePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	n, _ := p.out.Read(b)
	p.mu.Unlock()
	if n == 0 {
		time.Sleep(time.Millisecond)
	}
	return n, nil
}

func (p *idlePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.in.Write(b)
}

func (p *idlePort) Close() error {
	return nil
}

func (p *idlePort) receive(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out.WriteString(s)
}

func TestOpen(t *testing.T) {
	t.Run("SendsSetupCommands", func(t *testing.T) {
		port := newTestSerialPort("\r\r")
		conn := slcan.NewConnection(port, 0, nil)

		if err := conn.Open(context.Background(), 500); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if port.in.String() != "S6\rO\r" {
			t.Fatalf("unexpected commands %q", port.in.String())
		}
	})

	t.Run("ChecksBitrate", func(t *testing.T) {
		port := newTestSerialPort("")
		conn := slcan.NewConnection(port, 0, nil)

		err := conn.Open(context.Background(), 400)
		if !errors.Is(err, slcan.ErrUnsupportedBitrate) {
			t.Fatalf("expected ErrUnsupportedBitrate but got %v", err)
		}
		if port.in.Len() != 0 {
			t.Fatalf("expected nothing written but got %q", port.in.String())
		}
	})

	t.Run("ChecksAcknowledgement", func(t *testing.T) {
		port := newTestSerialPort("\r\a")
		conn := slcan.NewConnection(port, 0, nil)

		err := conn.Open(context.Background(), 250)
		if !errors.Is(err, slcan.ErrCommandRejected) {
			t.Fatalf("expected ErrCommandRejected but got %v", err)
		}
	})

	t.Run("StopsOnCanceledContext", func(t *testing.T) {
		port := newTestSerialPort("\r\r")
		conn := slcan.NewConnection(port, 0, nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := conn.Open(ctx, 500); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled but got %v", err)
		}
	})
}

func TestNextFrame(t *testing.T) {
	t.Run("SkipsAcknowledgements", func(t *testing.T) {
		port := newTestSerialPort("z\rF00\r\rt2E43010203\rT000001230\r")
		conn := slcan.NewConnection(port, 2, nil)

		f, err := conn.NextFrame(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := can.MustFrame(0x2E4, 2, []byte{0x01, 0x02, 0x03})
		if f != want {
			t.Fatalf("expected %v but got %v", want, f)
		}

		// the second frame arrived with the first read
		f, err = conn.NextFrame(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f.Address != 0x123 || !f.Extended || f.Len != 0 || f.Bus != 2 {
			t.Fatalf("unexpected frame %v", f)
		}
	})

	t.Run("ReturnsDecodeErrors", func(t *testing.T) {
		port := newTestSerialPort("t2E4301\r")
		conn := slcan.NewConnection(port, 0, nil)

		if _, err := conn.NextFrame(context.Background()); !errors.Is(err, slcan.ErrInvalidFrame) {
			t.Fatalf("expected ErrInvalidFrame but got %v", err)
		}
	})

	t.Run("ReturnsReadErrors", func(t *testing.T) {
		port := newTestSerialPort("t2E4")
		conn := slcan.NewConnection(port, 0, nil)

		if _, err := conn.NextFrame(context.Background()); !errors.Is(err, io.EOF) {
			t.Fatalf("expected io.EOF but got %v", err)
		}
	})

	t.Run("LimitsLineLength", func(t *testing.T) {
		port := newTestSerialPort(string(bytes.Repeat([]byte{'0'}, 64)))
		conn := slcan.NewConnection(port, 0, nil)

		if _, err := conn.NextFrame(context.Background()); !errors.Is(err, slcan.ErrLineTooLong) {
			t.Fatalf("expected ErrLineTooLong but got %v", err)
		}
	})
}

func TestNextFrameAfterTimeout(t *testing.T) {
	port := &idlePort{}
	conn := slcan.NewConnection(port, 0, nil)
	conn.SetTotalReadTimeout(20 * time.Millisecond)
	defer conn.Close()

	if _, err := conn.NextFrame(context.Background()); !errors.Is(err, slcan.ErrReadTimeout) {
		t.Fatalf("expected ErrReadTimeout but got %v", err)
	}

	port.receive("t1232AABB\r")
	conn.SetTotalReadTimeout(time.Second)
	f, err := conn.NextFrame(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := can.MustFrame(0x123, 0, []byte{0xAA, 0xBB})
	if f != want {
		t.Fatalf("expected %v but got %v", want, f)
	}

	// a frame arriving while nobody waits is kept for the next call
	port.receive("t1241CC\r")
	time.Sleep(20 * time.Millisecond)
	f, err = conn.NextFrame(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Address != 0x124 || f.Data[0] != 0xCC {
		t.Fatalf("unexpected frame %v", f)
	}
}

func TestSend(t *testing.T) {
	port := newTestSerialPort("")
	conn := slcan.NewConnection(port, 0, nil)

	err := conn.Send(context.Background(), can.MustFrame(0x343, 0, []byte{0xFF, 0x38}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if port.in.String() != "t3432FF38\r" {
		t.Fatalf("unexpected line %q", port.in.String())
	}
}

func TestClose(t *testing.T) {
	port := newTestSerialPort("")
	conn := slcan.NewConnection(port, 0, nil)

	if err := conn.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !port.closed {
		t.Fatal("expected port to be closed")
	}
	if port.in.String() != "C\r" {
		t.Fatalf("unexpected close command %q", port.in.String())
	}
}
