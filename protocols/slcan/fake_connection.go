package slcan

import (
	"context"
	"io"
	"time"

	"github.com/awer25/pandaop/can"
)

// FakeConnection is a FrameSource that isn't connected to a real adapter.
// It returns the given frames in order, one per latency interval.
type FakeConnection struct {
	latency time.Duration
	frames  []can.Frame
	next    int
}

// NewFakeConnection returns a FakeConnection over frames.
func NewFakeConnection(frames []can.Frame, latency time.Duration) *FakeConnection {
	return &FakeConnection{latency: latency, frames: frames}
}

// NextFrame waits for the connection's latency and then returns the next
// frame, or io.EOF once all frames were returned.
func (c *FakeConnection) NextFrame(ctx context.Context) (can.Frame, error) {
	if c.next >= len(c.frames) {
		return can.Frame{}, io.EOF
	}

	if c.latency > 0 {
		timer := time.NewTimer(c.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return can.Frame{}, ctx.Err()
		case <-timer.C:
		}
	}

	f := c.frames[c.next]
	c.next++
	return f, nil
}
