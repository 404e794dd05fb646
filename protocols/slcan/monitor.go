package slcan

import (
	"context"
	"io"
	"time"

	"github.com/awer25/pandaop/can"
	"github.com/awer25/pandaop/logging"
	"github.com/awer25/pandaop/safety"
	"github.com/pkg/errors"
)

// FrameSource yields received CAN frames.
type FrameSource interface {
	NextFrame(ctx context.Context) (can.Frame, error)
}

// Clock returns the current tick value fed to the safety engine.
type Clock func() uint32

// MonotonicClock returns a Clock counting microseconds since its creation.
func MonotonicClock() Clock {
	start := time.Now()
	return func() uint32 {
		return uint32(time.Since(start).Microseconds())
	}
}

// Event is the outcome of feeding one received frame to the engine.
type Event struct {
	Frame can.Frame
	Tick  uint32
	// Err is the reason the engine rejected the frame, if it did.
	Err error

	ControlsAllowed  bool
	RelayMalfunction bool
	// Transition is set when ControlsAllowed changed with this frame.
	Transition bool
}

// maxConsecutiveErrors ends a session.
const maxConsecutiveErrors = 3

// MonitorSession reads frames from src and feeds them to engine until the
// context is canceled. The results are sent on the returned channel, and the
// channel is closed when the context is canceled, the source is exhausted or
// too many consecutive errors are encountered. The session owns engine until
// the channel is closed.
func MonitorSession(ctx context.Context, src FrameSource, engine *safety.Engine,
	clock Clock, l logging.Logger) <-chan Event {
	if clock == nil {
		clock = MonotonicClock()
	}
	results := make(chan Event, 10)
	go processFrames(ctx, results, src, engine, clock, logging.OrNop(l))
	return results
}

func processFrames(ctx context.Context, results chan<- Event, src FrameSource,
	engine *safety.Engine, clock Clock, l logging.Logger) {
	defer close(results)

	errCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		f, err := src.NextFrame(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return
			}
			l.Debug(err.Error())
			errCount++
			if errCount == maxConsecutiveErrors {
				return
			}
			continue
		}
		errCount = 0

		tick := clock()
		if err := engine.SetClock(tick); err != nil {
			l.Debugf("setting clock to %d: %v", tick, err)
		}

		wasAllowed := engine.ControlsAllowed()
		rxErr := engine.ReceiveErr(f)
		ev := Event{
			Frame:            f,
			Tick:             engine.Clock(),
			Err:              rxErr,
			ControlsAllowed:  engine.ControlsAllowed(),
			RelayMalfunction: engine.RelayMalfunction(),
		}
		ev.Transition = ev.ControlsAllowed != wasAllowed

		select {
		case results <- ev:
		case <-ctx.Done():
			return
		}
	}
}
