package replay

import (
	"sort"

	"github.com/awer25/pandaop/logging"
	"github.com/awer25/pandaop/safety"
	"github.com/pkg/errors"
)

// Result aggregates one replay of a recorded drive.
type Result struct {
	Mode  safety.Mode `json:"mode"`
	Param uint16      `json:"param"`

	Transmitted           int `json:"transmitted"`
	Blocked               int `json:"blocked"`
	TransmittedWhileArmed int `json:"transmitted_while_armed"`
	BlockedWhileArmed     int `json:"blocked_while_armed"`

	Received        int `json:"received"`
	ReceiveRejected int `json:"receive_rejected"`
	// Returned counts observed echoes of our own frames, which are skipped.
	Returned int `json:"returned"`
	// Invalid counts entries that didn't decode to a frame.
	Invalid          int `json:"invalid"`
	ClockRegressions int `json:"clock_regressions"`

	BlockedAddresses []uint32       `json:"blocked_addresses"`
	Reasons          map[string]int `json:"reasons"`
	ReceiveReasons   map[string]int `json:"receive_reasons"`

	Final safety.Snapshot `json:"final"`
	// Pass is set when nothing was blocked while controls were allowed.
	Pass bool `json:"pass"`
}

// Option configures a replay.
type Option func(*config)

type config struct {
	logger   logging.Logger
	registry safety.Registry
	progress func()
}

// WithLogger sets the logger used by the replay and its engines.
func WithLogger(l logging.Logger) Option {
	return func(c *config) {
		c.logger = logging.OrNop(l)
	}
}

// WithRegistry replays against a custom profile registry.
func WithRegistry(r safety.Registry) Option {
	return func(c *config) {
		c.registry = r
	}
}

// WithProgress sets a function RunAll calls after each finished job. It
// may be called from several goroutines at once.
func WithProgress(fn func()) Option {
	return func(c *config) {
		c.progress = fn
	}
}

func newConfig(opts []Option) config {
	c := config{logger: logging.NopLogger}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Run feeds entries in order to a fresh engine running mode with param.
// The clock follows each entry's timestamp; observed frames go to the
// receive hook and sent frames to the transmit hook.
func Run(entries []Entry, mode safety.Mode, param uint16, opts ...Option) (Result, error) {
	c := newConfig(opts)

	engineOpts := []safety.Option{safety.WithLogger(c.logger)}
	if c.registry != nil {
		engineOpts = append(engineOpts, safety.WithRegistry(c.registry))
	}
	e := safety.NewEngine(engineOpts...)
	if err := e.SelectProfile(mode, param); err != nil {
		return Result{}, errors.Wrap(err, "selecting profile")
	}

	r := Result{
		Mode:           mode,
		Param:          param,
		Reasons:        map[string]int{},
		ReceiveReasons: map[string]int{},
	}
	blocked := map[uint32]struct{}{}

	for i, entry := range entries {
		if entry.Returned() {
			r.Returned++
			continue
		}

		if err := e.SetClock(entry.Timestamp); err != nil {
			c.logger.Debugf("entry %d: %v (tick %d after %d)", i, err, entry.Timestamp, e.Clock())
			r.ClockRegressions++
		}

		f, err := entry.Frame()
		if err != nil {
			c.logger.Debugf("entry %d: %v", i, err)
			r.Invalid++
			continue
		}

		switch entry.Direction {
		case Sent:
			err := e.TransmitErr(f)
			armed := e.ControlsAllowed()
			r.Transmitted++
			if armed {
				r.TransmittedWhileArmed++
			}
			if err != nil {
				r.Blocked++
				r.Reasons[err.Error()]++
				blocked[f.Address] = struct{}{}
				if armed {
					r.BlockedWhileArmed++
				}
			}
		case Observed:
			r.Received++
			if err := e.ReceiveErr(f); err != nil {
				r.ReceiveRejected++
				r.ReceiveReasons[err.Error()]++
			}
		default:
			r.Invalid++
		}
	}

	r.BlockedAddresses = make([]uint32, 0, len(blocked))
	for addr := range blocked {
		r.BlockedAddresses = append(r.BlockedAddresses, addr)
	}
	sort.Slice(r.BlockedAddresses, func(i, j int) bool {
		return r.BlockedAddresses[i] < r.BlockedAddresses[j]
	})

	r.Final = e.Snapshot()
	r.Pass = r.BlockedWhileArmed == 0
	return r, nil
}
