package safety

import (
	"github.com/awer25/pandaop/can"
	"github.com/awer25/pandaop/logging"
	"github.com/pkg/errors"
)

// Engine applies a selected Profile to frames received from, sent to and
// forwarded between CAN buses. An Engine is not safe for concurrent use;
// independent engines share no state.
type Engine struct {
	registry Registry
	logger   logging.Logger

	profile *Profile
	state   State
	rx      []rxState

	clockSet bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's debug logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) {
		e.logger = logging.OrNop(l)
	}
}

// WithRegistry replaces the built-in profile registry.
func WithRegistry(r Registry) Option {
	return func(e *Engine) {
		e.registry = r
	}
}

// NewEngine returns an Engine bound to the silent profile, which allows no
// transmission and forwards nothing.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		registry: DefaultRegistry(),
		logger:   logging.NopLogger,
	}
	for _, opt := range opts {
		opt(e)
	}

	p := silentProfile(0)
	if err := p.compile(); err != nil {
		panic(err)
	}
	e.bind(&p)
	return e
}

// SelectProfile resets the safety state and binds the profile registered
// for mode, built with param. The engine is left untouched on error.
func (e *Engine) SelectProfile(mode Mode, param uint16) error {
	build, ok := e.registry[mode]
	if !ok {
		return errors.Wrapf(ErrUnknownMode, "mode %d", mode)
	}

	p := build(param)
	p.Mode = mode
	p.Param = param
	if err := p.compile(); err != nil {
		return errors.Wrapf(err, "building profile for mode %d", mode)
	}

	e.bind(&p)
	e.logger.Debugf("selected profile %s (mode %d, param 0x%x)", p.Name, mode, param)
	return nil
}

func (e *Engine) bind(p *Profile) {
	clock := e.state.clock
	e.profile = p
	e.state = State{clock: clock, rtTimestamp: clock, desiredLastTimestamp: clock}
	e.rx = make([]rxState, len(p.Handlers))
}

// SetClock advances the tick source used by every temporal check. Ticks
// wrap around at 2^32; a step backwards is rejected without changing state.
// Trust-bearing messages that stopped arriving disarm the engine here.
func (e *Engine) SetClock(ticks uint32) error {
	if e.clockSet && int32(ticks-e.state.clock) < 0 {
		return ErrClockRegression
	}
	e.state.clock = ticks
	e.clockSet = true

	lagging := false
	for i := range e.rx {
		st := &e.rx[i]
		st.lagging = st.stale(&e.profile.Handlers[i], ticks)
		lagging = lagging || st.lagging
	}
	if lagging && !e.state.lagging {
		e.logger.Debugf("trust-bearing messages stopped arriving at tick %d", ticks)
	}
	e.state.lagging = lagging
	if lagging {
		e.state.controlsAllowed = false
	}
	return nil
}

// Receive processes a frame observed on a bus and reports whether it was
// accepted as trustworthy. Frames without a registered handler are inert.
func (e *Engine) Receive(f can.Frame) bool {
	return e.ReceiveErr(f) == nil
}

// ReceiveErr is like Receive but returns the reason a frame was rejected.
func (e *Engine) ReceiveErr(f can.Frame) error {
	p := e.profile
	r := f.Route()

	if _, ok := p.relay[r]; ok {
		if !e.state.relayMalfunction {
			e.logger.Debugf("relay malfunction: stock %s seen at tick %d", r, e.state.clock)
		}
		e.state.relayMalfunction = true
		e.state.controlsAllowed = false
	}

	idx, ok := p.handlers[r]
	if !ok {
		return nil
	}
	h := &p.Handlers[idx]
	st := &e.rx[idx]

	if err := st.validate(h, f); err != nil {
		if h.TrustBearing && (err != ErrQualityFlagLow || p.QualityFlagDisarms) {
			e.state.controlsAllowed = false
		}
		return err
	}

	st.seen = true
	st.lastTick = e.state.clock
	if st.lagging {
		st.lagging = false
		e.state.lagging = false
		for i := range e.rx {
			e.state.lagging = e.state.lagging || e.rx[i].lagging
		}
	}

	if h.Update != nil {
		h.Update(p, &e.state, f)
	}
	e.state.enforceOverrides()
	return nil
}

// Transmit reports whether a frame from the driving stack may be sent.
func (e *Engine) Transmit(f can.Frame) bool {
	return e.TransmitErr(f) == nil
}

// TransmitErr is like Transmit but returns the reason a frame was rejected.
func (e *Engine) TransmitErr(f can.Frame) error {
	p := e.profile
	r := f.Route()

	if _, ok := p.txAllow[r]; !ok {
		return ErrAddressNotAllowed
	}
	if e.state.relayMalfunction {
		return ErrRelayMalfunction
	}

	idx, ok := p.actuators[r]
	if !ok {
		return nil
	}
	a := &p.Actuators[idx]

	for _, check := range a.Checks {
		if err := check(&e.state, f); err != nil {
			return err
		}
	}

	if a.Decode == nil {
		return nil
	}
	cmd := a.Decode(f)
	if a.Torque != nil {
		return e.state.checkTorque(a.Torque, cmd)
	}
	return e.state.checkAngle(a.Angle, cmd)
}

// Forward returns the bus a frame at address arriving on bus should be
// copied to, or false when it must not be forwarded.
func (e *Engine) Forward(bus uint8, address uint32) (uint8, bool) {
	if e.profile.Blocked(bus, address) {
		return 0, false
	}
	dst, ok := e.profile.ForwardTable[bus]
	return dst, ok
}

// Profile returns the bound profile.
func (e *Engine) Profile() *Profile { return e.profile }

// Mode returns the mode of the bound profile.
func (e *Engine) Mode() Mode { return e.profile.Mode }

func (e *Engine) ControlsAllowed() bool { return e.state.controlsAllowed }
func (e *Engine) RelayMalfunction() bool { return e.state.relayMalfunction }
func (e *Engine) Lagging() bool { return e.state.lagging }
func (e *Engine) VehicleMoving() bool { return e.state.vehicleMoving }
func (e *Engine) VehicleSpeed() float64 { return e.state.vehicleSpeed }
func (e *Engine) BrakePressed() bool { return e.state.brakePressed }
func (e *Engine) GasPressed() bool { return e.state.gasPressed }
func (e *Engine) CruiseEngaged() bool { return e.state.cruiseEngaged }
func (e *Engine) DriverTorqueMin() int { return e.state.driverTorque.min }
func (e *Engine) DriverTorqueMax() int { return e.state.driverTorque.max }
func (e *Engine) DesiredLast() int { return e.state.desiredLast }
func (e *Engine) DesiredLastTimestamp() uint32 { return e.state.desiredLastTimestamp }
func (e *Engine) Clock() uint32 { return e.state.clock }

// Counter returns the last rolling counter accepted for route.
func (e *Engine) Counter(r can.Route) (uint8, bool) {
	idx, ok := e.profile.handlers[r]
	if !ok || !e.rx[idx].counterSeen {
		return 0, false
	}
	return e.rx[idx].counter, true
}

// Snapshot returns a copy of the current safety state.
func (e *Engine) Snapshot() Snapshot {
	return e.state.snapshot()
}
