package safety

import (
	"github.com/awer25/pandaop/can"
	"github.com/pkg/errors"
)

// Handler binds trust validation and signal extraction to a received
// (address, bus) pair.
type Handler struct {
	Route can.Route
	// Len is the expected payload length. Zero accepts any length.
	Len uint8
	// Checksum reports whether the frame's checksum is valid. Nil when the
	// message carries none.
	Checksum func(f can.Frame) bool
	// Counter extracts the rolling counter. Nil when the message carries none.
	Counter    func(f can.Frame) uint8
	MaxCounter uint8
	// Quality reports whether the frame's own quality flag says its signals
	// are reliable. Nil when the message carries no quality flag.
	Quality func(f can.Frame) bool
	// ExpectedPeriod is the nominal transmit period in clock ticks. Zero
	// disables staleness detection for the message.
	ExpectedPeriod uint32
	// TrustBearing messages disarm the engine when they fail validation.
	TrustBearing bool
	// Update extracts signals from a trusted frame into the state.
	Update func(p *Profile, s *State, f can.Frame)
}

// Command is a steering command decoded from a transmitted frame.
type Command struct {
	Value int
	// Request is the message's request bit. Messages without one report true.
	Request bool
}

// TorqueMode selects how a torque command is bounded besides rate limits.
type TorqueMode int

const (
	// DriverLimited commands back off as the driver applies opposing torque.
	DriverLimited TorqueMode = iota
	// MeasurementLimited commands must stay close to the EPS measured torque.
	MeasurementLimited
)

// TorqueLimits bounds a steering torque command, in CAN units.
type TorqueLimits struct {
	Max    int
	Windup Curve
	Unwind Curve
	Mode   TorqueMode

	MaxRTDelta int
	RTInterval uint32

	DriverAllowance int
	DriverFactor    int
	MaxError        int
}

// AngleLimits bounds a steering angle or curvature command. Curves are in
// physical units per frame and Scale converts them to CAN units.
type AngleLimits struct {
	Scale  float64
	Windup Curve
	Unwind Curve
	// Max is the absolute command limit in CAN units. Zero disables it.
	Max int

	// MaxMeasError bounds the distance to the measured value, in CAN units,
	// above MeasErrorMinSpeed. Zero disables it.
	MaxMeasError      int
	MeasErrorMinSpeed float64

	// InactiveIsZero requires a zero command while the request bit is low.
	// Otherwise the inactive command must track the measured value.
	InactiveIsZero bool

	MaxRTDelta int
	RTInterval uint32
}

// AccelLimits bounds a longitudinal acceleration command in CAN units.
type AccelLimits struct {
	Max      int
	Min      int
	Inactive int
}

// Check is a composable transmit policy applied to an actuator frame.
type Check func(s *State, f can.Frame) error

// Actuator describes a transmitted message that can move the vehicle.
type Actuator struct {
	Route can.Route
	// Decode extracts the steering command. Nil for messages without one.
	Decode func(f can.Frame) Command
	Torque *TorqueLimits
	Angle  *AngleLimits
	Checks []Check
}

// Thresholds are the profile's pedal and standstill activation points.
type Thresholds struct {
	Standstill float64 // m/s
	Gas        float64
	Brake      float64
}

// Profile is the immutable per-make policy bound to an Engine.
type Profile struct {
	Name  string
	Mode  Mode
	Param uint16

	TxAllow          []can.Route
	ForwardTable     map[uint8]uint8
	ForwardBlock     []can.Route // Bus is the source bus
	RelayMalfunction []can.Route
	Handlers         []Handler
	Actuators        []Actuator
	Thresholds       Thresholds

	// QualityFlagDisarms clears controls_allowed when a trust-bearing frame
	// reports a low quality flag. Otherwise the update is only withheld.
	QualityFlagDisarms bool

	txAllow      map[can.Route]struct{}
	forwardBlock map[can.Route]struct{}
	relay        map[can.Route]struct{}
	handlers     map[can.Route]int
	actuators    map[can.Route]int
}

// compile builds the lookup tables used by the hooks.
func (p *Profile) compile() error {
	p.txAllow = routeSet(p.TxAllow)
	p.forwardBlock = routeSet(p.ForwardBlock)
	p.relay = routeSet(p.RelayMalfunction)

	p.handlers = make(map[can.Route]int, len(p.Handlers))
	for i, h := range p.Handlers {
		if _, dup := p.handlers[h.Route]; dup {
			return errors.Errorf("profile %s: duplicate handler for %s", p.Name, h.Route)
		}
		if h.Counter != nil && h.MaxCounter == 0 {
			return errors.Errorf("profile %s: handler %s has a counter without a maximum", p.Name, h.Route)
		}
		p.handlers[h.Route] = i
	}

	p.actuators = make(map[can.Route]int, len(p.Actuators))
	for i, a := range p.Actuators {
		if _, dup := p.actuators[a.Route]; dup {
			return errors.Errorf("profile %s: duplicate actuator for %s", p.Name, a.Route)
		}
		if _, ok := p.txAllow[a.Route]; !ok {
			return errors.Errorf("profile %s: actuator %s is not in the allow-list", p.Name, a.Route)
		}
		if a.Decode != nil && a.Torque == nil && a.Angle == nil {
			return errors.Errorf("profile %s: actuator %s decodes a command without limits", p.Name, a.Route)
		}
		p.actuators[a.Route] = i
	}
	return nil
}

// Allowed reports whether the route is in the transmit allow-list.
func (p *Profile) Allowed(r can.Route) bool {
	_, ok := p.txAllow[r]
	return ok
}

// Blocked reports whether frames at address arriving on bus are never forwarded.
func (p *Profile) Blocked(bus uint8, address uint32) bool {
	_, ok := p.forwardBlock[can.Route{Address: address, Bus: bus}]
	return ok
}

func routeSet(routes []can.Route) map[can.Route]struct{} {
	m := make(map[can.Route]struct{}, len(routes))
	for _, r := range routes {
		m[r] = struct{}{}
	}
	return m
}

func routes(bus uint8, addresses ...uint32) []can.Route {
	r := make([]can.Route, len(addresses))
	for i, a := range addresses {
		r[i] = can.Route{Address: a, Bus: bus}
	}
	return r
}

func route(address uint32, bus uint8) can.Route {
	return can.Route{Address: address, Bus: bus}
}

// bridge forwards everything between the vehicle bus 0 and the camera bus 2.
func bridge() map[uint8]uint8 {
	return map[uint8]uint8{0: 2, 2: 0}
}
