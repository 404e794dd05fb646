package safety

import "github.com/awer25/pandaop/can"

const sampleSize = 6

// sample keeps the last few values of a signal with their bounds.
type sample struct {
	values [sampleSize]int
	min    int
	max    int
}

func (s *sample) update(v int) {
	copy(s.values[1:], s.values[:sampleSize-1])
	s.values[0] = v

	s.min, s.max = v, v
	for _, x := range s.values[1:] {
		if x < s.min {
			s.min = x
		}
		if x > s.max {
			s.max = x
		}
	}
}

// widen loosens the bounds by n on each side until the next update.
func (s *sample) widen(n int) {
	s.min -= n
	s.max += n
}

// State is the mutable safety state owned by one Engine.
type State struct {
	controlsAllowed  bool
	relayMalfunction bool
	lagging          bool

	vehicleMoving bool
	vehicleSpeed  float64 // m/s
	brakePressed  bool
	gasPressed    bool
	cruiseEngaged bool

	// Pedals reported by several independent signals are pressed when any
	// of their source bits is set.
	brakeSources uint8
	gasSources   uint8

	cruiseAvailable bool
	buttonsPrev     uint8
	stockAEB        bool

	driverTorque sample
	torqueMeas   sample
	angleMeas    sample

	desiredLast          int
	desiredLastTimestamp uint32
	rtLast               int
	rtTimestamp          uint32

	clock uint32
}

// ControlsAllowed reports whether non-neutral commands may be sent.
func (s *State) ControlsAllowed() bool { return s.controlsAllowed }

// VehicleSpeed returns the last trusted speed in m/s.
func (s *State) VehicleSpeed() float64 { return s.vehicleSpeed }

// GasPressed reports the last trusted gas pedal state.
func (s *State) GasPressed() bool { return s.gasPressed }

// updateCruise arms on a rising engagement edge without an override and
// disarms whenever cruise is off.
func (s *State) updateCruise(engaged bool) {
	if engaged && !s.cruiseEngaged && !s.overridden() && !s.lagging {
		s.controlsAllowed = true
	}
	if !engaged {
		s.controlsAllowed = false
	}
	s.cruiseEngaged = engaged
}

func (s *State) setSpeed(speed, standstill float64) {
	if speed < 0 {
		speed = -speed
	}
	s.vehicleSpeed = speed
	s.vehicleMoving = speed > standstill
}

// setBrakeSource records one of several redundant brake signals.
func (s *State) setBrakeSource(source uint8, pressed bool) {
	if pressed {
		s.brakeSources |= 1 << source
	} else {
		s.brakeSources &^= 1 << source
	}
	s.brakePressed = s.brakeSources != 0
}

// setGasSource records one of several redundant gas signals.
func (s *State) setGasSource(source uint8, pressed bool) {
	if pressed {
		s.gasSources |= 1 << source
	} else {
		s.gasSources &^= 1 << source
	}
	s.gasPressed = s.gasSources != 0
}

// buttonsReleased stores the pressed button mask and reports whether any
// button in mask was let go since the previous frame.
func (s *State) buttonsReleased(pressed, mask uint8) bool {
	released := s.buttonsPrev&mask&^pressed != 0
	s.buttonsPrev = pressed
	return released
}

// armOnRequest arms from an explicit driver request while cruise is
// available and nothing overrides.
func (s *State) armOnRequest() {
	if s.cruiseAvailable && !s.overridden() && !s.lagging {
		s.controlsAllowed = true
	}
}

func (s *State) overridden() bool {
	return s.brakePressed || s.gasPressed || s.relayMalfunction
}

func (s *State) enforceOverrides() {
	if s.overridden() {
		s.controlsAllowed = false
	}
}

func (s *State) acceptDesired(v int) {
	s.desiredLast = v
	s.desiredLastTimestamp = s.clock
}

func (s *State) resetDesired(v int) {
	s.desiredLast = v
	s.desiredLastTimestamp = s.clock
	s.rtLast = v
	s.rtTimestamp = s.clock
}

// Snapshot is a copy of the safety state for callers and reports.
type Snapshot struct {
	ControlsAllowed      bool    `json:"controls_allowed"`
	RelayMalfunction     bool    `json:"relay_malfunction"`
	Lagging              bool    `json:"lagging"`
	VehicleMoving        bool    `json:"vehicle_moving"`
	VehicleSpeed         float64 `json:"vehicle_speed"`
	BrakePressed         bool    `json:"brake_pressed"`
	GasPressed           bool    `json:"gas_pressed"`
	CruiseEngaged        bool    `json:"cruise_engaged"`
	DriverTorqueMin      int     `json:"driver_torque_min"`
	DriverTorqueMax      int     `json:"driver_torque_max"`
	DesiredLast          int     `json:"desired_last"`
	DesiredLastTimestamp uint32  `json:"desired_last_timestamp"`
	Clock                uint32  `json:"clock"`
}

func (s *State) snapshot() Snapshot {
	return Snapshot{
		ControlsAllowed:      s.controlsAllowed,
		RelayMalfunction:     s.relayMalfunction,
		Lagging:              s.lagging,
		VehicleMoving:        s.vehicleMoving,
		VehicleSpeed:         s.vehicleSpeed,
		BrakePressed:         s.brakePressed,
		GasPressed:           s.gasPressed,
		CruiseEngaged:        s.cruiseEngaged,
		DriverTorqueMin:      s.driverTorque.min,
		DriverTorqueMax:      s.driverTorque.max,
		DesiredLast:          s.desiredLast,
		DesiredLastTimestamp: s.desiredLastTimestamp,
		Clock:                s.clock,
	}
}

// checkTorque applies the rate, real-time and driver or measurement bounds
// to a torque command and records it when accepted.
func (s *State) checkTorque(l *TorqueLimits, cmd Command) error {
	v := cmd.Value
	if !s.controlsAllowed {
		if v != 0 {
			return ErrControlsNotAllowed
		}
		s.resetDesired(0)
		return nil
	}
	if !cmd.Request && v != 0 {
		return ErrNotNeutral
	}
	if v > l.Max || v < -l.Max {
		return ErrMagnitudeExceeded
	}

	up := l.Windup.Units(s.vehicleSpeed, 1)
	down := l.Unwind.Units(s.vehicleSpeed, 1)
	last := s.desiredLast
	// growth away from zero is bounded by windup, decay toward it by unwind
	var highest, lowest int
	switch {
	case last > 0:
		highest, lowest = last+up, last-down
	case last < 0:
		highest, lowest = last+down, last-up
	default:
		highest, lowest = up, -up
	}

	switch l.Mode {
	case MeasurementLimited:
		highest = min(highest, max(last-down, max(s.torqueMeas.max, 0)+l.MaxError))
		lowest = max(lowest, min(last+down, min(s.torqueMeas.min, 0)-l.MaxError))
	default:
		driverMax := l.Max + (l.DriverAllowance+s.driverTorque.max)*l.DriverFactor
		driverMin := -l.Max + (-l.DriverAllowance+s.driverTorque.min)*l.DriverFactor
		highest = min(highest, max(last-down, max(driverMax, 0)))
		lowest = max(lowest, min(last+down, min(driverMin, 0)))
	}
	if v > highest || v < lowest {
		return ErrRateLimitExceeded
	}

	if l.MaxRTDelta > 0 {
		if err := s.checkRealtime(v, l.MaxRTDelta, l.RTInterval); err != nil {
			return err
		}
	}

	s.acceptDesired(v)
	return nil
}

// checkAngle bounds an angle or curvature command by the windup and unwind
// curves at the current speed and records it when accepted.
func (s *State) checkAngle(l *AngleLimits, cmd Command) error {
	v := cmd.Value
	if cmd.Request {
		if !s.controlsAllowed {
			return ErrControlsNotAllowed
		}
		if l.Max > 0 && (v > l.Max || v < -l.Max) {
			return ErrMagnitudeExceeded
		}

		up := l.Windup.Units(s.vehicleSpeed, l.Scale)
		down := l.Unwind.Units(s.vehicleSpeed, l.Scale)
		last := s.desiredLast
		var highest, lowest int
		switch {
		case last > 0:
			highest, lowest = last+up, last-down
		case last < 0:
			highest, lowest = last+down, last-up
		default:
			highest, lowest = up, -up
		}
		if v > highest || v < lowest {
			return ErrRateLimitExceeded
		}

		if l.MaxMeasError > 0 && s.vehicleSpeed > l.MeasErrorMinSpeed &&
			(v > s.angleMeas.max+l.MaxMeasError || v < s.angleMeas.min-l.MaxMeasError) {
			return ErrMeasurementDeviation
		}
		if l.MaxRTDelta > 0 {
			if err := s.checkRealtime(v, l.MaxRTDelta, l.RTInterval); err != nil {
				return err
			}
		}

		s.acceptDesired(v)
		return nil
	}

	if l.InactiveIsZero {
		if v != 0 {
			return ErrNotNeutral
		}
	} else if v > s.angleMeas.max+1 || v < s.angleMeas.min-1 {
		return ErrNotNeutral
	}
	s.resetDesired(v)
	return nil
}

// checkRealtime bounds v around the value accepted at the start of the
// current real-time window. A new window starts from the last accepted value
// once interval ticks have passed.
func (s *State) checkRealtime(v, delta int, interval uint32) error {
	if s.clock-s.rtTimestamp > interval {
		s.rtLast = s.desiredLast
		s.rtTimestamp = s.clock
	}
	if v > max(s.rtLast, 0)+delta || v < min(s.rtLast, 0)-delta {
		return ErrRealtimeDeltaExceeded
	}
	return nil
}

// checkAccel accepts the inactive value at any time and in-range values only
// while armed without the gas pressed.
func (s *State) checkAccel(l AccelLimits, v int) error {
	if v == l.Inactive {
		return nil
	}
	if !s.controlsAllowed || s.gasPressed {
		return ErrControlsNotAllowed
	}
	if v > l.Max || v < l.Min {
		return ErrMagnitudeExceeded
	}
	return nil
}

// AccelCheck bounds each acceleration value decoded from the frame.
func AccelCheck(l AccelLimits, decode ...func(f can.Frame) int) Check {
	return func(s *State, f can.Frame) error {
		for _, d := range decode {
			if err := s.checkAccel(l, d(f)); err != nil {
				return err
			}
		}
		return nil
	}
}

// InertCheck blocks frames that request anything.
func InertCheck(inert func(f can.Frame) bool) Check {
	return func(s *State, f can.Frame) error {
		if !inert(f) {
			return ErrCommandBlocked
		}
		return nil
	}
}

// ArmedOnlyCheck blocks frames for which active reports true while disarmed.
func ArmedOnlyCheck(active func(f can.Frame) bool) Check {
	return func(s *State, f can.Frame) error {
		if active(f) && !s.controlsAllowed {
			return ErrControlsNotAllowed
		}
		return nil
	}
}
