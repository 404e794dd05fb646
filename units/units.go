package units

import "errors"

// Unit describes the unit of a decoded signal value.
type Unit string

// The valid units.
const (
	// Velocity
	MPH Unit = "mph"
	KMH Unit = "km/h"
	MPS Unit = "m/s"

	// Angle
	Degrees Unit = "deg"
	Radians Unit = "rad"

	// Curvature
	PerMeter Unit = "1/m"

	// Acceleration
	MPS2 Unit = "m/s²"

	// Torque, in the vehicle's own CAN units
	TorqueCAN Unit = "can"
)

// ErrorInvalidConversion is returned when an invalid unit conversion attempt is made.
var ErrorInvalidConversion = errors.New("units are invalid for conversion")

// Parse returns the Unit matching s.
func Parse(s string) (Unit, error) {
	switch u := Unit(s); u {
	case MPH, KMH, MPS, Degrees, Radians, PerMeter, MPS2, TorqueCAN:
		return u, nil
	}
	return "", ErrorInvalidConversion
}

func Convert(value float64, from, to Unit) (float64, error) {
	if from == to {
		return value, nil
	}

	cvs := UnitConversions[from]
	if cvs == nil {
		return 0, ErrorInvalidConversion
	}

	cv := cvs[to]
	if cv == nil {
		return 0, ErrorInvalidConversion
	}

	return cv(value), nil
}

// KMHToMPS converts a speed in km/h to m/s.
func KMHToMPS(v float64) float64 {
	return v / 3.6
}

// UnitConversions provides conversion functions for the package-defined Units.
var UnitConversions = map[Unit]map[Unit]func(v float64) float64{
	MPH: {
		KMH: func(v float64) float64 {
			return v * 1.609344
		},
		MPS: func(v float64) float64 {
			return v * 0.44704
		},
	},
	KMH: {
		MPH: func(v float64) float64 {
			return v * 0.621371
		},
		MPS: KMHToMPS,
	},
	MPS: {
		KMH: func(v float64) float64 {
			return v * 3.6
		},
		MPH: func(v float64) float64 {
			return v / 0.44704
		},
	},
	Degrees: {
		Radians: func(v float64) float64 {
			return v * 0.017453292519943295
		},
	},
	Radians: {
		Degrees: func(v float64) float64 {
			return v * 57.29577951308232
		},
	},
}
