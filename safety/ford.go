package safety

import (
	"math"

	"github.com/awer25/pandaop/can"
	"github.com/awer25/pandaop/units"
)

const (
	fordEngBrakeData          = 0x165
	fordEngVehicleSpThrottle  = 0x204
	fordBrakeSysFeatures      = 0x415
	fordEngVehicleSpThrottle2 = 0x202
	fordYawDataFD1            = 0x91
	fordDesiredTorqBrk        = 0x213

	fordSteeringDataFD1      = 0x083
	fordACCData3             = 0x18A
	fordLaneAssistData1      = 0x3CA
	fordLateralMotionControl = 0x3D3
	fordIPMAData             = 0x3D8

	// maximum disagreement between the two vehicle speed sources, m/s
	fordMaxSpeedDelta = 2.0

	fordCurvatureScale = 50000
)

var fordCurvatureLimits = AngleLimits{
	Scale: fordCurvatureScale,
	Windup: MustCurve(
		Breakpoint{5, 0.0002},
		Breakpoint{25, 0.0001},
	),
	Unwind: MustCurve(
		Breakpoint{5, 0.000225},
		Breakpoint{25, 0.00015},
	),
	Max:               1000,
	MaxMeasError:      100,
	MeasErrorMinSpeed: 10,
	InactiveIsZero:    true,
}

// fordInvertedSum is the checksum shared by the speed and yaw messages.
func fordInvertedSum(values ...uint8) uint8 {
	var sum uint8
	for _, v := range values {
		sum += v
	}
	return 0xFF - sum
}

func fordSpeedKMH(hi, lo uint8) float64 {
	return float64(int(hi)<<8|int(lo)) * 0.01
}

func fordProfile(param uint16) Profile {
	p := Profile{
		Name: "ford",
		TxAllow: []can.Route{
			route(fordSteeringDataFD1, 0),
			route(fordSteeringDataFD1, 2),
			route(fordACCData3, 0),
			route(fordLaneAssistData1, 0),
			route(fordLateralMotionControl, 0),
			route(fordIPMAData, 0),
		},
		ForwardTable:       bridge(),
		ForwardBlock:       routes(2, fordACCData3, fordLaneAssistData1, fordLateralMotionControl, fordIPMAData),
		RelayMalfunction:   routes(0, fordIPMAData),
		Thresholds:         Thresholds{Standstill: units.KMHToMPS(1)},
		QualityFlagDisarms: true,
	}

	p.Handlers = []Handler{
		{
			Route:          route(fordEngBrakeData, 0),
			Len:            8,
			ExpectedPeriod: 100000,
			TrustBearing:   true,
			Update: func(p *Profile, s *State, f can.Frame) {
				s.setBrakeSource(0, (f.Byte(0)>>4)&0x3 == 2)
				status := f.Byte(1) & 0x7
				s.cruiseAvailable = true
				s.updateCruise(status == 4 || status == 5)
			},
		},
		{
			Route:          route(fordEngVehicleSpThrottle, 0),
			Len:            8,
			ExpectedPeriod: 10000,
			TrustBearing:   true,
			Update: func(p *Profile, s *State, f can.Frame) {
				s.setGasSource(0, int(f.Byte(0)&0x3)<<8|int(f.Byte(1)) != 0)
			},
		},
		{
			Route: route(fordBrakeSysFeatures, 0),
			Len:   8,
			Checksum: func(f can.Frame) bool {
				return f.Byte(3) == fordInvertedSum(f.Byte(0), f.Byte(1), (f.Byte(2)>>2)&0xF, f.Byte(2)>>6)
			},
			Counter:        func(f can.Frame) uint8 { return (f.Byte(2) >> 2) & 0xF },
			MaxCounter:     15,
			Quality:        func(f can.Frame) bool { return f.Byte(2)>>6 == 3 },
			ExpectedPeriod: 20000,
			TrustBearing:   true,
			Update: func(p *Profile, s *State, f can.Frame) {
				s.vehicleSpeed = units.KMHToMPS(fordSpeedKMH(f.Byte(0), f.Byte(1)))
			},
		},
		{
			Route: route(fordEngVehicleSpThrottle2, 0),
			Len:   8,
			Checksum: func(f can.Frame) bool {
				return f.Byte(1) == fordInvertedSum((f.Byte(2)>>3)&0xF, (f.Byte(4)>>5)&0x3, f.Byte(6), f.Byte(7))
			},
			Counter:        func(f can.Frame) uint8 { return (f.Byte(2) >> 3) & 0xF },
			MaxCounter:     15,
			Quality:        func(f can.Frame) bool { return (f.Byte(4)>>5)&0x3 == 3 },
			ExpectedPeriod: 20000,
			TrustBearing:   true,
			Update: func(p *Profile, s *State, f can.Frame) {
				speed := units.KMHToMPS(fordSpeedKMH(f.Byte(6), f.Byte(7)))
				if math.Abs(speed-s.vehicleSpeed) > fordMaxSpeedDelta {
					s.controlsAllowed = false
				}
			},
		},
		{
			Route: route(fordYawDataFD1, 0),
			Len:   8,
			Checksum: func(f can.Frame) bool {
				return f.Byte(4) == fordInvertedSum(f.Byte(0), f.Byte(1), f.Byte(2), f.Byte(3),
					f.Byte(5), f.Byte(6)>>6, (f.Byte(6)>>4)&0x3)
			},
			Counter:    func(f can.Frame) uint8 { return f.Byte(5) },
			MaxCounter: 255,
			Quality: func(f can.Frame) bool {
				return f.Byte(6)>>6 == 3 && (f.Byte(6)>>4)&0x3 == 3
			},
			ExpectedPeriod: 10000,
			TrustBearing:   true,
			Update: func(p *Profile, s *State, f can.Frame) {
				yaw := float64(int(f.Byte(2))<<8|int(f.Byte(3)))*0.0002 - 6.5
				curvature := 0.0
				if s.vehicleSpeed > 0.01 {
					curvature = yaw / s.vehicleSpeed
				}
				s.angleMeas.update(int(math.Round(curvature * fordCurvatureScale)))
			},
		},
		{
			Route: route(fordDesiredTorqBrk, 0),
			Len:   8,
			Update: func(p *Profile, s *State, f can.Frame) {
				s.vehicleMoving = (f.Byte(3)>>3)&0x3 != 1
			},
		},
	}

	p.Actuators = []Actuator{
		{
			Route: route(fordLateralMotionControl, 0),
			Decode: func(f can.Frame) Command {
				return Command{
					Value:   (int(f.Byte(0))<<3 | int(f.Byte(1)>>5)) - 1000,
					Request: (f.Byte(6)>>3)&0x7 != 0,
				}
			},
			Angle: &fordCurvatureLimits,
			Checks: []Check{InertCheck(func(f can.Frame) bool {
				rate := int(f.Byte(1)&0x1F)<<8 | int(f.Byte(2))
				pathAngle := int(f.Byte(3))<<3 | int(f.Byte(4)>>5)
				pathOffset := int(f.Byte(5))<<2 | int(f.Byte(6)>>6)
				return rate == 4096 && pathAngle == 1000 && pathOffset == 512
			})},
		},
		{
			Route: route(fordLaneAssistData1, 0),
			Checks: []Check{InertCheck(func(f can.Frame) bool {
				return (f.Byte(0)>>5)&0x7 == 0
			})},
		},
	}
	for _, bus := range []uint8{0, 2} {
		p.Actuators = append(p.Actuators, Actuator{
			Route:  route(fordSteeringDataFD1, bus),
			Checks: []Check{fordButtonCheck},
		})
	}
	return p
}

// fordButtonCheck allows cancel only while cruise is engaged and resume only
// while armed. The TJA toggle is always allowed.
func fordButtonCheck(s *State, f can.Frame) error {
	if f.Bit(16) && !s.cruiseEngaged {
		return ErrCommandBlocked
	}
	if f.Bit(17) && !s.controlsAllowed {
		return ErrControlsNotAllowed
	}
	return nil
}
