package safety

import (
	"github.com/awer25/pandaop/can"
	"github.com/awer25/pandaop/units"
)

// TeslaParamLongitudinal hands acceleration control to the driving stack.
const TeslaParamLongitudinal uint16 = 1

const (
	teslaSteeringControl = 0x488
	teslaDASControl      = 0x2B9
	teslaRightStalk      = 0x229

	teslaIBSTStatus     = 0x39D
	teslaESPB           = 0x145
	teslaDISystemStatus = 0x118
	teslaDIState        = 0x286
	teslaEPASSysStatus  = 0x370
)

var teslaAngleLimits = AngleLimits{
	Scale: 10,
	Windup: MustCurve(
		Breakpoint{0, 10},
		Breakpoint{5, 1.6},
		Breakpoint{15, 0.3},
	),
	Unwind: MustCurve(
		Breakpoint{0, 10},
		Breakpoint{5, 7},
		Breakpoint{15, 0.8},
	),
}

var teslaLongLimits = AccelLimits{Max: 2200, Min: -5120, Inactive: 0}

// teslaHandler carries an address-sum checksum and a nibble counter.
func teslaHandler(addr uint32, checksumIdx, counterIdx int, period uint32, update func(p *Profile, s *State, f can.Frame)) Handler {
	return Handler{
		Route:          route(addr, 0),
		Len:            8,
		Checksum:       addrSumChecksumAt(checksumIdx),
		Counter:        nibbleCounterAt(counterIdx),
		MaxCounter:     15,
		ExpectedPeriod: period,
		TrustBearing:   true,
		Update:         update,
	}
}

func teslaAccelLimits(f can.Frame) (minAccel, maxAccel int) {
	return int(f.Bits(35, 9))*40 - 15000, int(f.Bits(44, 9))*40 - 15000
}

func teslaProfile(param uint16) Profile {
	long := param&TeslaParamLongitudinal != 0

	p := Profile{
		Name:             "tesla",
		TxAllow:          []can.Route{route(teslaSteeringControl, 0), route(teslaDASControl, 0), route(teslaRightStalk, 1)},
		ForwardTable:     bridge(),
		ForwardBlock:     routes(2, teslaSteeringControl),
		RelayMalfunction: routes(0, teslaSteeringControl),
		Thresholds:       Thresholds{Standstill: units.KMHToMPS(1), Gas: 3},
	}
	if long {
		p.ForwardBlock = append(p.ForwardBlock, route(teslaDASControl, 2))
		p.RelayMalfunction = append(p.RelayMalfunction, route(teslaDASControl, 0))
	}

	p.Handlers = []Handler{
		teslaHandler(teslaIBSTStatus, 0, 1, 20000, func(p *Profile, s *State, f can.Frame) {
			s.setBrakeSource(0, f.Byte(2)&0x3 == 2)
		}),
		teslaHandler(teslaESPB, 7, 6, 20000, func(p *Profile, s *State, f can.Frame) {
			s.setSpeed(units.KMHToMPS(float64(f.Bytes(2, 2))*0.01), p.Thresholds.Standstill)
			s.vehicleMoving = !f.Bit(32)
		}),
		teslaHandler(teslaDISystemStatus, 0, 1, 10000, func(p *Profile, s *State, f can.Frame) {
			s.setGasSource(0, float64(f.Byte(4))*0.4 > p.Thresholds.Gas)
		}),
		teslaHandler(teslaDIState, 0, 1, 100000, func(p *Profile, s *State, f can.Frame) {
			state := (f.Byte(2) >> 1) & 0xF
			s.cruiseAvailable = true
			s.updateCruise(state == 2 || state == 3)
		}),
		{
			// the camera's own DAS_control, watched for stock AEB events
			Route: route(teslaDASControl, 2),
			Len:   8,
			Update: func(p *Profile, s *State, f can.Frame) {
				s.stockAEB = f.Byte(2)&0x3 == 1
			},
		},
		func() Handler {
			h := teslaHandler(teslaEPASSysStatus, 7, 6, 10000, func(p *Profile, s *State, f can.Frame) {
				s.angleMeas.update((int(f.Byte(4)&0x3F)<<8 | int(f.Byte(5))) - 8192)
			})
			h.Quality = func(f can.Frame) bool { return (f.Byte(3)>>6)&1 == 1 }
			return h
		}(),
	}

	controlChecks := []Check{
		func(s *State, f can.Frame) error {
			if s.stockAEB || f.Byte(2)&0x3 != 0 {
				return ErrCommandBlocked
			}
			return nil
		},
	}
	if long {
		controlChecks = append(controlChecks, AccelCheck(teslaLongLimits,
			func(f can.Frame) int {
				lo, _ := teslaAccelLimits(f)
				return lo
			},
			func(f can.Frame) int {
				_, hi := teslaAccelLimits(f)
				return hi
			},
		))
	} else {
		controlChecks = append(controlChecks, func(s *State, f can.Frame) error {
			lo, hi := teslaAccelLimits(f)
			if lo != teslaLongLimits.Inactive || hi != teslaLongLimits.Inactive {
				return ErrCommandBlocked
			}
			return nil
		})
	}

	p.Actuators = []Actuator{
		{
			Route: route(teslaSteeringControl, 0),
			Decode: func(f can.Frame) Command {
				return Command{
					Value:   (int(f.Byte(0)&0x7F)<<8 | int(f.Byte(1))) - 16384,
					Request: f.Byte(2)>>6 == 1,
				}
			},
			Angle: &teslaAngleLimits,
		},
		{Route: route(teslaDASControl, 0), Checks: controlChecks},
		{
			// Only idle and half up (cancel) are sent.
			Route: route(teslaRightStalk, 1),
			Checks: []Check{InertCheck(func(f can.Frame) bool {
				return f.Byte(1)&0x7 <= 1
			})},
		},
	}
	return p
}
