package safety

import (
	"github.com/awer25/pandaop/can"
	"github.com/awer25/pandaop/units"
)

// Subaru param flags.
const (
	SubaruParamGen2     uint16 = 1
	SubaruParamLKASAlt  uint16 = 2
	SubaruParamESStatus uint16 = 4
)

const (
	subaruMainBus = 0
	subaruAltBus  = 1
	subaruCamBus  = 2

	subaruThrottle       = 0x40
	subaruSteeringTorque = 0x119
	subaruWheelSpeeds    = 0x13A
	subaruBrakeStatus    = 0x13C
	subaruCruiseControl  = 0x240

	subaruESLKAS         = 0x122
	subaruESLKASAlt      = 0x124
	subaruESDistance     = 0x221
	subaruESStatus       = 0x222
	subaruESDashStatus   = 0x321
	subaruESLKASState    = 0x322
	subaruESInfotainment = 0x323
)

func subaruSteeringLimits(maxSteer int, up, down float64) TorqueLimits {
	return TorqueLimits{
		Max:             maxSteer,
		Windup:          ConstantCurve(up),
		Unwind:          ConstantCurve(down),
		Mode:            DriverLimited,
		MaxRTDelta:      940,
		RTInterval:      250000,
		DriverAllowance: 60,
		DriverFactor:    50,
	}
}

// subaruHandler carries the checksum in byte 0 and a nibble counter in byte 1.
func subaruHandler(addr uint32, bus uint8, period uint32, update func(p *Profile, s *State, f can.Frame)) Handler {
	return Handler{
		Route:          route(addr, bus),
		Len:            8,
		Checksum:       addrSumChecksumAt(0),
		Counter:        nibbleCounterAt(1),
		MaxCounter:     15,
		ExpectedPeriod: period,
		TrustBearing:   true,
		Update:         update,
	}
}

// subaruWheelSpeed averages the four 13-bit wheel speeds. The car is moving
// whenever any raw wheel speed is non-zero.
func subaruWheelSpeed(s *State, f can.Frame) {
	var sum uint64
	for _, start := range []int{12, 25, 38, 51} {
		sum += f.Bits(start, 13)
	}
	s.setSpeed(units.KMHToMPS(float64(sum)/4*0.057), 0)
	s.vehicleMoving = sum != 0
}

func subaruProfile(param uint16) Profile {
	gen2 := param&SubaruParamGen2 != 0
	lkasAlt := param&SubaruParamLKASAlt != 0
	esStatus := param&SubaruParamESStatus != 0

	altBus := uint8(subaruMainBus)
	limits := subaruSteeringLimits(2047, 50, 70)
	if gen2 {
		altBus = subaruAltBus
		limits = subaruSteeringLimits(1000, 40, 40)
	}
	lkas := uint32(subaruESLKAS)
	decode := func(f can.Frame) Command {
		return Command{Value: -can.ToSigned((f.Bytes(0, 4)>>16)&0x1FFF, 13), Request: true}
	}
	if lkasAlt && !gen2 {
		lkas = subaruESLKASAlt
		limits = subaruSteeringLimits(2047, 50, 70)
		decode = func(f can.Frame) Command {
			return Command{Value: -can.ToSigned((f.Bytes(4, 4)>>8)&0x3FFFF, 17), Request: true}
		}
	}

	p := Profile{
		Name: "subaru",
		TxAllow: []can.Route{
			route(lkas, subaruMainBus),
			route(subaruESDistance, altBus),
			route(subaruESDashStatus, subaruMainBus),
			route(subaruESLKASState, subaruMainBus),
			route(subaruESInfotainment, subaruMainBus),
		},
		ForwardTable:     bridge(),
		ForwardBlock:     routes(subaruCamBus, lkas, subaruESDashStatus, subaruESLKASState, subaruESInfotainment),
		RelayMalfunction: routes(subaruMainBus, lkas),
		Handlers: []Handler{
			subaruHandler(subaruThrottle, subaruMainBus, 10000, func(p *Profile, s *State, f can.Frame) {
				s.setGasSource(0, f.Byte(4) != 0)
			}),
			subaruHandler(subaruSteeringTorque, subaruMainBus, 20000, func(p *Profile, s *State, f can.Frame) {
				s.driverTorque.update(-can.ToSigned((f.Bytes(0, 4)>>16)&0x7FF, 11))
			}),
			subaruHandler(subaruWheelSpeeds, altBus, 20000, func(p *Profile, s *State, f can.Frame) {
				subaruWheelSpeed(s, f)
			}),
			subaruHandler(subaruBrakeStatus, altBus, 20000, func(p *Profile, s *State, f can.Frame) {
				s.setBrakeSource(0, f.Bit(62))
			}),
		},
		Actuators: []Actuator{
			{Route: route(lkas, subaruMainBus), Decode: decode, Torque: &limits},
		},
	}

	if esStatus && !gen2 {
		p.Handlers = append(p.Handlers, subaruHandler(subaruESStatus, subaruCamBus, 50000, func(p *Profile, s *State, f can.Frame) {
			s.updateCruise(f.Bit(29))
		}))
	} else {
		p.Handlers = append(p.Handlers, subaruHandler(subaruCruiseControl, altBus, 50000, func(p *Profile, s *State, f can.Frame) {
			s.updateCruise(f.Bit(41))
		}))
	}
	return p
}

const (
	subaruLegacyThrottle       = 0x140
	subaruLegacyCruiseControl  = 0x144
	subaruLegacyWheelSpeeds    = 0xD4
	subaruLegacyBrakePedal     = 0xD1
	subaruLegacySteeringTorque = 0x371
	subaruLegacyESLKAS         = 0x164
	subaruLegacyESDistance     = 0x161
)

var subaruLegacySteeringLimits = TorqueLimits{
	Max:             2047,
	Windup:          ConstantCurve(50),
	Unwind:          ConstantCurve(70),
	Mode:            DriverLimited,
	MaxRTDelta:      940,
	RTInterval:      250000,
	DriverAllowance: 75,
	DriverFactor:    10,
}

// subaruLegacyProfile covers the preglobal platform, whose messages carry
// no checksum or counter.
func subaruLegacyProfile(param uint16) Profile {
	rx := func(addr uint32, period uint32, update func(p *Profile, s *State, f can.Frame)) Handler {
		return Handler{
			Route:          route(addr, 0),
			Len:            8,
			ExpectedPeriod: period,
			TrustBearing:   period != 0,
			Update:         update,
		}
	}

	return Profile{
		Name:             "subaru_legacy",
		TxAllow:          routes(0, subaruLegacyESDistance, subaruLegacyESLKAS),
		ForwardTable:     bridge(),
		ForwardBlock:     routes(2, subaruLegacyESDistance, subaruLegacyESLKAS),
		RelayMalfunction: routes(0, subaruLegacyESLKAS),
		Handlers: []Handler{
			rx(subaruLegacyThrottle, 10000, func(p *Profile, s *State, f can.Frame) {
				s.setGasSource(0, f.Byte(0) != 0)
			}),
			rx(subaruLegacySteeringTorque, 20000, func(p *Profile, s *State, f can.Frame) {
				s.driverTorque.update(can.ToSigned(uint32(f.Byte(3)>>5)+uint32(f.Byte(4))<<3, 11))
			}),
			rx(subaruLegacyCruiseControl, 50000, func(p *Profile, s *State, f can.Frame) {
				s.updateCruise(f.Bit(49))
			}),
			rx(subaruLegacyWheelSpeeds, 0, func(p *Profile, s *State, f can.Frame) {
				subaruWheelSpeed(s, f)
			}),
			rx(subaruLegacyBrakePedal, 0, func(p *Profile, s *State, f can.Frame) {
				s.setBrakeSource(0, (f.Bytes(0, 4)>>16)&0xFF > 0)
			}),
		},
		Actuators: []Actuator{
			{
				Route: route(subaruLegacyESLKAS, 0),
				Decode: func(f can.Frame) Command {
					return Command{Value: -can.ToSigned((f.Bytes(0, 4)>>8)&0x1FFF, 13), Request: true}
				},
				Torque: &subaruLegacySteeringLimits,
			},
		},
	}
}
