package safety

import (
	"github.com/awer25/pandaop/can"
	"github.com/awer25/pandaop/units"
)

// Toyota param word.
const (
	ToyotaParamEPSFactorMask uint16 = 0xFF
	ToyotaParamAltBrake      uint16 = 0x100
	ToyotaParamStockLong     uint16 = 0x200
)

const (
	toyotaWheelSpeeds    = 0xAA
	toyotaTorqueSensor   = 0x260
	toyotaPCMCruise      = 0x1D2
	toyotaBrakeModule    = 0x224
	toyotaBrakeModuleAlt = 0x226
	toyotaGasSensor      = 0x201

	toyotaSteeringLKA  = 0x2E4
	toyotaSteeringLTA  = 0x191
	toyotaACCControl   = 0x343
	toyotaPreCollision = 0x283
	toyotaGasCommand   = 0x200

	toyotaInterceptorThreshold = 845
)

var toyotaSteeringLimits = TorqueLimits{
	Max:        1500,
	Windup:     ConstantCurve(15),
	Unwind:     ConstantCurve(25),
	Mode:       MeasurementLimited,
	MaxRTDelta: 450,
	RTInterval: 250000,
	MaxError:   350,
}

var toyotaLongLimits = AccelLimits{Max: 2000, Min: -3500, Inactive: 0}

// toyotaChecksum sums the address, the length and every byte but the last,
// which carries the checksum.
func toyotaChecksum(f can.Frame) bool {
	if f.Len == 0 {
		return false
	}
	sum := uint8(f.Address) + uint8(f.Address>>8) + f.Len
	for i := 0; i < int(f.Len)-1; i++ {
		sum += f.Byte(i)
	}
	return f.Byte(int(f.Len)-1) == sum
}

func toyotaSigned16(f can.Frame, hi int) int {
	return can.ToSigned(uint32(f.Byte(hi))<<8|uint32(f.Byte(hi+1)), 16)
}

func toyotaProfile(param uint16) Profile {
	epsFactor := int(param & ToyotaParamEPSFactorMask)
	if epsFactor == 0 {
		epsFactor = 100
	}
	stockLong := param&ToyotaParamStockLong != 0
	brakeAddr := uint32(toyotaBrakeModule)
	brakeBit := 5
	if param&ToyotaParamAltBrake != 0 {
		brakeAddr, brakeBit = toyotaBrakeModuleAlt, 37
	}

	p := Profile{
		Name:             "toyota",
		ForwardTable:     bridge(),
		ForwardBlock:     routes(2, toyotaSteeringLKA, 0x412, toyotaSteeringLTA),
		RelayMalfunction: routes(0, toyotaSteeringLKA),
		Thresholds:       Thresholds{Standstill: units.KMHToMPS(1), Gas: toyotaInterceptorThreshold},
	}

	p.TxAllow = append(p.TxAllow, routes(0, toyotaPreCollision, 0x2E6, 0x2E7, 0x33E, 0x344, 0x365, 0x366, 0x4CB)...)
	p.TxAllow = append(p.TxAllow, routes(1, 0x128, 0x141, 0x160, 0x161, 0x470)...)
	p.TxAllow = append(p.TxAllow, routes(0, toyotaSteeringLKA, toyotaSteeringLTA, 0x411, 0x412, toyotaPCMCruise, toyotaGasCommand, 0x750)...)
	if !stockLong {
		p.TxAllow = append(p.TxAllow, route(toyotaACCControl, 0))
		p.ForwardBlock = append(p.ForwardBlock, route(toyotaACCControl, 2))
	}

	p.Handlers = []Handler{
		{
			Route:          route(toyotaWheelSpeeds, 0),
			Len:            8,
			ExpectedPeriod: 12000,
			TrustBearing:   true,
			Update: func(p *Profile, s *State, f can.Frame) {
				sum := 0
				for i := 0; i < 8; i += 2 {
					sum += (int(f.Byte(i))<<8 | int(f.Byte(i+1))) - 0x1a6f
				}
				kmh := float64(sum) / 4 * 0.01
				s.setSpeed(units.KMHToMPS(kmh), p.Thresholds.Standstill)
			},
		},
		{
			Route:          route(toyotaTorqueSensor, 0),
			Len:            8,
			Checksum:       toyotaChecksum,
			ExpectedPeriod: 20000,
			TrustBearing:   true,
			Update: func(p *Profile, s *State, f can.Frame) {
				s.driverTorque.update(toyotaSigned16(f, 1))
				s.torqueMeas.update(toyotaSigned16(f, 5) * epsFactor / 100)
				s.torqueMeas.widen(1)
			},
		},
		{
			Route:          route(toyotaPCMCruise, 0),
			Len:            8,
			Checksum:       toyotaChecksum,
			ExpectedPeriod: 33000,
			TrustBearing:   true,
			Update: func(p *Profile, s *State, f can.Frame) {
				s.setGasSource(0, !f.Bit(4))
				s.cruiseAvailable = true
				s.updateCruise(f.Bit(5))
			},
		},
		{
			Route:          route(brakeAddr, 0),
			Len:            8,
			ExpectedPeriod: 25000,
			TrustBearing:   true,
			Update: func(p *Profile, s *State, f can.Frame) {
				s.setBrakeSource(0, f.Bit(brakeBit))
			},
		},
		{
			Route: route(toyotaGasSensor, 0),
			Len:   6,
			Update: func(p *Profile, s *State, f can.Frame) {
				gas := ((int(f.Byte(0))<<8 | int(f.Byte(1))) + (int(f.Byte(2))<<8 | int(f.Byte(3)))) / 2
				s.setGasSource(1, float64(gas) > p.Thresholds.Gas)
			},
		},
	}

	p.Actuators = []Actuator{
		{
			Route: route(toyotaSteeringLKA, 0),
			Decode: func(f can.Frame) Command {
				return Command{Value: toyotaSigned16(f, 1), Request: f.Bit(0)}
			},
			Torque: &toyotaSteeringLimits,
		},
		{
			Route: route(toyotaSteeringLTA, 0),
			Checks: []Check{InertCheck(func(f can.Frame) bool {
				return !f.Bit(0) && !f.Bit(25) && toyotaSigned16(f, 1) == 0
			})},
		},
		{
			Route: route(toyotaPreCollision, 0),
			Checks: []Check{InertCheck(func(f can.Frame) bool {
				return f.Bytes(0, 4) == 0 && f.Bytes(4, 2) == 0
			})},
		},
		{
			Route: route(toyotaGasCommand, 0),
			Checks: []Check{ArmedOnlyCheck(func(f can.Frame) bool {
				return f.Byte(0) != 0 || f.Byte(1) != 0
			})},
		},
	}
	if !stockLong {
		p.Actuators = append(p.Actuators, Actuator{
			Route: route(toyotaACCControl, 0),
			Checks: []Check{AccelCheck(toyotaLongLimits, func(f can.Frame) int {
				return toyotaSigned16(f, 0)
			})},
		})
	}
	return p
}
