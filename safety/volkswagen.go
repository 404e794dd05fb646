package safety

import (
	"github.com/awer25/pandaop/can"
	"github.com/awer25/pandaop/units"
	"github.com/sigurn/crc8"
)

// VolkswagenParamLongitudinal hands acceleration control to the driving stack.
const VolkswagenParamLongitudinal uint16 = 1

const (
	vwESP19    = 0xB2
	vwLHEPS03  = 0x9F
	vwESP05    = 0x106
	vwTSK06    = 0x120
	vwMotor20  = 0x121
	vwACC06    = 0x122
	vwHCA01    = 0x126
	vwGRAACC01 = 0x12B
	vwACC07    = 0x12E
	vwACC02    = 0x30C
	vwLDW02    = 0x397
	vwMotor14  = 0x3BE

	vwButtonSet    = 16
	vwButtonResume = 19
	vwButtonCancel = 13
)

var vwTorqueLimits = TorqueLimits{
	Max:             300,
	Windup:          ConstantCurve(4),
	Unwind:          ConstantCurve(10),
	Mode:            DriverLimited,
	MaxRTDelta:      75,
	RTInterval:      250000,
	DriverAllowance: 80,
	DriverFactor:    3,
}

// One increment above the max range is sent while inactive.
var vwLongLimits = AccelLimits{Max: 2000, Min: -3500, Inactive: 3010}

var vwCRCTable = crc8.MakeTable(crc8.Params{
	Poly:   0x2F,
	Init:   0xFF,
	XorOut: 0xFF,
	Check:  0xDF,
	Name:   "CRC-8/AUTOSAR",
})

// vwMagicBytes are the per-message data IDs folded into the CRC after the
// payload.
var vwMagicBytes = map[uint32]byte{
	vwLHEPS03:  0xF5,
	vwESP05:    0x07,
	vwTSK06:    0xC4,
	vwMotor20:  0xE9,
	vwGRAACC01: 0x6A,
}

// vwChecksum verifies the AUTOSAR CRC in byte 0.
func vwChecksum(f can.Frame) bool {
	if f.Len < 2 {
		return false
	}
	magic := [1]byte{vwMagicBytes[f.Address]}
	crc := crc8.Init(vwCRCTable)
	crc = crc8.Update(crc, f.Data[1:f.Len], vwCRCTable)
	crc = crc8.Update(crc, magic[:], vwCRCTable)
	return crc8.Complete(crc, vwCRCTable) == f.Data[0]
}

func vwHandler(addr uint32, period uint32, update func(p *Profile, s *State, f can.Frame)) Handler {
	return Handler{
		Route:          route(addr, 0),
		Len:            8,
		Checksum:       vwChecksum,
		Counter:        nibbleCounterAt(1),
		MaxCounter:     15,
		ExpectedPeriod: period,
		TrustBearing:   true,
		Update:         update,
	}
}

// vwDriverTorque decodes the absolute torque and direction of LH_EPS_03.
func vwDriverTorque(f can.Frame) int {
	torque := int(f.Byte(5)) | int(f.Byte(6)&0x1F)<<8
	if f.Byte(6)&0x80 != 0 {
		return -torque
	}
	return torque
}

func vwSetResume(f can.Frame) bool {
	return f.Bit(vwButtonSet) || f.Bit(vwButtonResume)
}

// vwAccel decodes a 0.005 m/s² acceleration with a -7.22 offset.
func vwAccel(raw uint32) int {
	return int(raw)*5 - 7220
}

func volkswagenMQBProfile(param uint16) Profile {
	long := param&VolkswagenParamLongitudinal != 0

	p := Profile{
		Name:             "volkswagen_mqb",
		ForwardTable:     bridge(),
		ForwardBlock:     routes(2, vwHCA01, vwLDW02),
		RelayMalfunction: routes(0, vwHCA01),
	}
	if long {
		p.TxAllow = routes(0, vwHCA01, vwLDW02, vwACC02, vwACC06, vwACC07)
		p.ForwardBlock = append(p.ForwardBlock, routes(2, vwACC02, vwACC06, vwACC07)...)
	} else {
		p.TxAllow = append(routes(0, vwHCA01, vwGRAACC01, vwLDW02), route(vwGRAACC01, 2))
	}

	p.Handlers = []Handler{
		{
			Route:          route(vwESP19, 0),
			Len:            8,
			ExpectedPeriod: 10000,
			TrustBearing:   true,
			Update: func(p *Profile, s *State, f can.Frame) {
				var sum uint32
				for i := 0; i < 8; i += 2 {
					sum += f.Bytes(i, 2)
				}
				s.setSpeed(units.KMHToMPS(float64(sum)/4*0.0075), p.Thresholds.Standstill)
			},
		},
		vwHandler(vwLHEPS03, 10000, func(p *Profile, s *State, f can.Frame) {
			s.driverTorque.update(vwDriverTorque(f))
		}),
		vwHandler(vwESP05, 20000, func(p *Profile, s *State, f can.Frame) {
			s.setBrakeSource(1, f.Bit(26))
		}),
		vwHandler(vwTSK06, 20000, func(p *Profile, s *State, f can.Frame) {
			status := f.Byte(3) & 0x7
			engaged := status == 3 || status == 4 || status == 5
			s.cruiseAvailable = engaged || status == 2
			if !long {
				s.updateCruise(engaged)
			}
			if !s.cruiseAvailable {
				s.controlsAllowed = false
			}
		}),
		vwHandler(vwMotor20, 20000, func(p *Profile, s *State, f can.Frame) {
			s.setGasSource(0, (f.Bytes(0, 4)>>12)&0xFF != 0)
		}),
		{
			Route:          route(vwMotor14, 0),
			Len:            8,
			ExpectedPeriod: 100000,
			TrustBearing:   true,
			Update: func(p *Profile, s *State, f can.Frame) {
				s.setBrakeSource(0, f.Bit(28))
			},
		},
		{
			Route: route(vwGRAACC01, 0),
			Update: func(p *Profile, s *State, f can.Frame) {
				if long {
					var pressed uint8
					if f.Bit(vwButtonSet) {
						pressed |= 1
					}
					if f.Bit(vwButtonResume) {
						pressed |= 2
					}
					if s.buttonsReleased(pressed, 3) {
						s.armOnRequest()
					}
				}
				if f.Bit(vwButtonCancel) {
					s.controlsAllowed = false
				}
			},
		},
	}

	p.Actuators = []Actuator{
		{
			Route: route(vwHCA01, 0),
			Decode: func(f can.Frame) Command {
				torque := int(f.Byte(2)) | int(f.Byte(3)&0x1)<<8
				if f.Bit(31) {
					torque = -torque
				}
				return Command{Value: torque, Request: f.Bit(30)}
			},
			Torque: &vwTorqueLimits,
		},
	}
	if long {
		p.Actuators = append(p.Actuators,
			Actuator{
				Route: route(vwACC06, 0),
				Checks: []Check{AccelCheck(vwLongLimits, func(f can.Frame) int {
					return vwAccel(uint32(f.Byte(4)&0x7)<<8 | uint32(f.Byte(3)))
				})},
			},
			Actuator{
				Route: route(vwACC07, 0),
				Checks: []Check{
					func(s *State, f can.Frame) error {
						// secondary acceleration is always held inactive
						if int(f.Byte(4))*30-4600 != 3020 {
							return ErrCommandBlocked
						}
						return nil
					},
					AccelCheck(vwLongLimits, func(f can.Frame) int {
						return vwAccel(uint32(f.Byte(7))<<3 | uint32(f.Byte(6)&0xE0)>>5)
					}),
				},
			},
		)
	} else {
		for _, bus := range []uint8{0, 2} {
			p.Actuators = append(p.Actuators, Actuator{
				Route:  route(vwGRAACC01, bus),
				Checks: []Check{ArmedOnlyCheck(vwSetResume)},
			})
		}
	}
	return p
}
