package safety

import (
	"github.com/awer25/pandaop/can"
	"github.com/awer25/pandaop/units"
)

const (
	mlbLHEPS03 = 0x9F
	mlbESP03   = 0x103
	mlbMotor03 = 0x105
	mlbESP05   = 0x106
	mlbLS01    = 0x10B
	mlbTSK02   = 0x10C
	mlbHCA01   = 0x126
	mlbLDW02   = 0x397
)

// volkswagenMLBProfile shares the MQB steering limits. Its messages are
// validated by length and timing only.
func volkswagenMLBProfile(param uint16) Profile {
	rx := func(addr uint32, period uint32, update func(p *Profile, s *State, f can.Frame)) Handler {
		return Handler{
			Route:          route(addr, 0),
			Len:            8,
			ExpectedPeriod: period,
			TrustBearing:   true,
			Update:         update,
		}
	}

	p := Profile{
		Name:             "volkswagen_mlb",
		TxAllow:          append(routes(0, mlbHCA01, mlbLDW02, mlbLS01), route(mlbLS01, 2)),
		ForwardTable:     bridge(),
		ForwardBlock:     routes(2, mlbHCA01, mlbLDW02),
		RelayMalfunction: routes(0, mlbHCA01),
		Handlers: []Handler{
			rx(mlbESP03, 10000, func(p *Profile, s *State, f can.Frame) {
				var sum uint32
				for i := 0; i < 8; i += 2 {
					sum += f.Bytes(i, 2)
				}
				s.setSpeed(units.KMHToMPS(float64(sum)/4*0.01), p.Thresholds.Standstill)
			}),
			rx(mlbLHEPS03, 10000, func(p *Profile, s *State, f can.Frame) {
				s.driverTorque.update(vwDriverTorque(f))
			}),
			rx(mlbMotor03, 10000, func(p *Profile, s *State, f can.Frame) {
				s.setBrakeSource(0, f.Bit(35))
				s.setGasSource(0, f.Byte(6) != 0)
			}),
			rx(mlbESP05, 20000, func(p *Profile, s *State, f can.Frame) {
				s.setBrakeSource(1, f.Bit(26))
			}),
			rx(mlbTSK02, 30000, func(p *Profile, s *State, f can.Frame) {
				s.updateCruise(f.Byte(2)&0x7 == 1)
			}),
		},
		Actuators: []Actuator{
			{
				Route: route(mlbHCA01, 0),
				Decode: func(f can.Frame) Command {
					torque := int(f.Byte(2)) | int(f.Byte(3)&0x1)<<8
					if f.Bit(31) {
						torque = -torque
					}
					return Command{Value: torque, Request: true}
				},
				Torque: &vwTorqueLimits,
			},
		},
	}
	for _, bus := range []uint8{0, 2} {
		p.Actuators = append(p.Actuators, Actuator{
			Route:  route(mlbLS01, bus),
			Checks: []Check{ArmedOnlyCheck(vwSetResume)},
		})
	}
	return p
}
