package safety

import (
	"testing"

	"github.com/awer25/pandaop/can"
	"github.com/sigurn/crc8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// vwFrame lays bits over an 8 byte payload and fills the counter and CRC.
func vwFrame(addr uint32, counter uint8, bits uint64) can.Frame {
	data := make([]byte, 8)
	for i := range data {
		data[i] = byte(bits >> (8 * i))
	}
	data[1] = data[1]&0xF0 | counter&0x0F

	crc := crc8.Init(vwCRCTable)
	crc = crc8.Update(crc, data[1:], vwCRCTable)
	crc = crc8.Update(crc, []byte{vwMagicBytes[addr]}, vwCRCTable)
	data[0] = crc8.Complete(crc, vwCRCTable)
	return can.MustFrame(addr, 0, data)
}

func vwDriverTorqueBits(torque int) uint64 {
	bits := uint64(abs(torque)&0x1FFF) << 40
	if torque < 0 {
		bits |= 1 << 55
	}
	return bits
}

func vwHCAFrame(torque int, request bool) can.Frame {
	data := make([]byte, 8)
	setBits(data, 16, 9, uint64(abs(torque)))
	if torque < 0 {
		setBits(data, 31, 1, 1)
	}
	if request {
		setBits(data, 30, 1, 1)
	}
	return can.MustFrame(vwHCA01, 0, data)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func TestVolkswagenChecksum(t *testing.T) {
	e := newTestEngine(t, ModeVolkswagenMQB, 0)

	f := vwFrame(vwESP05, 0, 0)
	require.NoError(t, e.ReceiveErr(f))
	assert.True(t, vwChecksum(f))

	f = vwFrame(vwESP05, 1, 0)
	f.Data[5] ^= 0x01
	assert.ErrorIs(t, e.ReceiveErr(f), ErrChecksumMismatch)

	// the same payload under another data ID doesn't verify
	g := vwFrame(vwTSK06, 2, 0)
	g.Address = vwESP05
	assert.False(t, vwChecksum(g))

	// runs on every received frame
	f = vwFrame(vwESP05, 3, 0)
	assert.Zero(t, testing.AllocsPerRun(100, func() { vwChecksum(f) }))
}

func TestVolkswagenRedundantBrakes(t *testing.T) {
	tests := []struct {
		pedalSwitch, pressure, want bool
	}{
		{true, true, true},
		{true, false, true},
		{false, true, true},
		{false, false, false},
	}

	e := newTestEngine(t, ModeVolkswagenMQB, 0)
	var counter uint8
	for _, tt := range tests {
		var switchBits, pressureBits uint64
		if tt.pedalSwitch {
			switchBits = 1 << 28
		}
		if tt.pressure {
			pressureBits = 1 << 26
		}

		require.True(t, e.Receive(frame(vwMotor14, 0)))
		require.True(t, e.Receive(vwFrame(vwESP05, counter, 0)))
		counter++
		require.False(t, e.BrakePressed())

		require.True(t, e.Receive(can.MustFrame(vwMotor14, 0, vwPayload(switchBits))))
		require.True(t, e.Receive(vwFrame(vwESP05, counter, pressureBits)))
		counter++
		assert.Equal(t, tt.want, e.BrakePressed(), "switch=%v pressure=%v", tt.pedalSwitch, tt.pressure)
	}
}

func vwPayload(bits uint64) []byte {
	data := make([]byte, 8)
	for i := range data {
		data[i] = byte(bits >> (8 * i))
	}
	return data
}

func TestVolkswagenTorqueWindow(t *testing.T) {
	e := newTestEngine(t, ModeVolkswagenMQB, 0)

	var counter uint8
	rx := func(torque int) {
		require.True(t, e.Receive(vwFrame(vwLHEPS03, counter, vwDriverTorqueBits(torque))))
		counter++
	}

	for _, torque := range []int{50, -50, 0, 0, 0, 0} {
		rx(torque)
	}
	assert.Equal(t, -50, e.DriverTorqueMin())
	assert.Equal(t, 50, e.DriverTorqueMax())

	rx(0)
	assert.Equal(t, 0, e.DriverTorqueMax())
	assert.Equal(t, -50, e.DriverTorqueMin())

	rx(0)
	assert.Equal(t, 0, e.DriverTorqueMax())
	assert.Equal(t, 0, e.DriverTorqueMin())
}

func TestVolkswagenSteering(t *testing.T) {
	e := newTestEngine(t, ModeVolkswagenMQB, 0)

	assert.NoError(t, e.TransmitErr(vwHCAFrame(0, false)))
	assert.ErrorIs(t, e.TransmitErr(vwHCAFrame(4, true)), ErrControlsNotAllowed)

	arm(e)
	require.NoError(t, e.TransmitErr(vwHCAFrame(-4, true)))
	assert.Equal(t, -4, e.DesiredLast())
	assert.ErrorIs(t, e.TransmitErr(vwHCAFrame(-9, true)), ErrRateLimitExceeded)
	assert.ErrorIs(t, e.TransmitErr(vwHCAFrame(-4, false)), ErrNotNeutral)

	e.state.desiredLast = 300
	assert.ErrorIs(t, e.TransmitErr(vwHCAFrame(301, true)), ErrMagnitudeExceeded)
}

func TestVolkswagenCruise(t *testing.T) {
	e := newTestEngine(t, ModeVolkswagenMQB, 0)

	require.True(t, e.Receive(vwFrame(vwTSK06, 0, 3<<24)))
	assert.True(t, e.ControlsAllowed())

	// main switch off always disarms
	require.True(t, e.Receive(vwFrame(vwTSK06, 1, 0)))
	assert.False(t, e.ControlsAllowed())

	require.True(t, e.Receive(vwFrame(vwTSK06, 2, 4<<24)))
	require.True(t, e.ControlsAllowed())

	require.True(t, e.Receive(vwFrame(vwMotor20, 0, 0x10<<12)))
	assert.True(t, e.GasPressed())
	assert.False(t, e.ControlsAllowed())
}

func TestVolkswagenStockButtons(t *testing.T) {
	e := newTestEngine(t, ModeVolkswagenMQB, 0)

	cancel := frame(vwGRAACC01, 0, vwPayload(1<<vwButtonCancel)...)
	set := frame(vwGRAACC01, 0, vwPayload(1<<vwButtonSet)...)
	resume := frame(vwGRAACC01, 2, vwPayload(1<<vwButtonResume)...)

	assert.True(t, e.Transmit(cancel))
	assert.ErrorIs(t, e.TransmitErr(set), ErrControlsNotAllowed)
	assert.ErrorIs(t, e.TransmitErr(resume), ErrControlsNotAllowed)

	arm(e)
	assert.True(t, e.Transmit(set))
	assert.True(t, e.Transmit(resume))

	// longitudinal messages are not allowed with stock ACC
	assert.ErrorIs(t, e.TransmitErr(frame(vwACC06, 0)), ErrAddressNotAllowed)
}

func TestVolkswagenLongitudinal(t *testing.T) {
	e := newTestEngine(t, ModeVolkswagenMQB, VolkswagenParamLongitudinal)

	buttons := func(bits uint64) {
		require.True(t, e.Receive(frame(vwGRAACC01, 0, vwPayload(bits)...)))
	}

	// engaged stock ACC doesn't arm with openpilot longitudinal
	require.True(t, e.Receive(vwFrame(vwTSK06, 0, 3<<24)))
	assert.False(t, e.ControlsAllowed())

	buttons(1 << vwButtonSet)
	assert.False(t, e.ControlsAllowed())
	buttons(0)
	assert.True(t, e.ControlsAllowed())

	buttons(1 << vwButtonCancel)
	assert.False(t, e.ControlsAllowed())

	buttons(1 << vwButtonResume)
	buttons(0)
	assert.True(t, e.ControlsAllowed())

	// main switch off: releasing set does nothing
	require.True(t, e.Receive(vwFrame(vwTSK06, 1, 0)))
	buttons(1 << vwButtonSet)
	buttons(0)
	assert.False(t, e.ControlsAllowed())

	t.Run("Accel", func(t *testing.T) {
		acc06 := func(accel int) can.Frame {
			raw := uint64((accel + 7220) / 5)
			data := make([]byte, 8)
			setBits(data, 24, 11, raw)
			return can.MustFrame(vwACC06, 0, data)
		}
		acc07 := func(accel, secondary int) can.Frame {
			data := make([]byte, 8)
			data[4] = byte((secondary + 4600) / 30)
			setBits(data, 53, 11, uint64((accel+7220)/5))
			return can.MustFrame(vwACC07, 0, data)
		}

		e.state.controlsAllowed = false
		assert.NoError(t, e.TransmitErr(acc06(3010)))
		assert.ErrorIs(t, e.TransmitErr(acc06(1000)), ErrControlsNotAllowed)

		arm(e)
		assert.NoError(t, e.TransmitErr(acc06(2000)))
		assert.NoError(t, e.TransmitErr(acc06(-3500)))
		assert.ErrorIs(t, e.TransmitErr(acc06(2005)), ErrMagnitudeExceeded)

		assert.NoError(t, e.TransmitErr(acc07(1000, 3020)))
		assert.ErrorIs(t, e.TransmitErr(acc07(1000, 2990)), ErrCommandBlocked)
		assert.ErrorIs(t, e.TransmitErr(acc07(-3505, 3020)), ErrMagnitudeExceeded)
	})

	_, ok := e.Forward(2, vwACC06)
	assert.False(t, ok)
	assert.ErrorIs(t, e.TransmitErr(frame(vwGRAACC01, 0)), ErrAddressNotAllowed)
}

func TestVolkswagenMLB(t *testing.T) {
	e := newTestEngine(t, ModeVolkswagenMLB, 0)

	t.Run("Brakes", func(t *testing.T) {
		require.True(t, e.Receive(frame(mlbMotor03, 0, vwPayload(1<<35)...)))
		assert.True(t, e.BrakePressed())
		require.True(t, e.Receive(frame(mlbMotor03, 0)))
		require.True(t, e.Receive(frame(mlbESP05, 0, vwPayload(1<<26)...)))
		assert.True(t, e.BrakePressed())
		require.True(t, e.Receive(frame(mlbESP05, 0)))
		assert.False(t, e.BrakePressed())
	})

	t.Run("Cruise", func(t *testing.T) {
		require.True(t, e.Receive(frame(mlbTSK02, 0, 0, 0, 1, 0, 0, 0, 0, 0)))
		assert.True(t, e.ControlsAllowed())
		require.True(t, e.Receive(frame(mlbMotor03, 0, 0, 0, 0, 0, 0, 0, 20, 0)))
		assert.True(t, e.GasPressed())
		assert.False(t, e.ControlsAllowed())
		require.True(t, e.Receive(frame(mlbMotor03, 0)))
	})

	t.Run("CancelSpam", func(t *testing.T) {
		e.state.controlsAllowed = false
		ls := func(bit int) can.Frame { return frame(mlbLS01, 2, vwPayload(1<<uint(bit))...) }
		assert.True(t, e.Transmit(ls(vwButtonCancel)))
		assert.False(t, e.Transmit(ls(vwButtonResume)))
		assert.False(t, e.Transmit(ls(vwButtonSet)))

		arm(e)
		assert.True(t, e.Transmit(ls(vwButtonResume)))
	})

	t.Run("Steering", func(t *testing.T) {
		arm(e)
		hca := vwHCAFrame(4, false)
		hca.Address = mlbHCA01
		assert.NoError(t, e.TransmitErr(hca))
		assert.Equal(t, 4, e.DesiredLast())
	})

	dst, ok := e.Forward(0, mlbHCA01)
	assert.True(t, ok)
	assert.Equal(t, uint8(2), dst)
	_, ok = e.Forward(2, mlbLDW02)
	assert.False(t, ok)
}
