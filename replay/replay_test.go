package replay_test

import (
	"testing"

	"github.com/awer25/pandaop/replay"
	"github.com/awer25/pandaop/safety"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	cruiseOff     = "10000000000000EB"
	cruiseEngaged = "300000000000000B"
)

func rx(t uint32, bus uint8, addr uint32, data string) replay.Entry {
	return replay.Entry{Timestamp: t, Direction: replay.Observed, Bus: bus, Address: addr, Data: data}
}

func tx(t uint32, addr uint32, data string) replay.Entry {
	return replay.Entry{Timestamp: t, Direction: replay.Sent, Address: addr, Data: data}
}

// toyotaDrive arms on the cruise rising edge, then sends one good and two
// bad commands while armed.
func toyotaDrive() []replay.Entry {
	return []replay.Entry{
		rx(1000, 0, 0x1D2, cruiseOff),
		tx(1500, 0x2E4, "0000000000"),
		rx(2000, 0, 0x1D2, cruiseEngaged),
		rx(2100, 0x80, 0x2E4, "0000000000"),
		tx(3000, 0x2E4, "01000A0000"),
		tx(4000, 0x2E4, "0100640000"),
		tx(5000, 0x123, "00"),
	}
}

func TestRun(t *testing.T) {
	r, err := replay.Run(toyotaDrive(), safety.ModeToyota, 0)
	require.NoError(t, err)

	assert.Equal(t, 4, r.Transmitted)
	assert.Equal(t, 3, r.TransmittedWhileArmed)
	assert.Equal(t, 2, r.Blocked)
	assert.Equal(t, 2, r.BlockedWhileArmed)
	assert.Equal(t, 2, r.Received)
	assert.Equal(t, 0, r.ReceiveRejected)
	assert.Equal(t, 1, r.Returned)
	assert.Equal(t, []uint32{0x123, 0x2E4}, r.BlockedAddresses)
	assert.Equal(t, map[string]int{
		safety.ErrRateLimitExceeded.Error(): 1,
		safety.ErrAddressNotAllowed.Error(): 1,
	}, r.Reasons)
	assert.True(t, r.Final.ControlsAllowed)
	assert.Equal(t, uint32(5000), r.Final.Clock)
	assert.False(t, r.Pass)
}

func TestRunPass(t *testing.T) {
	r, err := replay.Run(toyotaDrive()[:5], safety.ModeToyota, 0)
	require.NoError(t, err)

	assert.Equal(t, 2, r.Transmitted)
	assert.Equal(t, 0, r.Blocked)
	assert.Empty(t, r.BlockedAddresses)
	assert.True(t, r.Pass)
}

func TestRunBlockedWhileDisarmedPasses(t *testing.T) {
	entries := []replay.Entry{
		tx(1000, 0x2E4, "0100640000"),
		tx(2000, 0x123, "00"),
	}
	r, err := replay.Run(entries, safety.ModeToyota, 0)
	require.NoError(t, err)

	assert.Equal(t, 2, r.Blocked)
	assert.Equal(t, 0, r.BlockedWhileArmed)
	assert.True(t, r.Pass)
}

func TestRunIsDeterministic(t *testing.T) {
	first, err := replay.Run(toyotaDrive(), safety.ModeToyota, 0)
	require.NoError(t, err)
	second, err := replay.Run(toyotaDrive(), safety.ModeToyota, 0)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRunCountsBadEntries(t *testing.T) {
	entries := []replay.Entry{
		rx(3000, 0, 0x1D2, cruiseOff),
		rx(500, 0, 0x1D2, cruiseOff),
		rx(4000, 0, 0x1D2, "ZZ"),
		rx(5000, 0, 0x1D2, "000102030405060708"),
		rx(6000, 0, 0x1D2, "00"),
	}
	r, err := replay.Run(entries, safety.ModeToyota, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, r.ClockRegressions)
	assert.Equal(t, 2, r.Invalid)
	assert.Equal(t, 3, r.Received)
	assert.Equal(t, 1, r.ReceiveRejected)
	assert.Equal(t, 1, r.ReceiveReasons[safety.ErrChecksumMismatch.Error()])
	assert.Equal(t, uint32(6000), r.Final.Clock)
}

func TestRunUnknownMode(t *testing.T) {
	_, err := replay.Run(toyotaDrive(), safety.Mode(99), 0)
	assert.ErrorIs(t, err, safety.ErrUnknownMode)
}
