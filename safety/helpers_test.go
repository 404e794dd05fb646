package safety

import (
	"testing"

	"github.com/awer25/pandaop/can"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, mode Mode, param uint16) *Engine {
	t.Helper()
	e := NewEngine()
	require.NoError(t, e.SelectProfile(mode, param))
	return e
}

func frame(addr uint32, bus uint8, data ...byte) can.Frame {
	if len(data) == 0 {
		data = make([]byte, 8)
	}
	return can.MustFrame(addr, bus, data)
}

// setBits writes v into n bits of data starting at bit start, LSB first.
func setBits(data []byte, start, n int, v uint64) {
	for i := 0; i < n; i++ {
		bit := start + i
		if v&(1<<uint(i)) != 0 {
			data[bit/8] |= 1 << uint(bit%8)
		} else {
			data[bit/8] &^= 1 << uint(bit%8)
		}
	}
}

// withAddrSum fills the address-sum checksum at idx.
func withAddrSum(addr uint32, bus uint8, idx int, data []byte) can.Frame {
	f := can.MustFrame(addr, bus, data)
	f.Data[idx] = addrSumChecksum(f, idx)
	return f
}

// arm forces the engine into the armed state as a test fixture.
func arm(e *Engine) {
	e.state.controlsAllowed = true
}

// signedBits returns the n-bit two's complement encoding of v.
func signedBits(v, n int) uint64 {
	return uint64(v) & (1<<uint(n) - 1)
}
