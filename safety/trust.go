package safety

import "github.com/awer25/pandaop/can"

const (
	// maxMissedFrames is how many expected periods may pass before a
	// trust-bearing message is considered lagging.
	maxMissedFrames uint32 = 10
	// minStaleTicks is the shortest lag that counts as stale.
	minStaleTicks uint32 = 1000000
)

// rxState tracks one registered receive handler.
type rxState struct {
	seen        bool
	lastTick    uint32
	counter     uint8
	counterSeen bool
	lagging     bool
}

// validate runs the handler's trust checks on f. The rolling counter is
// committed whenever the frame's checksum holds, so one bad counter
// invalidates only that frame.
func (st *rxState) validate(h *Handler, f can.Frame) error {
	if h.Len != 0 && f.Len != h.Len {
		return ErrChecksumMismatch
	}
	if h.Checksum != nil && !h.Checksum(f) {
		return ErrChecksumMismatch
	}

	if h.Counter != nil {
		c := h.Counter(f)
		expected := nextCounter(st.counter, h.MaxCounter)
		inSequence := !st.counterSeen || c == expected
		st.counter = c
		st.counterSeen = true
		if !inSequence {
			return ErrCounterMismatch
		}
	}

	if h.Quality != nil && !h.Quality(f) {
		return ErrQualityFlagLow
	}
	return nil
}

func (st *rxState) stale(h *Handler, now uint32) bool {
	if !st.seen || h.ExpectedPeriod == 0 || !h.TrustBearing {
		return false
	}
	limit := h.ExpectedPeriod * maxMissedFrames
	if limit < minStaleTicks {
		limit = minStaleTicks
	}
	return now-st.lastTick > limit
}

func nextCounter(c, maxCounter uint8) uint8 {
	if c >= maxCounter {
		return 0
	}
	return c + 1
}

// Additive checksum variants used by several makes.

// addrSumChecksum sums the address bytes with every payload byte except
// the checksum byte at idx.
func addrSumChecksum(f can.Frame, idx int) uint8 {
	sum := uint8(f.Address) + uint8(f.Address>>8)
	for i := 0; i < int(f.Len); i++ {
		if i != idx {
			sum += f.Byte(i)
		}
	}
	return sum
}

func addrSumChecksumAt(idx int) func(f can.Frame) bool {
	return func(f can.Frame) bool {
		return int(f.Len) > idx && f.Byte(idx) == addrSumChecksum(f, idx)
	}
}

func nibbleCounterAt(idx int) func(f can.Frame) uint8 {
	return func(f can.Frame) uint8 {
		return f.Byte(idx) & 0x0F
	}
}
