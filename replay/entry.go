package replay

import (
	"encoding/hex"
	"strings"

	"github.com/awer25/pandaop/can"
	"github.com/pkg/errors"
)

// Direction tags where a recorded frame came from.
type Direction string

const (
	// Observed frames were seen on a bus and go through the receive hook.
	Observed Direction = "rx"
	// Sent frames came from the driving stack and go through the transmit hook.
	Sent Direction = "tx"
)

// ReturnedBusFlag marks observed frames the adapter echoed back after sending them.
const ReturnedBusFlag uint8 = 0x80

// ErrInvalidEntry is returned when an entry can't be turned into a frame.
var ErrInvalidEntry = errors.New("invalid log entry")

// Entry is one timestamped frame of a recorded drive. Timestamp is in
// engine ticks (microseconds).
type Entry struct {
	Timestamp uint32    `json:"t" yaml:"t"`
	Direction Direction `json:"dir" yaml:"dir"`
	Bus       uint8     `json:"bus" yaml:"bus"`
	Address   uint32    `json:"addr" yaml:"addr"`
	Extended  bool      `json:"ext,omitempty" yaml:"ext,omitempty"`
	// Data is the payload as a hex string.
	Data string `json:"data" yaml:"data"`
}

// Returned reports whether the entry is an echo of a frame we sent.
func (e Entry) Returned() bool {
	return e.Direction == Observed && e.Bus >= ReturnedBusFlag
}

// Frame decodes the entry's frame.
func (e Entry) Frame() (can.Frame, error) {
	data, err := hex.DecodeString(strings.ReplaceAll(e.Data, " ", ""))
	if err != nil {
		return can.Frame{}, errors.Wrapf(ErrInvalidEntry, "decoding data %q", e.Data)
	}
	if len(data) > can.MaxDataLen {
		return can.Frame{}, errors.Wrapf(ErrInvalidEntry, "%d data bytes", len(data))
	}

	f := can.Frame{
		Address:  e.Address,
		Extended: e.Extended || e.Address > can.MaxStandardAddress,
		Bus:      e.Bus,
		Len:      uint8(len(data)),
	}
	copy(f.Data[:], data)
	if err := f.Validate(); err != nil {
		return can.Frame{}, errors.Wrap(ErrInvalidEntry, err.Error())
	}
	return f, nil
}

// NewEntry returns the entry recording f at ticks.
func NewEntry(ticks uint32, dir Direction, f can.Frame) Entry {
	return Entry{
		Timestamp: ticks,
		Direction: dir,
		Bus:       f.Bus,
		Address:   f.Address,
		Extended:  f.Extended,
		Data:      strings.ToUpper(hex.EncodeToString(f.Payload())),
	}
}
