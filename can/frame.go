package can

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Frame is a classical CAN frame as seen by the safety hooks. It is passed
// by value and never modified after construction.
type Frame struct {
	Address  uint32 // 11-bit (std) or 29-bit (ext)
	Extended bool
	Bus      uint8
	Len      uint8 // 0..8
	Data     [8]byte
}

const (
	// MaxStandardAddress is the highest 11-bit identifier.
	MaxStandardAddress uint32 = 0x7FF
	// MaxExtendedAddress is the highest 29-bit identifier.
	MaxExtendedAddress uint32 = 0x1FFFFFFF
	// MaxDataLen is the payload capacity of a classical CAN frame.
	MaxDataLen = 8
)

var (
	// ErrInvalidAddress is returned when the address doesn't fit the frame's identifier width.
	ErrInvalidAddress = errors.New("invalid frame address")

	// ErrInvalidLength is returned when a payload is longer than 8 bytes.
	ErrInvalidLength = errors.New("invalid frame data length")
)

// New returns a frame for the given address, bus and payload. Addresses above
// MaxStandardAddress produce an extended frame.
func New(address uint32, bus uint8, data []byte) (Frame, error) {
	if len(data) > MaxDataLen {
		return Frame{}, errors.Wrapf(ErrInvalidLength, "%d bytes", len(data))
	}

	f := Frame{
		Address:  address,
		Extended: address > MaxStandardAddress,
		Bus:      bus,
		Len:      uint8(len(data)),
	}
	copy(f.Data[:], data)
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// MustFrame is like New but panics on invalid input. Useful in tables and tests.
func MustFrame(address uint32, bus uint8, data []byte) Frame {
	f, err := New(address, bus, data)
	if err != nil {
		panic(err)
	}
	return f
}

// Validate returns an error if the frame is not valid.
func (f Frame) Validate() error {
	if f.Len > MaxDataLen {
		return ErrInvalidLength
	}
	if f.Extended {
		if f.Address > MaxExtendedAddress {
			return ErrInvalidAddress
		}
	} else if f.Address > MaxStandardAddress {
		return ErrInvalidAddress
	}
	return nil
}

// Route returns the (address, bus) pair of the frame.
func (f Frame) Route() Route {
	return Route{Address: f.Address, Bus: f.Bus}
}

// Payload returns a copy of the valid data bytes.
func (f Frame) Payload() []byte {
	n := int(f.Len)
	if n > MaxDataLen {
		n = MaxDataLen
	}
	b := make([]byte, n)
	copy(b, f.Data[:n])
	return b
}

// Byte returns the i-th payload byte, or 0 when i is past the payload.
func (f Frame) Byte(i int) uint8 {
	if i < 0 || i >= int(f.Len) || i >= MaxDataLen {
		return 0
	}
	return f.Data[i]
}

// Bytes assembles n (at most 4) bytes starting at start into a little-endian word.
func (f Frame) Bytes(start, n int) uint32 {
	var v uint32
	for i := 0; i < n && i < 4; i++ {
		v |= uint32(f.Byte(start+i)) << (8 * i)
	}
	return v
}

// Bits extracts n bits starting at bit start of the payload read as one
// little-endian word.
func (f Frame) Bits(start, n int) uint64 {
	var word uint64
	for i := 0; i < MaxDataLen; i++ {
		word |= uint64(f.Byte(i)) << (8 * i)
	}
	word >>= uint(start)
	if n >= 64 {
		return word
	}
	return word & (1<<uint(n) - 1)
}

// Bit returns bit n of the payload counting from the LSB of byte 0.
func (f Frame) Bit(n int) bool {
	return (f.Byte(n/8)>>(n%8))&1 == 1
}

// String formats the frame like "1:2E4 [5] 01 02 03 04 05".
func (f Frame) String() string {
	var sb strings.Builder
	if f.Extended {
		fmt.Fprintf(&sb, "%d:%08X [%d]", f.Bus, f.Address, f.Len)
	} else {
		fmt.Fprintf(&sb, "%d:%03X [%d]", f.Bus, f.Address, f.Len)
	}
	for i := 0; i < int(f.Len) && i < MaxDataLen; i++ {
		fmt.Fprintf(&sb, " %02X", f.Data[i])
	}
	return sb.String()
}

// Route identifies where a frame lives: its address on a given bus.
type Route struct {
	Address uint32
	Bus     uint8
}

func (r Route) String() string {
	return fmt.Sprintf("0x%X@%d", r.Address, r.Bus)
}

// ToSigned interprets the low bits of v as a two's complement number.
func ToSigned(v uint32, bits int) int {
	if bits <= 0 || bits >= 32 {
		return int(int32(v))
	}
	v &= (1 << bits) - 1
	if v&(1<<(bits-1)) != 0 {
		return int(v) - (1 << bits)
	}
	return int(v)
}
