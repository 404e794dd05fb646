package slcan

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/awer25/pandaop/can"
	"github.com/pkg/errors"
)

const (
	frameStandard byte = 't'
	frameExtended byte = 'T'
	ackTransmit   byte = 'z'
	ackTransmitX  byte = 'Z'
	statusFlags   byte = 'F'
	bell          byte = 0x07
	carriageRet   byte = '\r'

	standardIDLen = 3
	extendedIDLen = 8
	timestampLen  = 4
)

var (
	// ErrInvalidFrame is returned when a line can't be decoded as an SLCAN frame.
	ErrInvalidFrame = errors.New("invalid slcan frame")

	// ErrUnsupportedBitrate is returned for bitrates without an SLCAN setup command.
	ErrUnsupportedBitrate = errors.New("unsupported bitrate")
)

var bitrateCommands = map[int]string{
	10:   "S0",
	20:   "S1",
	50:   "S2",
	100:  "S3",
	125:  "S4",
	250:  "S5",
	500:  "S6",
	750:  "S7",
	1000: "S8",
}

// BitrateCommand returns the setup command for a bus bitrate in kbit/s.
func BitrateCommand(kbps int) (string, error) {
	c, ok := bitrateCommands[kbps]
	if !ok {
		return "", errors.Wrapf(ErrUnsupportedBitrate, "%d kbit/s", kbps)
	}
	return c, nil
}

// EncodeFrame returns the SLCAN transmit line for f, terminated by a carriage return.
func EncodeFrame(f can.Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	var line string
	if f.Extended {
		line = fmt.Sprintf("%c%08X%d", frameExtended, f.Address, f.Len)
	} else {
		line = fmt.Sprintf("%c%03X%d", frameStandard, f.Address, f.Len)
	}
	line += fmt.Sprintf("%X", f.Payload())
	return append([]byte(line), carriageRet), nil
}

// DecodeFrame parses a received SLCAN frame line (without its terminator)
// and tags it with bus. A trailing adapter timestamp is accepted and ignored.
func DecodeFrame(line []byte, bus uint8) (can.Frame, error) {
	if len(line) == 0 {
		return can.Frame{}, ErrInvalidFrame
	}

	var idLen int
	switch line[0] {
	case frameStandard:
		idLen = standardIDLen
	case frameExtended:
		idLen = extendedIDLen
	default:
		return can.Frame{}, errors.Wrapf(ErrInvalidFrame, "unknown frame type %q", line[0])
	}
	if len(line) < 1+idLen+1 {
		return can.Frame{}, errors.Wrap(ErrInvalidFrame, "line too short")
	}

	id, err := strconv.ParseUint(string(line[1:1+idLen]), 16, 32)
	if err != nil {
		return can.Frame{}, errors.Wrap(ErrInvalidFrame, "decoding identifier")
	}

	dlc := int(line[1+idLen] - '0')
	if dlc < 0 || dlc > can.MaxDataLen {
		return can.Frame{}, errors.Wrapf(ErrInvalidFrame, "data length %q", line[1+idLen])
	}

	body := line[2+idLen:]
	switch len(body) {
	case dlc * 2:
	case dlc*2 + timestampLen:
		body = body[:dlc*2]
	default:
		return can.Frame{}, errors.Wrapf(ErrInvalidFrame, "%d data characters for length %d", len(body), dlc)
	}

	data := make([]byte, dlc)
	if _, err := hex.Decode(data, body); err != nil {
		return can.Frame{}, errors.Wrap(ErrInvalidFrame, "decoding frame body")
	}

	f := can.Frame{
		Address:  uint32(id),
		Extended: line[0] == frameExtended,
		Bus:      bus,
		Len:      uint8(dlc),
	}
	copy(f.Data[:], data)
	if err := f.Validate(); err != nil {
		return can.Frame{}, errors.Wrap(ErrInvalidFrame, err.Error())
	}
	return f, nil
}
