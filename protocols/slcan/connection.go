package slcan

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/awer25/pandaop/can"
	"github.com/awer25/pandaop/logging"
	"github.com/pkg/errors"
)

// Connection exchanges CAN frames with a serial line CAN adapter speaking
// the SLCAN ASCII protocol.
type Connection struct {
	serialPort io.ReadWriteCloser
	logger     logging.Logger
	bus        uint8

	totalReadTimeout time.Duration

	startReader sync.Once
	closeOnce   sync.Once
	lines       chan lineResult
	done        chan struct{}
	// readErr is set before lines is closed
	readErr error
}

const (
	// ConnectionBaudRate is the baud rate (bits/s) used for the serial connection.
	// USB adapters ignore it.
	ConnectionBaudRate int = 115200
	// ConnectionDataBits is the data bit setting (bits/word) used for the serial connection.
	ConnectionDataBits int = 8
	// ConnectionReadTimeout is the amount of time per read spent before a timeout occurs.
	ConnectionReadTimeout time.Duration = time.Millisecond * 100
	// ConnectionTotalReadTimeout is the amount of time spent waiting for a full
	// line before a timeout occurs. It applies to the whole line, not individual reads.
	ConnectionTotalReadTimeout time.Duration = time.Millisecond * 5000
	// DefaultBitrate is the bus bitrate in kbit/s used when none is configured.
	DefaultBitrate int = 500

	maxLineLength = 1 + extendedIDLen + 1 + can.MaxDataLen*2 + timestampLen
)

var (
	// ErrReadTimeout is returned when reading a line times out.
	ErrReadTimeout = errors.New("the read operation timed out")

	// ErrCommandRejected is returned when the adapter answers a command with a bell.
	ErrCommandRejected = errors.New("command rejected by adapter")

	// ErrLineTooLong is returned when the adapter sends more bytes than any
	// valid line can hold without a terminator.
	ErrLineTooLong = errors.New("line too long")
)

// NewConnection returns a new Connection. Received frames are tagged with bus.
func NewConnection(serialPort io.ReadWriteCloser, bus uint8, l logging.Logger) *Connection {
	return &Connection{
		serialPort: serialPort,
		logger:     logging.OrNop(l),
		bus:        bus,

		totalReadTimeout: ConnectionTotalReadTimeout,
		lines:            make(chan lineResult, 64),
		done:             make(chan struct{}),
	}
}

// SetTotalReadTimeout changes how long NextFrame and Open wait for a line.
func (c *Connection) SetTotalReadTimeout(d time.Duration) {
	c.totalReadTimeout = d
}

// Open configures the bus bitrate (kbit/s) and opens the CAN channel.
func (c *Connection) Open(ctx context.Context, bitrate int) error {
	setup, err := BitrateCommand(bitrate)
	if err != nil {
		return err
	}

	for _, cmd := range []string{setup, "O"} {
		if err := c.command(ctx, cmd); err != nil {
			return errors.Wrapf(err, "sending %q", cmd)
		}
	}
	c.logger.Debugf("opened channel at %d kbit/s", bitrate)
	return nil
}

// command writes cmd and waits for the adapter's acknowledgement.
func (c *Connection) command(ctx context.Context, cmd string) error {
	if err := c.write(ctx, append([]byte(cmd), carriageRet)); err != nil {
		return err
	}

	line, err := c.readLine(ctx)
	if err != nil {
		return errors.Wrap(err, "reading acknowledgement")
	}
	if len(line) > 0 && line[len(line)-1] == bell {
		return ErrCommandRejected
	}
	return nil
}

// Send writes f to the bus.
func (c *Connection) Send(ctx context.Context, f can.Frame) error {
	line, err := EncodeFrame(f)
	if err != nil {
		return errors.Wrap(err, "encoding frame")
	}
	return c.write(ctx, line)
}

func (c *Connection) write(ctx context.Context, b []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logging.Bytes(c.logger, b, "sending: ")

	wb, err := c.serialPort.Write(b)
	if err != nil {
		return errors.Wrap(err, "writing bytes")
	}
	if wb != len(b) {
		return errors.Errorf("only wrote %d bytes (line had %d bytes)", wb, len(b))
	}
	return nil
}

// NextFrame reads the next frame received by the adapter. Transmit
// acknowledgements and status lines are skipped.
func (c *Connection) NextFrame(ctx context.Context) (can.Frame, error) {
	for {
		line, err := c.readLine(ctx)
		if err != nil {
			return can.Frame{}, errors.Wrap(err, "reading line")
		}
		if len(line) == 0 {
			continue
		}

		switch line[0] {
		case frameStandard, frameExtended:
			return DecodeFrame(line, c.bus)
		case ackTransmit, ackTransmitX:
			continue
		case statusFlags:
			c.logger.Debugf("adapter status %s", line[1:])
			continue
		case bell:
			return can.Frame{}, ErrCommandRejected
		default:
			c.logger.Debugf("skipping unknown line %q", line)
		}
	}
}

type lineResult struct {
	line []byte
	err  error
}

// readLine returns the next line without its carriage return. A bell ends
// a line and is kept as its last byte. Lines that arrive after a timeout
// are kept for the next call.
func (c *Connection) readLine(ctx context.Context) ([]byte, error) {
	c.startReader.Do(func() {
		go c.readLines()
	})

	timer := time.NewTimer(c.totalReadTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrReadTimeout
	case r, ok := <-c.lines:
		if !ok {
			return nil, c.readErr
		}
		return r.line, r.err
	}
}

// readLines is the connection's only reader. It splits the port's bytes
// into lines until a read fails or the connection is closed.
func (c *Connection) readLines() {
	var buf []byte
	chunk := make([]byte, 32)
	for {
		select {
		case <-c.done:
			c.readErr = io.ErrClosedPipe
			close(c.lines)
			return
		default:
		}

		count, err := c.serialPort.Read(chunk)
		if count > 0 {
			logging.Bytes(c.logger, chunk[:count], "read: ")
			buf = append(buf, chunk[:count]...)
			for {
				line, rest, ok := splitLine(buf)
				if !ok {
					break
				}
				if !c.deliver(lineResult{line: append([]byte(nil), line...)}) {
					return
				}
				buf = rest
			}
			if len(buf) > maxLineLength {
				buf = nil
				if !c.deliver(lineResult{err: ErrLineTooLong}) {
					return
				}
			}
		}

		if err != nil {
			c.readErr = err
			close(c.lines)
			return
		}
	}
}

func (c *Connection) deliver(r lineResult) bool {
	select {
	case c.lines <- r:
		return true
	case <-c.done:
		c.readErr = io.ErrClosedPipe
		close(c.lines)
		return false
	}
}

func splitLine(b []byte) (line, rest []byte, ok bool) {
	i := bytes.IndexAny(b, "\r\a")
	if i < 0 {
		return nil, b, false
	}
	if b[i] == bell {
		return b[:i+1], b[i+1:], true
	}
	return b[:i], b[i+1:], true
}

// Close closes the CAN channel and the serial port.
func (c *Connection) Close() error {
	c.logger.Debug("closing connection")
	c.closeOnce.Do(func() {
		close(c.done)
	})

	if c.serialPort == nil {
		return nil
	}
	if _, err := c.serialPort.Write([]byte{'C', carriageRet}); err != nil {
		c.logger.Debugf("closing channel: %v", err)
	}
	return c.serialPort.Close()
}
