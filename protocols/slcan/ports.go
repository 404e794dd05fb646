package slcan

import (
	"github.com/awer25/pandaop/logging"
	"github.com/pkg/errors"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// PortInfo describes a serial port available on the host.
type PortInfo struct {
	PortName  string
	Product   string
	IsUSB     bool
	VendorID  string
	ProductID string
}

// Ports returns all available serial ports on the current host.
func Ports() ([]PortInfo, error) {
	list, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "listing serial ports")
	}

	ports := make([]PortInfo, len(list))
	for i, p := range list {
		ports[i] = PortInfo{
			PortName:  p.Name,
			Product:   p.Product,
			IsUSB:     p.IsUSB,
			VendorID:  p.VID,
			ProductID: p.PID,
		}
	}
	return ports, nil
}

// Dial opens the serial port and returns a Connection on it. The CAN
// channel still has to be opened with Open.
func Dial(port string, bus uint8, l logging.Logger) (*Connection, error) {
	l = logging.OrNop(l)
	l.Debugf("opening serial port %s", port)
	sp, err := serial.Open(port, &serial.Mode{
		BaudRate: ConnectionBaudRate,
		DataBits: ConnectionDataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "opening serial port '%s'", port)
	}

	if err = sp.SetReadTimeout(ConnectionReadTimeout); err != nil {
		sp.Close()
		return nil, errors.Wrap(err, "setting serial port read timeout")
	}
	if err = sp.ResetInputBuffer(); err != nil {
		sp.Close()
		return nil, errors.Wrap(err, "resetting input buffer")
	}

	return NewConnection(sp, bus, l), nil
}
