package serialmux

import (
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// DefaultBaudRate matches the sensor's factory UART setting.
const DefaultBaudRate = 115200

// PortOptions describes the serial connection. Zero values select 115200 8N1.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and fills in defaults.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o
	if opts.BaudRate <= 0 {
		opts.BaudRate = DefaultBaudRate
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch p := strings.ToUpper(strings.TrimSpace(opts.Parity)); p {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", o.Parity)
	}
	return opts, nil
}

// String renders the options in the usual 115200 8N1 notation.
func (o PortOptions) String() string {
	n, err := o.Normalize()
	if err != nil {
		return fmt.Sprintf("invalid(%d %d%s%d)", o.BaudRate, o.DataBits, o.Parity, o.StopBits)
	}
	return fmt.Sprintf("%d %d%s%d", n.BaudRate, n.DataBits, n.Parity, n.StopBits)
}

// SerialMode converts the options for go.bug.st/serial.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}
