package serialmux

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// SerialPorter is the minimal surface SerialMux needs from a port, so tests
// and replay sources can stand in for hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// NewRealSerialMux opens the serial device at path.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	return NewSerialMux[serial.Port](port), nil
}

// ListPorts returns the serial devices visible to the host.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}
