package serialmux

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"

	"github.com/banshee-data/pointcloud.report/internal/frame"
	"github.com/banshee-data/pointcloud.report/internal/monitoring"
)

// BinaryPort turns a port speaking the sensor's native binary framing into
// one that reads as JSON frame lines, so the rest of the pipeline (and the
// frame log) only ever sees one format. Writes go straight to the device.
type BinaryPort[T SerialPorter] struct {
	port T
	r    *io.PipeReader
	w    *io.PipeWriter

	closeOnce sync.Once
}

// NewBinaryPort starts decoding port.
func NewBinaryPort[T SerialPorter](port T) *BinaryPort[T] {
	r, w := io.Pipe()
	p := &BinaryPort[T]{port: port, r: r, w: w}
	go p.decode()
	return p
}

func (p *BinaryPort[T]) decode() {
	dec := frame.NewBinaryDecoder(p.port)
	for {
		f, err := dec.Next()
		switch {
		case errors.Is(err, frame.ErrMalformedFrame):
			monitoring.Logf("dropping binary frame: %v", err)
			continue
		case errors.Is(err, io.EOF):
			p.w.Close()
			return
		case err != nil:
			p.w.CloseWithError(fmt.Errorf("decode binary frames: %w", err))
			return
		}
		line, err := json.Marshal(f)
		if err != nil {
			p.w.CloseWithError(err)
			return
		}
		if _, err := p.w.Write(append(line, '\n')); err != nil {
			return
		}
	}
}

func (p *BinaryPort[T]) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *BinaryPort[T]) Write(b []byte) (int, error) { return p.port.Write(b) }

func (p *BinaryPort[T]) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.r.Close()
		err = p.port.Close()
	})
	return err
}

// NewBinarySerialMux opens the serial device at path and decodes its binary
// frames.
func NewBinarySerialMux(path string, opts PortOptions) (*SerialMux[*BinaryPort[serial.Port]], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	return NewSerialMux(NewBinaryPort[serial.Port](port)), nil
}

// NewMockBinarySerialMux replays the JSON frame lines in src re-encoded as
// binary point cloud frames, exercising the same decode path as hardware.
// Lines that are not frames are skipped.
func NewMockBinarySerialMux(src io.Reader, opts ReplayOptions) (*SerialMux[*BinaryPort[*ReplayPort]], error) {
	lines, err := ReadLines(src)
	if err != nil {
		return nil, err
	}
	var encoded []string
	for i, line := range lines {
		f, err := frame.Parse(line)
		if err != nil {
			continue
		}
		encoded = append(encoded, string(frame.EncodeBinary(uint16(i), frame.TypePointCloud, frame.EncodePointCloud(f))))
	}
	return NewSerialMux(NewBinaryPort(NewReplayPort(encoded, opts))), nil
}
