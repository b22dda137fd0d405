package frame

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Firmware that has not been flashed with the JSON printer speaks the
// sensor's native framing:
//
//	SOF(1) ID(2) LEN(2) TYPE(2) HEAD_CKSUM(1) DATA(LEN) DATA_CKSUM(1)
//
// Header fields are big-endian. Both checksums are the inverted XOR of the
// bytes they cover. Payload values are little-endian.
const (
	startOfFrame     = 0x01
	binaryHeaderSize = 8

	// TypePointCloud carries the raw detections, TypeTargetInfo the
	// clustered targets. Both payloads are a little-endian int32 count
	// followed by that many records of {cluster int32, x, y, z, dop float32}.
	TypePointCloud uint16 = 0x0A08
	TypeTargetInfo uint16 = 0x0A04

	binaryTargetSize = 20

	// MaxBinaryPayload bounds LEN. A longer length is treated as line noise.
	MaxBinaryPayload = 4 + 64*binaryTargetSize
)

var errBadChecksum = errors.New("bad checksum")

func checksum(b []byte) byte {
	var c byte
	for _, v := range b {
		c ^= v
	}
	return ^c
}

// EncodeBinary builds one sensor frame around payload.
func EncodeBinary(id, typ uint16, payload []byte) []byte {
	b := make([]byte, 0, binaryHeaderSize+len(payload)+1)
	b = append(b, startOfFrame, byte(id>>8), byte(id), byte(len(payload)>>8), byte(len(payload)), byte(typ>>8), byte(typ))
	b = append(b, checksum(b))
	b = append(b, payload...)
	return append(b, checksum(payload))
}

// EncodePointCloud builds the payload for f's targets. Targets without an id
// are sent as cluster -1.
func EncodePointCloud(f *Frame) []byte {
	b := binary.LittleEndian.AppendUint32(nil, uint32(len(f.Targets)))
	for _, t := range f.Targets {
		id := int32(-1)
		if t.ID != nil {
			id = int32(*t.ID)
		}
		b = binary.LittleEndian.AppendUint32(b, uint32(id))
		for _, v := range []float64{t.X, t.Y, t.Z, t.Speed} {
			b = binary.LittleEndian.AppendUint32(b, math.Float32bits(float32(v)))
		}
	}
	return b
}

// DecodePointCloud parses a TypePointCloud or TypeTargetInfo payload. The
// Doppler value becomes the target speed and the cluster index its id. The
// sensor sends no timestamp.
func DecodePointCloud(payload []byte) (*Frame, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("%w: point cloud payload of %d bytes", ErrMalformedFrame, len(payload))
	}
	n := int32(binary.LittleEndian.Uint32(payload))
	if n < 0 || len(payload) != 4+int(n)*binaryTargetSize {
		return nil, fmt.Errorf("%w: %d targets in a %d byte payload", ErrMalformedFrame, n, len(payload))
	}
	f := &Frame{Targets: make([]Target, n)}
	for i := range f.Targets {
		rec := payload[4+i*binaryTargetSize:]
		id := int(int32(binary.LittleEndian.Uint32(rec)))
		val := func(k int) float64 {
			return float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[4+4*k:])))
		}
		f.Targets[i] = Target{X: val(0), Y: val(1), Z: val(2), Speed: val(3), ID: &id}
	}
	return f, nil
}

// BinaryDecoder pulls point cloud frames out of a raw sensor byte stream.
// Bytes before a start-of-frame marker and frames failing either checksum
// are skipped, as are frames of other types.
type BinaryDecoder struct {
	r       *bufio.Reader
	skipped int // frames failing a checksum or length check
}

func NewBinaryDecoder(r io.Reader) *BinaryDecoder {
	return &BinaryDecoder{r: bufio.NewReaderSize(r, binaryHeaderSize+MaxBinaryPayload+1)}
}

// Next returns the next point cloud frame. A well-framed payload that does
// not decode is returned as an error wrapping ErrMalformedFrame and the
// decoder stays usable. At the end of the stream it returns io.EOF, or
// io.ErrUnexpectedEOF when the stream ends inside a frame.
func (d *BinaryDecoder) Next() (*Frame, error) {
	for {
		typ, payload, err := d.nextRaw()
		if errors.Is(err, errBadChecksum) {
			d.skipped++
			continue
		}
		if err != nil {
			return nil, err
		}
		if typ != TypePointCloud && typ != TypeTargetInfo {
			continue
		}
		return DecodePointCloud(payload)
	}
}

// nextRaw resynchronises on the byte after a bad start marker so a frame
// hidden behind a corrupt one is still found.
func (d *BinaryDecoder) nextRaw() (uint16, []byte, error) {
	for {
		head, err := d.r.Peek(binaryHeaderSize)
		if err != nil {
			if len(head) > 0 && head[0] == startOfFrame {
				if errors.Is(err, io.EOF) {
					return 0, nil, io.ErrUnexpectedEOF
				}
				return 0, nil, err
			}
			if len(head) > 0 {
				d.r.Discard(1)
				continue
			}
			return 0, nil, err
		}
		if head[0] != startOfFrame {
			d.r.Discard(1)
			continue
		}
		n := int(binary.BigEndian.Uint16(head[3:5]))
		if checksum(head[:binaryHeaderSize-1]) != head[binaryHeaderSize-1] || n > MaxBinaryPayload {
			d.r.Discard(1)
			return 0, nil, errBadChecksum
		}
		typ := binary.BigEndian.Uint16(head[5:7])

		whole, err := d.r.Peek(binaryHeaderSize + n + 1)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return 0, nil, io.ErrUnexpectedEOF
			}
			return 0, nil, err
		}
		payload := whole[binaryHeaderSize : binaryHeaderSize+n]
		if checksum(payload) != whole[binaryHeaderSize+n] {
			d.r.Discard(1)
			return 0, nil, errBadChecksum
		}
		out := append([]byte(nil), payload...)
		d.r.Discard(len(whole))
		return typ, out, nil
	}
}
