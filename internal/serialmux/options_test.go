package serialmux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func TestPortOptionsNormalize(t *testing.T) {
	tests := []struct {
		name    string
		in      PortOptions
		want    PortOptions
		wantErr bool
	}{
		{"defaults", PortOptions{}, PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}, false},
		{"explicit", PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "even"}, PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "E"}, false},
		{"odd", PortOptions{Parity: " o "}, PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "O"}, false},
		{"data bits", PortOptions{DataBits: 9}, PortOptions{}, true},
		{"stop bits", PortOptions{StopBits: 3}, PortOptions{}, true},
		{"parity", PortOptions{Parity: "mark"}, PortOptions{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Normalize()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPortOptionsSerialMode(t *testing.T) {
	mode, err := PortOptions{}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, &serial.Mode{BaudRate: 115200, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}, mode)

	mode, err = PortOptions{StopBits: 2, Parity: "O"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
	assert.Equal(t, serial.OddParity, mode.Parity)

	_, err = PortOptions{DataBits: 4}.SerialMode()
	assert.Error(t, err)
}

func TestPortOptionsString(t *testing.T) {
	assert.Equal(t, "115200 8N1", PortOptions{}.String())
	assert.Equal(t, "9600 7E2", PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "E"}.String())
}
