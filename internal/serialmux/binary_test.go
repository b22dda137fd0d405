package serialmux

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pointcloud.report/internal/frame"
	"github.com/banshee-data/pointcloud.report/internal/monitoring"
)

func TestBinaryPortEmitsFrameLines(t *testing.T) {
	rec := &monitoring.Recorder{}
	original := monitoring.Logf
	monitoring.SetLogger(rec.Logf)
	t.Cleanup(func() { monitoring.Logf = original })

	inner := newPipePort()
	m := NewSerialMux(NewBinaryPort(inner))
	_, ch := m.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Monitor(ctx) }()

	id := 3
	cloud := &frame.Frame{Targets: []frame.Target{{X: 0.5, Y: 1, Z: 0.25, Speed: -1.5, ID: &id}}}
	go func() {
		inner.feed.Write([]byte{0x00, 0x42})
		inner.feed.Write(frame.EncodeBinary(1, frame.TypePointCloud, []byte{0x05, 0, 0, 0}))
		inner.feed.Write(frame.EncodeBinary(2, 0x0F09, []byte{1}))
		inner.feed.Write(frame.EncodeBinary(3, frame.TypePointCloud, frame.EncodePointCloud(cloud)))
		inner.feed.Close()
	}()

	line := recv(t, ch)
	f, err := frame.Parse(line)
	require.NoError(t, err)
	assert.Equal(t, cloud.Points(), f.Points())
	assert.Equal(t, []float64{-1.5}, f.Speeds())
	assert.Equal(t, []int{3}, f.TargetIDs())
	assert.Nil(t, f.Timestamp)

	require.NoError(t, <-done)
	assert.Equal(t, uint64(1), m.Stats().Lines)

	logs := rec.Lines()
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0], "dropping binary frame")

	require.NoError(t, m.SendCommand("getAll"))
	assert.Equal(t, "getAll\n", inner.Written())
	require.NoError(t, m.Close())
	assert.True(t, inner.closed)
}

func TestMockBinarySerialMuxReplaysFixture(t *testing.T) {
	m, err := NewMockBinarySerialMux(strings.NewReader(fixture), ReplayOptions{})
	require.NoError(t, err)
	_, ch := m.Subscribe()

	require.NoError(t, m.Monitor(context.Background()))

	var got []*frame.Frame
	for len(ch) > 0 {
		f, err := frame.Parse(<-ch)
		require.NoError(t, err)
		got = append(got, f)
	}
	require.Len(t, got, 2)
	assert.InDeltaSlice(t, []float64{0.1, 0.5, 0.2}, []float64{got[0].Targets[0].X, got[0].Targets[0].Y, got[0].Targets[0].Z}, 1e-6)
	assert.InDelta(t, 1.5, got[0].Targets[0].Speed, 1e-6)
	assert.Equal(t, []int{-1}, got[0].TargetIDs())
	assert.True(t, got[1].Empty())
	require.NoError(t, m.Close())
}
