package serialmux

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipePort is a SerialPorter whose read side is fed by the test.
type pipePort struct {
	*io.PipeReader
	feed *io.PipeWriter

	mu       sync.Mutex
	written  strings.Builder
	writeErr error
	short    bool
	closed   bool
}

func newPipePort() *pipePort {
	r, w := io.Pipe()
	return &pipePort{PipeReader: r, feed: w}
}

func (p *pipePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	if p.short {
		return len(b) - 1, nil
	}
	return p.written.Write(b)
}

func (p *pipePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.PipeReader.Close()
}

func (p *pipePort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

func recv(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case line, ok := <-ch:
		require.True(t, ok, "channel closed")
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for line")
		return ""
	}
}

func startMonitor(t *testing.T, m *SerialMux[*pipePort]) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Monitor(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestMonitorFansOutLines(t *testing.T) {
	port := newPipePort()
	m := NewSerialMux(port)
	_, a := m.Subscribe()
	_, b := m.Subscribe()
	_, done := startMonitor(t, m)

	go func() {
		io.WriteString(port.feed, "{\"targets\":[]}\r\nno data\n")
		port.feed.Close()
	}()

	assert.Equal(t, `{"targets":[]}`, recv(t, a))
	assert.Equal(t, "no data", recv(t, a))
	assert.Equal(t, `{"targets":[]}`, recv(t, b))
	assert.Equal(t, "no data", recv(t, b))

	select {
	case err := <-done:
		assert.NoError(t, err, "EOF ends Monitor cleanly")
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return at EOF")
	}
	assert.Equal(t, Stats{Lines: 2, Subscribers: 2}, m.Stats())
}

func TestMonitorDropsForSlowSubscriber(t *testing.T) {
	port := newPipePort()
	m := NewSerialMux(port)
	_, slow := m.Subscribe()
	_, done := startMonitor(t, m)

	total := SubscriberBuffer + 4
	go func() {
		for i := 0; i < total; i++ {
			io.WriteString(port.feed, "line\n")
		}
		port.feed.Close()
	}()
	<-done

	assert.Len(t, slow, SubscriberBuffer)
	stats := m.Stats()
	assert.Equal(t, uint64(total), stats.Lines)
	assert.Equal(t, uint64(4), stats.Dropped)
}

func TestMonitorContextCancel(t *testing.T) {
	m := NewSerialMux(newPipePort())
	cancel, done := startMonitor(t, m)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor ignored cancellation")
	}
}

func TestMonitorReadError(t *testing.T) {
	port := newPipePort()
	m := NewSerialMux(port)
	_, done := startMonitor(t, m)

	boom := errors.New("device unplugged")
	port.feed.CloseWithError(boom)
	err := <-done
	assert.ErrorIs(t, err, boom)
}

func TestCloseStopsMonitorAndClosesSubscribers(t *testing.T) {
	port := newPipePort()
	m := NewSerialMux(port)
	_, ch := m.Subscribe()
	_, done := startMonitor(t, m)

	require.NoError(t, m.Close())
	_, ok := <-ch
	assert.False(t, ok)
	assert.True(t, port.closed)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not stop after Close")
	}

	// a second Close is a no-op and late subscribers get a closed channel
	assert.NoError(t, m.Close())
	_, late := m.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
}

func TestUnsubscribe(t *testing.T) {
	m := NewSerialMux(newPipePort())
	id, ch := m.Subscribe()
	assert.Equal(t, 1, m.Stats().Subscribers)

	m.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, m.Stats().Subscribers)

	assert.NotPanics(t, func() { m.Unsubscribe(id) })
}

func TestSendCommand(t *testing.T) {
	port := newPipePort()
	m := NewSerialMux(port)

	require.NoError(t, m.SendCommand("reset"))
	require.NoError(t, m.SendCommand("report\n"))
	assert.Equal(t, "reset\nreport\n", port.Written())

	port.short = true
	assert.ErrorIs(t, m.SendCommand("x"), ErrWriteFailed)

	port.short = false
	port.writeErr = errors.New("busy")
	assert.ErrorContains(t, m.SendCommand("x"), "busy")
}
