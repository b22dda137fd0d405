package frame

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/pointcloud.report/internal/monitoring"
	"github.com/banshee-data/pointcloud.report/internal/timeutil"
)

// DefaultReadTimeout bounds how long ReadNextFrame waits for a line.
const DefaultReadTimeout = time.Second

// LineSource is satisfied by serialmux.Mux.
type LineSource interface {
	Subscribe() (string, chan string)
	Unsubscribe(string)
}

// Reader pulls frame lines from a subscription to a LineSource.
type Reader struct {
	src     LineSource
	id      string
	lines   chan string
	timeout time.Duration
	clock   timeutil.Clock

	closeOnce sync.Once
}

// NewReader subscribes to src. Lines arriving before NewReader are not seen.
// A non-positive timeout selects DefaultReadTimeout and a nil clock the wall
// clock.
func NewReader(src LineSource, timeout time.Duration, clock timeutil.Clock) *Reader {
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	id, lines := src.Subscribe()
	return &Reader{src: src, id: id, lines: lines, timeout: timeout, clock: clock}
}

// ReadNextFrame waits up to the read timeout for one line. It returns the
// line and true only when the line looks like a JSON frame. Other lines, such
// as the sensor's "no data" notice, are logged and dropped. It never blocks
// past ctx.
func (r *Reader) ReadNextFrame(ctx context.Context) (string, bool) {
	timer := r.clock.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return "", false
	case <-timer.C():
		return "", false
	case line, ok := <-r.lines:
		if !ok {
			return "", false
		}
		line = strings.TrimSpace(line)
		if IsFrameLine(line) {
			return line, true
		}
		if line != "" {
			monitoring.Logf("ignoring non-frame line: %q", line)
		}
		return "", false
	}
}

// Close ends the subscription.
func (r *Reader) Close() {
	r.closeOnce.Do(func() { r.src.Unsubscribe(r.id) })
}
