package serialmux

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/pointcloud.report/internal/timeutil"
)

// ReplayOptions controls how a ReplayPort paces its lines.
type ReplayOptions struct {
	// Interval between lines. Zero writes lines as fast as they are read.
	Interval time.Duration
	// Loop restarts from the first line after the last instead of reporting
	// EOF.
	Loop  bool
	Clock timeutil.Clock
}

// ReplayPort is a SerialPorter that plays back recorded lines, standing in
// for the sensor in dev mode and in tests. Commands written to it are kept
// for inspection.
type ReplayPort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu       sync.Mutex
	commands bytes.Buffer

	done      chan struct{}
	closeOnce sync.Once
}

// NewReplayPort starts playing lines into the port's read side.
func NewReplayPort(lines []string, opts ReplayOptions) *ReplayPort {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	r, w := io.Pipe()
	p := &ReplayPort{r: r, w: w, done: make(chan struct{})}
	go p.play(lines, opts)
	return p
}

func (p *ReplayPort) play(lines []string, opts ReplayOptions) {
	var tick <-chan time.Time
	if opts.Interval > 0 {
		ticker := opts.Clock.NewTicker(opts.Interval)
		defer ticker.Stop()
		tick = ticker.C()
	}
	for {
		for _, line := range lines {
			if tick != nil {
				select {
				case <-tick:
				case <-p.done:
					return
				}
			}
			if _, err := io.WriteString(p.w, line+"\n"); err != nil {
				return
			}
		}
		if !opts.Loop || len(lines) == 0 {
			p.w.Close()
			return
		}
	}
}

func (p *ReplayPort) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *ReplayPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.commands.Write(b)
}

// Commands returns the commands written so far, one per element.
func (p *ReplayPort) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.FieldsFunc(p.commands.String(), func(r rune) bool { return r == '\n' })
}

func (p *ReplayPort) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		p.r.Close()
	})
	return nil
}

// ReadLines splits a fixture or replay stream into its non-blank lines.
func ReadLines(r io.Reader) ([]string, error) {
	var lines []string
	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	for scan.Scan() {
		line := strings.TrimRight(scan.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scan.Err(); err != nil {
		return nil, fmt.Errorf("read replay lines: %w", err)
	}
	return lines, nil
}

// NewMockSerialMux returns a SerialMux replaying the lines in src.
func NewMockSerialMux(src io.Reader, opts ReplayOptions) (*SerialMux[*ReplayPort], error) {
	lines, err := ReadLines(src)
	if err != nil {
		return nil, err
	}
	return NewSerialMux(NewReplayPort(lines, opts)), nil
}
