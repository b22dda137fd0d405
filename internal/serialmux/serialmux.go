// Package serialmux reads newline-delimited output from a single serial
// device and fans each line out to any number of subscribers. Subscribers that
// fall behind lose lines rather than stall the reader.
package serialmux

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"tailscale.com/tsweb"

	"github.com/banshee-data/pointcloud.report/internal/httputil"
)

var ErrWriteFailed = errors.New("failed to write to serial port")

// SubscriberBuffer is the number of lines queued per subscriber before new
// lines are dropped for that subscriber.
const SubscriberBuffer = 16

// maxLineLength bounds a single line. Frames from a busy sensor run to a few
// kilobytes.
const maxLineLength = 1 << 20

// Mux is the behaviour shared by real and mock multiplexers.
type Mux interface {
	// Subscribe returns an id and a channel receiving every line read after
	// the call. The channel is closed by Unsubscribe or Close.
	Subscribe() (string, chan string)
	Unsubscribe(string)
	// SendCommand writes a newline-terminated command to the device.
	SendCommand(string) error
	// Monitor reads lines until ctx is cancelled or the port fails.
	Monitor(context.Context) error
	Close() error
	Stats() Stats
	// AttachAdminRoutes registers the serial debug endpoints under /debug/.
	AttachAdminRoutes(*http.ServeMux)
}

// Stats counts lines seen by Monitor.
type Stats struct {
	Lines       uint64 `json:"lines"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}

// SerialMux multiplexes one SerialPorter.
type SerialMux[T SerialPorter] struct {
	port T

	mu          sync.Mutex
	subscribers map[string]chan string
	closing     bool

	commandMu sync.Mutex

	lines   atomic.Uint64
	dropped atomic.Uint64
}

var _ Mux = (*SerialMux[SerialPorter])(nil)

// NewSerialMux wraps port. The caller starts Monitor.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		subscribers: make(map[string]chan string),
	}
}

func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := uuid.NewString()
	ch := make(chan string, SubscriberBuffer)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		close(ch)
		return id, ch
	}
	s.subscribers[id] = ch
	return id, ch
}

func (s *SerialMux[T]) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

func (s *SerialMux[T]) SendCommand(command string) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return fmt.Errorf("write %q: %w", strings.TrimSpace(command), err)
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor scans the port in a helper goroutine so that cancellation is not
// held up by a blocking Read. It returns nil when the port reaches EOF or the
// mux is closed.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)
	scan.Buffer(make([]byte, 0, 64*1024), maxLineLength)

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for scan.Scan() {
			select {
			case lines <- strings.TrimRight(scan.Text(), "\r"):
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			scanErr <- err
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-scanErr:
			if s.isClosing() {
				return nil
			}
			return fmt.Errorf("read serial port: %w", err)
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if !s.isClosing() {
						return fmt.Errorf("read serial port: %w", err)
					}
				default:
				}
				return nil
			}
			if !s.publish(line) {
				return nil
			}
		}
	}
}

// publish delivers line to every subscriber without blocking. It reports
// false once the mux is closing.
func (s *SerialMux[T]) publish(line string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.lines.Add(1)
	for _, ch := range s.subscribers {
		select {
		case ch <- line:
		default:
			s.dropped.Add(1)
		}
	}
	return true
}

func (s *SerialMux[T]) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// Close closes every subscriber channel and then the port.
func (s *SerialMux[T]) Close() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.mu.Unlock()
	return s.port.Close()
}

func (s *SerialMux[T]) Stats() Stats {
	s.mu.Lock()
	n := len(s.subscribers)
	s.mu.Unlock()
	return Stats{
		Lines:       s.lines.Load(),
		Dropped:     s.dropped.Load(),
		Subscribers: n,
	}
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("serial", "serial line counters", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, s.Stats())
	})

	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := s.SendCommand(command); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "Wrote command %q to serial port", command)
	})

	// Server-sent events, one per serial line.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		fmt.Fprint(w, ": ping\n\n")
		flusher.Flush()
		for {
			select {
			case line, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
