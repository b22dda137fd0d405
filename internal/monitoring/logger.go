// Package monitoring holds the process-wide diagnostic logger.
package monitoring

import (
	"fmt"
	"log"
	"sync"
)

// Logf is used for every diagnostic line the pipeline emits. It defaults to
// log.Printf. Replace it with SetLogger rather than assigning directly while
// goroutines are running.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces Logf. Passing nil mutes logging.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Recorder collects formatted log lines. Install it with SetLogger(r.Logf).
type Recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *Recorder) Logf(format string, v ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, fmt.Sprintf(format, v...))
}

// Lines returns a copy of everything logged so far.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}
