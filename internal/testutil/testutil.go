// Package testutil provides helpers shared by tests across the module.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// LocalRequest builds a request that appears to come from loopback, which
// tsweb requires before it serves /debug/ routes.
func LocalRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

// Target is one detection in the sensor's JSON wire format.
type Target struct {
	X, Y, Z, Speed float64
	ID             int
}

type wireTarget struct {
	X     float64 `json:"x_point"`
	Y     float64 `json:"y_point"`
	Z     float64 `json:"z_point"`
	Speed float64 `json:"move_speed"`
	ID    int     `json:"target_id"`
}

// FrameLine encodes a frame line as the sensor prints it.
func FrameLine(t testing.TB, timestamp int64, targets ...Target) string {
	t.Helper()
	wire := struct {
		Timestamp int64        `json:"timestamp"`
		Targets   []wireTarget `json:"targets"`
	}{Timestamp: timestamp, Targets: make([]wireTarget, 0, len(targets))}
	for _, tg := range targets {
		wire.Targets = append(wire.Targets, wireTarget(tg))
	}
	b, err := json.Marshal(wire)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	return string(b)
}
