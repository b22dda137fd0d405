package serialmux

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pointcloud.report/internal/testutil"
)

func TestSendCommandAPI(t *testing.T) {
	port := newPipePort()
	m := NewSerialMux(port)
	mux := http.NewServeMux()
	m.AttachAdminRoutes(mux)

	tests := []struct {
		name   string
		method string
		form   url.Values
		status int
		body   string
	}{
		{"valid", http.MethodPost, url.Values{"command": {"report"}}, http.StatusOK, `Wrote command "report"`},
		{"empty", http.MethodPost, url.Values{"command": {"  "}}, http.StatusBadRequest, "Missing command"},
		{"missing", http.MethodPost, url.Values{}, http.StatusBadRequest, "Missing command"},
		{"get", http.MethodGet, nil, http.StatusMethodNotAllowed, "Method not allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.form != nil {
				body = strings.NewReader(tt.form.Encode())
			}
			req := testutil.LocalRequest(tt.method, "/debug/send-command-api", body)
			if tt.form != nil {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.body)
		})
	}
	assert.Equal(t, "report\n", port.Written())
}

func TestSerialStatsRoute(t *testing.T) {
	m := NewSerialMux(newPipePort())
	m.Subscribe()
	mux := http.NewServeMux()
	m.AttachAdminRoutes(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, testutil.LocalRequest(http.MethodGet, "/debug/serial", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var got Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, Stats{Subscribers: 1}, got)
}

func TestDebugRoutesRejectRemote(t *testing.T) {
	m := NewSerialMux(newPipePort())
	mux := http.NewServeMux()
	m.AttachAdminRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/debug/serial", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestTailStreamsLines(t *testing.T) {
	port := newPipePort()
	m := NewSerialMux(port)
	mux := http.NewServeMux()
	m.AttachAdminRoutes(mux)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Monitor(ctx)

	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/debug/tail")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	ping, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": ping\n", ping)

	go io.WriteString(port.feed, "{\"targets\":[]}\n")

	deadline := time.After(2 * time.Second)
	lines := make(chan string)
	go func() {
		for {
			l, err := r.ReadString('\n')
			if err != nil {
				close(lines)
				return
			}
			lines <- l
		}
	}()
	for {
		select {
		case l, ok := <-lines:
			require.True(t, ok, "stream ended early")
			if strings.HasPrefix(l, "data: ") {
				assert.Equal(t, "data: {\"targets\":[]}\n", l)
				return
			}
		case <-deadline:
			t.Fatal("no event received")
		}
	}
}
