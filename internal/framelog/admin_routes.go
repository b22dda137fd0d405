package framelog

import (
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/pointcloud.report/internal/httputil"
)

// AttachAdminRoutes mounts a tailsql console over the log at
// /debug/tailsql/ and a JSON session listing at /debug/sessions.
func (l *Log) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(l.path), l.db, &tailsql.DBOptions{
		Label: "Frame log",
	})
	debug.Handle("tailsql/", "SQL console over the frame log", tsql.NewMux())

	debug.HandleFunc("sessions", "recorded sessions", func(w http.ResponseWriter, r *http.Request) {
		sessions, err := l.Sessions(r.Context())
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		if sessions == nil {
			sessions = []Session{}
		}
		httputil.WriteJSONOK(w, sessions)
	})
	return nil
}
