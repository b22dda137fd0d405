// Package framelog records accepted frame lines in SQLite so that a session
// can be inspected later or replayed through the viewer in place of the
// sensor.
package framelog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/pointcloud.report/internal/frame"
	"github.com/banshee-data/pointcloud.report/internal/monitoring"
	"github.com/banshee-data/pointcloud.report/internal/timeutil"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUnknownSession is returned when a session id has no rows.
var ErrUnknownSession = errors.New("unknown session")

// Log is a frame log backed by one SQLite file.
type Log struct {
	db    *sql.DB
	path  string
	clock timeutil.Clock
}

// Session is one viewer run.
type Session struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Method    string    `json:"method"`
	Source    string    `json:"source"`
	Frames    int       `json:"frames"`
}

// Record is one stored frame line.
type Record struct {
	ID             int64     `json:"id"`
	SessionID      string    `json:"session_id"`
	ReceivedAt     time.Time `json:"received_at"`
	FrameTimestamp *int64    `json:"frame_timestamp,omitempty"`
	Targets        int       `json:"targets"`
	Line           string    `json:"line"`
}

// Open opens or creates the log at path and migrates it to the latest
// schema. A nil clock selects the wall clock.
func Open(path string, clock timeutil.Clock) (*Log, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open frame log %s: %w", path, err)
	}
	// one connection keeps the per-connection pragmas in force
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	l := &Log{db: db, path: path, clock: clock}
	if err := l.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(l.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

// MigrateUp applies pending migrations. The migrate instance is not closed
// because that would close the shared connection.
func (l *Log) MigrateUp() error {
	m, err := l.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateDown reverts every migration.
func (l *Log) MigrateDown() error {
	m, err := l.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

// Version reports the applied schema version.
func (l *Log) Version() (uint, bool, error) {
	m, err := l.newMigrate()
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

func (l *Log) Close() error { return l.db.Close() }

// DB exposes the connection for the debug SQL console.
func (l *Log) DB() *sql.DB { return l.db }

// StartSession registers a new session and returns its id.
func (l *Log) StartSession(ctx context.Context, method, source string) (string, error) {
	id := uuid.NewString()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, started_unix_ms, method, source) VALUES (?, ?, ?, ?)`,
		id, l.clock.Now().UnixMilli(), method, source)
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	return id, nil
}

// Record stores one accepted frame line. f may be nil when the line was not
// parsed.
func (l *Log) Record(ctx context.Context, sessionID, line string, f *frame.Frame) error {
	var ts sql.NullInt64
	targets := 0
	if f != nil {
		if f.Timestamp != nil {
			ts = sql.NullInt64{Int64: *f.Timestamp, Valid: true}
		}
		targets = len(f.Targets)
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO frames (session_id, received_unix_ms, frame_timestamp, target_count, line) VALUES (?, ?, ?, ?, ?)`,
		sessionID, l.clock.Now().UnixMilli(), ts, targets, line)
	if err != nil {
		return fmt.Errorf("record frame: %w", err)
	}
	return nil
}

// Sessions lists sessions, newest first, with their frame counts.
func (l *Log) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT s.session_id, s.started_unix_ms, s.method, s.source, COUNT(f.frame_id)
		FROM sessions s
		LEFT JOIN frames f ON f.session_id = s.session_id
		GROUP BY s.session_id
		ORDER BY s.started_unix_ms DESC, s.rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		var started int64
		if err := rows.Scan(&s.ID, &started, &s.Method, &s.Source, &s.Frames); err != nil {
			return nil, err
		}
		s.StartedAt = time.UnixMilli(started).UTC()
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Frames returns a session's records in arrival order.
func (l *Log) Frames(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT frame_id, session_id, received_unix_ms, frame_timestamp, target_count, line
		FROM frames
		WHERE session_id = ?
		ORDER BY frame_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var received int64
		var ts sql.NullInt64
		if err := rows.Scan(&r.ID, &r.SessionID, &received, &ts, &r.Targets, &r.Line); err != nil {
			return nil, err
		}
		r.ReceivedAt = time.UnixMilli(received).UTC()
		if ts.Valid {
			v := ts.Int64
			r.FrameTimestamp = &v
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Replay returns a session's lines as a newline-delimited stream suitable
// for serialmux.NewMockSerialMux.
func (l *Log) Replay(ctx context.Context, sessionID string) (io.Reader, error) {
	records, err := l.Frames(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	var b strings.Builder
	for _, r := range records {
		b.WriteString(r.Line)
		b.WriteByte('\n')
	}
	return strings.NewReader(b.String()), nil
}
