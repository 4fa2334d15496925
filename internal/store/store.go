// Package store records telemetry frames and mount events in SQLite.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"atmcs-sim/internal/telemetry"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
}

// Store is a SQLite backed telemetry and event recorder. It implements the
// simulator's writer interfaces.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	log *slog.Logger
}

// Open opens or creates the database at path and migrates it to the
// latest schema version.
func Open(ctx context.Context, path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" databases and write ordering sane.
	db.SetMaxOpenConns(1)
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}
	s := &Store{db: db, log: log}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// MigrateUp runs all pending migrations.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: closing it closes the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Version returns the schema version and dirty flag.
func (s *Store) Version() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{s.log}
	return m, nil
}

type migrateLogger struct{ log *slog.Logger }

func (l migrateLogger) Printf(format string, v ...any) {
	l.log.Debug(fmt.Sprintf("[migrate] "+format, v...))
}

func (l migrateLogger) Verbose() bool { return false }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Write records one frame.
func (s *Store) Write(f telemetry.Frame) error {
	return s.WriteBatch([]telemetry.Frame{f})
}

// WriteBatch records frames in a single transaction.
func (s *Store) WriteBatch(frames []telemetry.Frame) error {
	if len(frames) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(func(tx *sql.Tx) error {
		axisStmt, err := tx.Prepare(`INSERT INTO axis_telemetry
			(session_id, axis, position, velocity, acceleration, kind, sim_time, ts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer axisStmt.Close()
		for _, f := range frames {
			for _, r := range f.Axes {
				if _, err := axisStmt.Exec(r.SessionID, r.Axis, r.Position, r.Velocity, r.Acceleration,
					r.Kind, r.SimTime, r.Timestamp.UnixNano()); err != nil {
					return fmt.Errorf("insert axis row: %w", err)
				}
			}
			m := f.Mirror
			if _, err := tx.Exec(`INSERT INTO mirror_telemetry (session_id, state, port, sim_time, ts)
				VALUES (?, ?, ?, ?, ?)`, m.SessionID, m.State, m.Port, m.SimTime, m.Timestamp.UnixNano()); err != nil {
				return fmt.Errorf("insert mirror row: %w", err)
			}
			sm := f.Summary
			if _, err := tx.Exec(`INSERT INTO summary_telemetry
				(session_id, operational_state, held, last_fault_reason, sim_time, ts)
				VALUES (?, ?, ?, ?, ?, ?)`, sm.SessionID, sm.OperationalState, sm.Held, sm.LastFaultReason,
				sm.SimTime, sm.Timestamp.UnixNano()); err != nil {
				return fmt.Errorf("insert summary row: %w", err)
			}
		}
		return nil
	})
}

// WriteEvent records one event.
func (s *Store) WriteEvent(e telemetry.EventRow) error {
	return s.WriteEvents([]telemetry.EventRow{e})
}

// WriteEvents records events in a single transaction. Events already
// stored under the same id are ignored.
func (s *Store) WriteEvents(rows []telemetry.EventRow) error {
	if len(rows) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(func(tx *sql.Tx) error {
		for _, r := range rows {
			axes := r.Axes
			if axes == nil {
				axes = []string{}
			}
			data, err := json.Marshal(axes)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(`INSERT OR IGNORE INTO mount_events
				(event_id, session_id, event_type, axes, violation, commanded, limit_deg, port, reason, sim_time, ts)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				r.EventID, r.SessionID, r.EventType, string(data), r.Violation, r.Commanded, r.Limit,
				r.Port, r.Reason, r.SimTime, r.Timestamp.UnixNano()); err != nil {
				return fmt.Errorf("insert event: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Sessions lists the recorded session ids, oldest first.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id FROM summary_telemetry GROUP BY session_id ORDER BY MIN(ts)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Events returns the events of a session ordered by simulation time.
func (s *Store) Events(ctx context.Context, sessionID string) ([]telemetry.EventRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT event_id, event_type, axes, violation, commanded, limit_deg,
		port, reason, sim_time, ts FROM mount_events WHERE session_id = ? ORDER BY sim_time, rowid`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []telemetry.EventRow
	for rows.Next() {
		e := telemetry.EventRow{SessionID: sessionID}
		var axes string
		var ts int64
		if err := rows.Scan(&e.EventID, &e.EventType, &axes, &e.Violation, &e.Commanded, &e.Limit,
			&e.Port, &e.Reason, &e.SimTime, &ts); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(axes), &e.Axes); err != nil {
			return nil, fmt.Errorf("event %s axes: %w", e.EventID, err)
		}
		if len(e.Axes) == 0 {
			e.Axes = nil
		}
		e.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Frames rebuilds the recorded frames of a session ordered by simulation
// time.
func (s *Store) Frames(ctx context.Context, sessionID string) ([]telemetry.Frame, error) {
	var frames []telemetry.Frame
	index := make(map[float64]int)

	rows, err := s.db.QueryContext(ctx, `SELECT operational_state, held, last_fault_reason, sim_time, ts
		FROM summary_telemetry WHERE session_id = ? ORDER BY sim_time, rowid`, sessionID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		r := telemetry.SummaryRow{SessionID: sessionID}
		var ts int64
		if err := rows.Scan(&r.OperationalState, &r.Held, &r.LastFaultReason, &r.SimTime, &ts); err != nil {
			rows.Close()
			return nil, err
		}
		r.Timestamp = time.Unix(0, ts).UTC()
		index[r.SimTime] = len(frames)
		frames = append(frames, telemetry.Frame{Summary: r})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT state, port, sim_time, ts
		FROM mirror_telemetry WHERE session_id = ? ORDER BY sim_time, rowid`, sessionID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		r := telemetry.MirrorRow{SessionID: sessionID}
		var ts int64
		if err := rows.Scan(&r.State, &r.Port, &r.SimTime, &ts); err != nil {
			rows.Close()
			return nil, err
		}
		r.Timestamp = time.Unix(0, ts).UTC()
		if i, ok := index[r.SimTime]; ok {
			frames[i].Mirror = r
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT axis, position, velocity, acceleration, kind, sim_time, ts
		FROM axis_telemetry WHERE session_id = ? ORDER BY sim_time, rowid`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		r := telemetry.AxisRow{SessionID: sessionID}
		var ts int64
		if err := rows.Scan(&r.Axis, &r.Position, &r.Velocity, &r.Acceleration, &r.Kind, &r.SimTime, &ts); err != nil {
			return nil, err
		}
		r.Timestamp = time.Unix(0, ts).UTC()
		if i, ok := index[r.SimTime]; ok {
			frames[i].Axes = append(frames[i].Axes, r)
		}
	}
	return frames, rows.Err()
}
