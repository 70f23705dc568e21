package calendar

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists events in a local SQLite database (WAL mode).
type SQLiteStore struct {
	db       *sql.DB
	linkBase string
}

func NewSQLiteStore(ctx context.Context, dbPath, linkBase string) (*SQLiteStore, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	store := &SQLiteStore{db: db, linkBase: strings.TrimRight(linkBase, "/")}
	if err := store.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS events (
		id          TEXT PRIMARY KEY,
		summary     TEXT NOT NULL,
		start_at    TEXT NOT NULL,
		end_at      TEXT NOT NULL,
		start_unix  INTEGER NOT NULL,
		all_day     INTEGER NOT NULL DEFAULT 0,
		location    TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		recurrence  TEXT NOT NULL DEFAULT '[]',
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_start ON events(start_unix);`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const eventColumns = `id, summary, start_at, end_at, all_day, location, description, recurrence`

func (s *SQLiteStore) List(ctx context.Context) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events ORDER BY start_unix, id`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		ev, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	ev, err := s.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, ErrNotFound
	}
	return ev, err
}

func (s *SQLiteStore) Insert(ctx context.Context, in ResolvedEvent) (Event, error) {
	ev := Event{
		ID:          uuid.NewString(),
		Summary:     in.Summary,
		Start:       in.Start,
		End:         in.End,
		AllDay:      in.AllDay,
		Location:    in.Location,
		Description: in.Description,
		Recurrence:  append([]string(nil), in.Recurrence...),
	}
	if err := validate(ev); err != nil {
		return Event{}, fmt.Errorf("insert event: %w", err)
	}
	rec, err := json.Marshal(nonNil(ev.Recurrence))
	if err != nil {
		return Event{}, fmt.Errorf("marshal recurrence: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, summary, start_at, end_at, start_unix, all_day, location, description, recurrence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Summary, formatTime(ev.Start), formatTime(ev.End), ev.Start.Unix(), boolToInt(ev.AllDay),
		ev.Location, ev.Description, string(rec), now, now,
	)
	if err != nil {
		return Event{}, fmt.Errorf("insert event: %w", err)
	}
	ev.Link = linkFor(s.linkBase, ev.ID)
	return ev, nil
}

func (s *SQLiteStore) Update(ctx context.Context, id string, patch Patch) (Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Event{}, fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := s.scan(tx.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, ErrNotFound
	}
	if err != nil {
		return Event{}, err
	}
	next := patch.apply(current)
	if err := validate(next); err != nil {
		return Event{}, fmt.Errorf("update event %s: %w", id, err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE events
		SET summary = ?, start_at = ?, end_at = ?, start_unix = ?, location = ?, description = ?, updated_at = ?
		WHERE id = ?`,
		next.Summary, formatTime(next.Start), formatTime(next.End), next.Start.Unix(),
		next.Location, next.Description, time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return Event{}, fmt.Errorf("update event %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return Event{}, fmt.Errorf("commit update: %w", err)
	}
	return next, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete event %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete event %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scan(row rowScanner) (Event, error) {
	var (
		ev             Event
		startAt, endAt string
		allDay         int
		recurrenceJSON string
	)
	if err := row.Scan(&ev.ID, &ev.Summary, &startAt, &endAt, &allDay, &ev.Location, &ev.Description, &recurrenceJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Event{}, err
		}
		return Event{}, fmt.Errorf("scan event: %w", err)
	}
	var err error
	if ev.Start, err = time.Parse(time.RFC3339Nano, startAt); err != nil {
		return Event{}, fmt.Errorf("parse start of %s: %w", ev.ID, err)
	}
	if ev.End, err = time.Parse(time.RFC3339Nano, endAt); err != nil {
		return Event{}, fmt.Errorf("parse end of %s: %w", ev.ID, err)
	}
	if err := json.Unmarshal([]byte(recurrenceJSON), &ev.Recurrence); err != nil {
		return Event{}, fmt.Errorf("parse recurrence of %s: %w", ev.ID, err)
	}
	if len(ev.Recurrence) == 0 {
		ev.Recurrence = nil
	}
	ev.AllDay = allDay != 0
	ev.Link = linkFor(s.linkBase, ev.ID)
	return ev, nil
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
