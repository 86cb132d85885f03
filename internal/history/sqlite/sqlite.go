package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/pdfpipe/internal/history"
)

// Sink writes history events to a SQLite database.
type Sink struct {
	db *sql.DB
}

// New creates a new SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}

	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = strings.TrimPrefix(dsn, "sqlite://")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	// Append-only audit table. Timestamp defaults to CURRENT_TIMESTAMP when not provided.
	stmt := `CREATE TABLE IF NOT EXISTS stage_history(
		occurred_at TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
		event TEXT NOT NULL,
		process_id TEXT NOT NULL,
		entity TEXT,
		stage TEXT,
		stage_index INTEGER,
		pid INTEGER,
		exit_code INTEGER,
		success BOOLEAN NOT NULL,
		artifact TEXT
	);`
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	rec := e.Record
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stage_history(occurred_at, event, process_id, entity, stage, stage_index, pid, exit_code, success, artifact)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		e.OccurredAt.UTC(), string(e.Type), rec.ProcessID, rec.Entity, rec.Stage,
		rec.StageIndex, rec.PID, rec.ExitCode, rec.Success, rec.Artifact)
	return err
}

// Recent returns up to limit most recent events, newest first.
func (s *Sink) Recent(ctx context.Context, limit int) ([]history.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT process_id, COALESCE(entity,''), COALESCE(stage,''), COALESCE(stage_index,0),
		       COALESCE(pid,0), COALESCE(exit_code,0), success, COALESCE(artifact,'')
		FROM stage_history ORDER BY rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []history.Record
	for rows.Next() {
		var r history.Record
		if err := rows.Scan(&r.ProcessID, &r.Entity, &r.Stage, &r.StageIndex,
			&r.PID, &r.ExitCode, &r.Success, &r.Artifact); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
