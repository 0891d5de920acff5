// Package ledger keeps a durable record of how consultations ended
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pushpaanand/teleconsult/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS consultations (
	session_id     TEXT PRIMARY KEY,
	room_id        TEXT NOT NULL,
	participant_id TEXT NOT NULL,
	department     TEXT NOT NULL DEFAULT '',
	outcome        TEXT NOT NULL,
	reason         TEXT NOT NULL DEFAULT '',
	started_at     INTEGER NOT NULL,
	ended_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS consultations_ended_at ON consultations (ended_at);
`

// Ledger is a sqlite-backed outcome store
type Ledger struct {
	db *sql.DB
}

// Open opens (and if needed creates) the ledger database at path
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	// sqlite serialises writers; one connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger ping failed: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate ledger: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Record stores one ended consultation. Recording the same session twice keeps the first row.
func (l *Ledger) Record(ctx context.Context, rec models.ConsultationRecord) error {
	const query = `INSERT OR IGNORE INTO consultations
		(session_id, room_id, participant_id, department, outcome, reason, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := l.db.ExecContext(ctx, query,
		rec.SessionID,
		rec.RoomID,
		rec.ParticipantID,
		rec.Department,
		string(rec.Outcome),
		rec.Reason,
		rec.StartedAt.UnixMilli(),
		rec.EndedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record consultation: %w", err)
	}
	return nil
}

// List returns the most recently ended consultations first. A limit of zero or less returns all.
func (l *Ledger) List(ctx context.Context, limit int) ([]models.ConsultationRecord, error) {
	query := `SELECT session_id, room_id, participant_id, department, outcome, reason, started_at, ended_at
		FROM consultations ORDER BY ended_at DESC, session_id`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var records []models.ConsultationRecord
	for rows.Next() {
		var (
			rec              models.ConsultationRecord
			outcome          string
			started, stopped int64
		)
		if err := rows.Scan(&rec.SessionID, &rec.RoomID, &rec.ParticipantID, &rec.Department,
			&outcome, &rec.Reason, &started, &stopped); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		rec.Outcome = models.Outcome(outcome)
		rec.StartedAt = time.UnixMilli(started).UTC()
		rec.EndedAt = time.UnixMilli(stopped).UTC()
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return records, nil
}

// Close closes the database
func (l *Ledger) Close() error {
	return l.db.Close()
}
