package datalogger

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SessionRecorder keeps a durable trail of logging sessions.
type SessionRecorder interface {
	Begin(info SessionInfo) error
	Progress(records int) error
	End(records int, reason Reason) error
}

type SessionInfo struct {
	Device string
	Path   string
	Schema Schema
}

// SessionRow is one row of the catalog.
type SessionRow struct {
	ID        string     `json:"id"`
	Device    string     `json:"device"`
	Path      string     `json:"path"`
	Schema    string     `json:"schema"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Records   int        `json:"records"`
	EndReason string     `json:"end_reason,omitempty"`
}

const catalogSchema = `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		device TEXT NOT NULL,
		path TEXT NOT NULL,
		schema TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		records INTEGER NOT NULL DEFAULT 0,
		end_reason TEXT
	)
`

// Catalog is a sqlite-backed SessionRecorder.
type Catalog struct {
	db      *sql.DB
	current string
	now     func() time.Time
}

// OpenCatalog opens (and creates) the sqlite catalog at path.
func OpenCatalog(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	c, err := NewCatalog(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// NewCatalog prepares the schema on an already open database.
func NewCatalog(db *sql.DB) (*Catalog, error) {
	if _, err := db.Exec(catalogSchema); err != nil {
		return nil, fmt.Errorf("create sessions table: %w", err)
	}
	return &Catalog{db: db, now: time.Now}, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

func (c *Catalog) Begin(info SessionInfo) error {
	id := uuid.NewString()
	_, err := c.db.Exec(
		`INSERT INTO sessions (id, device, path, schema, started_at, records) VALUES (?, ?, ?, ?, ?, 0)`,
		id, info.Device, info.Path, string(info.Schema), c.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	c.current = id
	return nil
}

func (c *Catalog) Progress(records int) error {
	if c.current == "" {
		return nil
	}
	_, err := c.db.Exec(`UPDATE sessions SET records = ? WHERE id = ?`, records, c.current)
	return err
}

func (c *Catalog) End(records int, reason Reason) error {
	if c.current == "" {
		return nil
	}
	_, err := c.db.Exec(
		`UPDATE sessions SET records = ?, ended_at = ?, end_reason = ? WHERE id = ?`,
		records, c.now().UnixMilli(), string(reason), c.current,
	)
	c.current = ""
	return err
}

// Current returns the id of the session in progress, if any.
func (c *Catalog) Current() string { return c.current }

// Recent lists the newest sessions first.
func (c *Catalog) Recent(limit int) ([]SessionRow, error) {
	rows, err := c.db.Query(`
		SELECT id, device, path, schema, started_at, ended_at, records, end_reason
		FROM sessions
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SessionRow
	for rows.Next() {
		var (
			row     SessionRow
			started int64
			ended   sql.NullInt64
			reason  sql.NullString
		)
		if err := rows.Scan(&row.ID, &row.Device, &row.Path, &row.Schema, &started, &ended, &row.Records, &reason); err != nil {
			return nil, err
		}
		row.StartedAt = time.UnixMilli(started)
		if ended.Valid {
			t := time.UnixMilli(ended.Int64)
			row.EndedAt = &t
		}
		row.EndReason = reason.String
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
