package datalogger

import (
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockCatalog(t *testing.T) (*Catalog, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS sessions").WillReturnResult(sqlmock.NewResult(0, 0))
	c, err := NewCatalog(db)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	c.now = func() time.Time { return testStamp }
	return c, mock
}

func TestCatalogLifecycle(t *testing.T) {
	c, mock := newMockCatalog(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions (id, device, path, schema, started_at, records) VALUES (?, ?, ?, ?, ?, 0)")).
		WithArgs(sqlmock.AnyArg(), "/dev/ttyUSB0", "out.csv", "prefixed", testStamp.UnixMilli()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET records = ? WHERE id = ?")).
		WithArgs(50, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET records = ?, ended_at = ?, end_reason = ? WHERE id = ?")).
		WithArgs(73, testStamp.UnixMilli(), "interrupted", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := c.Begin(SessionInfo{Device: "/dev/ttyUSB0", Path: "out.csv", Schema: SchemaPrefixed}); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if c.Current() == "" {
		t.Fatal("Begin did not assign a session id")
	}
	if err := c.Progress(50); err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if err := c.End(73, ReasonInterrupted); err != nil {
		t.Fatalf("End: %v", err)
	}
	if c.Current() != "" {
		t.Fatal("End did not clear the current session")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCatalogNoSessionIsNoop(t *testing.T) {
	c, mock := newMockCatalog(t)

	if err := c.Progress(10); err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if err := c.End(10, ReasonIOError); err != nil {
		t.Fatalf("End: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCatalogRecent(t *testing.T) {
	c, mock := newMockCatalog(t)

	ended := testStamp.Add(time.Minute).UnixMilli()
	rows := sqlmock.NewRows([]string{"id", "device", "path", "schema", "started_at", "ended_at", "records", "end_reason"}).
		AddRow("b", "COM3", "b.csv", "header", testStamp.UnixMilli(), nil, 5, nil).
		AddRow("a", "COM3", "a.csv", "header", testStamp.Add(-time.Hour).UnixMilli(), ended, 600, "interrupted")
	mock.ExpectQuery("SELECT id, device, path, schema, started_at, ended_at, records, end_reason").
		WithArgs(2).
		WillReturnRows(rows)

	got, err := c.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows", len(got))
	}
	if got[0].ID != "b" || got[0].EndedAt != nil || got[0].EndReason != "" {
		t.Fatalf("running session row = %+v", got[0])
	}
	if got[1].EndedAt == nil || got[1].EndedAt.UnixMilli() != ended || got[1].Records != 600 || got[1].EndReason != "interrupted" {
		t.Fatalf("finished session row = %+v", got[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCatalogSqlite(t *testing.T) {
	c, err := OpenCatalog(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("OpenCatalog: %v", err)
	}
	defer c.Close()

	for _, dev := range []string{"COM3", "COM4"} {
		if err := c.Begin(SessionInfo{Device: dev, Path: dev + ".csv", Schema: SchemaHeader}); err != nil {
			t.Fatalf("Begin: %v", err)
		}
		c.Progress(10)
		if err := c.End(12, ReasonIOError); err != nil {
			t.Fatalf("End: %v", err)
		}
	}

	rows, err := c.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows", len(rows))
	}
	for _, r := range rows {
		if r.Records != 12 || r.EndReason != "io_error" || r.EndedAt == nil {
			t.Fatalf("unexpected row %+v", r)
		}
	}
}
