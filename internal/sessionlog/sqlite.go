package sessionlog

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var initSchemaSQL string

const insertSessionSQL = `
INSERT INTO sessions (id, start_time, source)
VALUES (?, CURRENT_TIMESTAMP, ?)`

const updateSessionColumnsSQL = `
UPDATE sessions SET columns = ? WHERE id = ?`

const countRowsSQL = `
SELECT COUNT(*) FROM samples WHERE session_id = ?`

// SQLiteSink stores rows in a wide "samples" table keyed by session id.
// The table is created from the first header; later sessions must use the
// same node roles.
type SQLiteSink struct {
	db        *sql.DB
	sessionID string

	insert *sql.Stmt
	args   []any

	closeOnce sync.Once
	closeErr  error
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

// NewSQLiteSink opens (or creates) the database at path and registers a
// session row for sessionID.
func NewSQLiteSink(path, sessionID, source string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", path, "_journal_mode=WAL&_synchronous=NORMAL"))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite log: %w", err)
	}
	// One writer; avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	if _, err = db.Exec(initSchemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	if _, err = db.Exec(insertSessionSQL, sessionID, source); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("inserting session: %w", err)
	}
	return &SQLiteSink{db: db, sessionID: sessionID}, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (s *SQLiteSink) WriteHeader(columns []string) (err error) {
	defs := make([]string, 0, len(columns)+1)
	names := make([]string, 0, len(columns)+1)
	marks := make([]string, 0, len(columns)+1)

	defs = append(defs, "session_id TEXT NOT NULL")
	names = append(names, "session_id")
	marks = append(marks, "?")
	for _, c := range columns {
		defs = append(defs, quoteIdent(c)+" REAL")
		names = append(names, quoteIdent(c))
		marks = append(marks, "?")
	}

	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS samples (%s)", strings.Join(defs, ", "))
	if _, err = s.db.Exec(create); err != nil {
		return fmt.Errorf("creating samples table: %w", err)
	}
	if _, err = s.db.Exec("CREATE INDEX IF NOT EXISTS idx_samples_session ON samples (session_id)"); err != nil {
		return fmt.Errorf("creating samples index: %w", err)
	}

	cols, err := json.Marshal(columns)
	if err != nil {
		return fmt.Errorf("marshaling columns: %w", err)
	}
	if _, err = s.db.Exec(updateSessionColumnsSQL, string(cols), s.sessionID); err != nil {
		return fmt.Errorf("updating session: %w", err)
	}

	insert := fmt.Sprintf("INSERT INTO samples (%s) VALUES (%s)", strings.Join(names, ", "), strings.Join(marks, ", "))
	if s.insert, err = s.db.Prepare(insert); err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	s.args = make([]any, len(names))
	return nil
}

func (s *SQLiteSink) WriteRow(values []float64) error {
	if s.insert == nil {
		return fmt.Errorf("sqlite log: row before header")
	}
	if len(values)+1 != len(s.args) {
		return fmt.Errorf("sqlite log: row has %d values, want %d", len(values), len(s.args)-1)
	}
	s.args[0] = s.sessionID
	for i, v := range values {
		s.args[i+1] = v
	}
	if _, err := s.insert.Exec(s.args...); err != nil {
		return fmt.Errorf("inserting row: %w", err)
	}
	return nil
}

// Rows counts the rows stored for this sink's session.
func (s *SQLiteSink) Rows() (n int64, err error) {
	stmt, err := s.db.Prepare(countRowsSQL)
	if err != nil {
		return 0, fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	err = stmt.QueryRow(s.sessionID).Scan(&n)
	return n, err
}

func (s *SQLiteSink) Close() error {
	s.closeOnce.Do(func() {
		if s.insert != nil {
			if err := s.insert.Close(); err != nil {
				s.closeErr = err
			}
		}
		if err := s.db.Close(); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
	})
	return s.closeErr
}
