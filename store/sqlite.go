package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	expression TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS executions (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	session_id TEXT NOT NULL,
	source TEXT NOT NULL,
	expression TEXT NOT NULL,
	variables BLOB,
	result REAL,
	error_code TEXT,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_executions_session
ON executions(session_id, seq);

CREATE INDEX IF NOT EXISTS idx_executions_created
ON executions(created_at);`

// timeLayout is fixed-width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStoreConfig configures the SQLite store.
type SQLiteStoreConfig struct {
	DSN string
}

// SQLiteStore persists sessions and history in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite-backed store.
func NewSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("sqlite store dsn is required")
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite store open: %w", err)
	}
	// One connection serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite store set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite store create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetExpression(ctx context.Context, sessionID string) (Session, bool, error) {
	var (
		sess      Session
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, expression, updated_at
FROM sessions
WHERE id = ?`, sessionID).Scan(&sess.ID, &sess.Expression, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, false, nil
		}
		return Session{}, false, fmt.Errorf("sqlite store get expression: %w", err)
	}

	sess.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return Session{}, false, fmt.Errorf("sqlite store parse updated_at: %w", err)
	}
	return sess, true, nil
}

func (s *SQLiteStore) SetExpression(ctx context.Context, session Session) error {
	if session.ID == "" {
		return ErrInvalidSession
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions (id, expression, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	expression = excluded.expression,
	updated_at = excluded.updated_at`,
		session.ID,
		session.Expression,
		formatTime(session.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite store set expression: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ClearExpression(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("sqlite store clear expression: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, exec Execution) error {
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = time.Now().UTC()
	}

	var vars []byte
	if len(exec.Variables) > 0 {
		var err error
		vars, err = json.Marshal(exec.Variables)
		if err != nil {
			return fmt.Errorf("sqlite store marshal variables: %w", err)
		}
	}

	var result sql.NullFloat64
	if exec.Result != nil {
		result = sql.NullFloat64{Float64: *exec.Result, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO executions (id, session_id, source, expression, variables, result, error_code, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID,
		exec.SessionID,
		exec.Source,
		exec.Expression,
		vars,
		result,
		nullIfEmpty(exec.ErrorCode),
		formatTime(exec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite store append: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, sessionID string, limit int) ([]Execution, error) {
	query := `
SELECT id, session_id, source, expression, variables, result, error_code, created_at
FROM executions`
	var args []any
	if sessionID != "" {
		query += "\nWHERE session_id = ?"
		args = append(args, sessionID)
	}
	query += "\nORDER BY seq DESC"
	if limit > 0 {
		query += "\nLIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite store list: %w", err)
	}
	defer rows.Close()

	var execs []Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store list rows: %w", err)
	}
	return execs, nil
}

func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM executions WHERE created_at < ?`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("sqlite store prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite store prune rows affected: %w", err)
	}
	return n, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type executionScanner interface {
	Scan(dest ...any) error
}

func scanExecution(scanner executionScanner) (Execution, error) {
	var (
		exec      Execution
		vars      []byte
		result    sql.NullFloat64
		errorCode sql.NullString
		createdAt string
	)
	if err := scanner.Scan(
		&exec.ID,
		&exec.SessionID,
		&exec.Source,
		&exec.Expression,
		&vars,
		&result,
		&errorCode,
		&createdAt,
	); err != nil {
		return Execution{}, fmt.Errorf("sqlite store scan execution: %w", err)
	}

	if len(vars) > 0 {
		if err := json.Unmarshal(vars, &exec.Variables); err != nil {
			return Execution{}, fmt.Errorf("sqlite store unmarshal variables: %w", err)
		}
	}
	if result.Valid {
		r := result.Float64
		exec.Result = &r
	}
	exec.ErrorCode = errorCode.String

	created, err := parseTime(createdAt)
	if err != nil {
		return Execution{}, fmt.Errorf("sqlite store parse created_at: %w", err)
	}
	exec.CreatedAt = created
	return exec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)
