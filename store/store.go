// Package store persists per-session current expressions and the history of
// evaluations.
package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// DefaultSession is used when a caller does not name a session.
const DefaultSession = "default"

// Sentinel errors for store operations.
var (
	ErrInvalidSession = errors.New("session id is required")
	ErrClosed         = errors.New("store is closed")
)

// Session is the current expression slot of one caller. The expression is
// stored verbatim and is only parsed when executed.
type Session struct {
	ID         string    `json:"id"`
	Expression string    `json:"expression"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Execution records one evaluation attempt.
type Execution struct {
	ID         string             `json:"id"`
	SessionID  string             `json:"session_id"`
	Source     string             `json:"source"`
	Expression string             `json:"expression"`
	Variables  map[string]float64 `json:"variables,omitempty"`
	// Result is nil when the evaluation failed.
	Result    *float64  `json:"result,omitempty"`
	ErrorCode string    `json:"error_code,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionStore holds the current expression of each session. Writes are
// last-write-wins per session.
type SessionStore interface {
	GetExpression(ctx context.Context, sessionID string) (Session, bool, error)
	SetExpression(ctx context.Context, session Session) error
	ClearExpression(ctx context.Context, sessionID string) error
}

// HistoryStore is an append-only log of executions.
type HistoryStore interface {
	Append(ctx context.Context, exec Execution) error
	// List returns the newest executions first. An empty sessionID lists
	// every session; limit <= 0 means no limit.
	List(ctx context.Context, sessionID string, limit int) ([]Execution, error)
	// Prune deletes executions created before the cutoff and reports how
	// many were removed.
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Store combines both stores behind one handle.
type Store interface {
	SessionStore
	HistoryStore
	Close() error
}

// NormalizeSessionID trims id and substitutes DefaultSession when empty.
func NormalizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return DefaultSession
	}
	return id
}

func cloneVariables(vars map[string]float64) map[string]float64 {
	if len(vars) == 0 {
		return nil
	}
	out := make(map[string]float64, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	return out
}
