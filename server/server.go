package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/petal-labs/smartcalc/expr"
	"github.com/petal-labs/smartcalc/otel"
	"github.com/petal-labs/smartcalc/store"
)

// SessionHeader names the request header that selects a session. Requests
// without it share store.DefaultSession.
const SessionHeader = "X-Session-ID"

// DefaultHistoryLimit caps GET /history when ServerConfig.HistoryLimit is unset.
const DefaultHistoryLimit = 100

// ServerConfig configures a Server instance.
type ServerConfig struct {
	Sessions     store.SessionStore
	History      store.HistoryStore
	Observer     *otel.Observer
	Expr         expr.Config
	HistoryLimit int
	CORSOrigin   string
	MaxBody      int64
	Logger       *slog.Logger
	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

// Server is the SmartCalc HTTP API server.
type Server struct {
	sessions     store.SessionStore
	history      store.HistoryStore
	observer     *otel.Observer
	expr         expr.Config
	historyLimit int
	corsOrigin   string
	maxBody      int64
	logger       *slog.Logger
	now          func() time.Time
	newID        func() string
}

// NewServer creates a new Server with the given configuration. A nil
// Sessions store is replaced by an in-memory one; a nil History store
// disables history recording.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	corsOrigin := cfg.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = 1 << 20 // 1 MB default
	}
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	sessions := cfg.Sessions
	if sessions == nil {
		sessions = store.NewMemoryStore()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Server{
		sessions:     sessions,
		history:      cfg.History,
		observer:     cfg.Observer,
		expr:         cfg.Expr,
		historyLimit: historyLimit,
		corsOrigin:   corsOrigin,
		maxBody:      maxBody,
		logger:       logger,
		now:          now,
		newID:        newID,
	}
}

// Handler returns an http.Handler with all routes and middleware wired.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = s.corsMiddleware(handler)
	handler = s.maxBodyMiddleware(handler)

	return handler
}

// RegisterRoutes mounts the calculator API onto an existing mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	// Two-operand arithmetic
	mux.HandleFunc("POST /add", s.handleArithmetic(expr.OpAdd))
	mux.HandleFunc("POST /sub", s.handleArithmetic(expr.OpSub))
	mux.HandleFunc("POST /mul", s.handleArithmetic(expr.OpMul))
	mux.HandleFunc("POST /div", s.handleArithmetic(expr.OpDiv))

	// Current expression slot
	mux.HandleFunc("POST /expression", s.handleSetExpression)
	mux.HandleFunc("GET /expression", s.handleGetExpression)
	mux.HandleFunc("DELETE /expression", s.handleClearExpression)
	mux.HandleFunc("POST /execute", s.handleExecute)
	mux.HandleFunc("POST /evaluate", s.handleEvaluate)

	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("GET /history", s.handleListHistory)
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+SessionHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) maxBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		next.ServeHTTP(w, r)
	})
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// apiError is the standard error envelope.
type apiError struct {
	Error apiErrorBody `json:"error"`
}

type apiErrorBody struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string, details ...string) {
	body := apiError{
		Error: apiErrorBody{
			Code:    code,
			Message: message,
		},
	}
	if len(details) > 0 {
		body.Error.Details = details
	}
	writeJSON(w, status, body)
}

func decodeJSONBody(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func sessionID(r *http.Request) string {
	return store.NormalizeSessionID(r.Header.Get(SessionHeader))
}
