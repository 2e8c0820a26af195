package server

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/petal-labs/smartcalc/expr"
	"github.com/petal-labs/smartcalc/store"
)

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Arithmetic ---

type operandsRequest struct {
	A *float64 `json:"a"`
	B *float64 `json:"b"`
}

type resultResponse struct {
	Result float64 `json:"result"`
}

var arithmeticNames = map[expr.BinaryOperator]string{
	expr.OpAdd: "add",
	expr.OpSub: "sub",
	expr.OpMul: "mul",
	expr.OpDiv: "div",
}

func (s *Server) handleArithmetic(op expr.BinaryOperator) http.HandlerFunc {
	name := arithmeticNames[op]
	return func(w http.ResponseWriter, r *http.Request) {
		var req operandsRequest
		if err := decodeJSONBody(r, &req); err != nil {
			writeBodyError(w, err)
			return
		}
		if req.A == nil || req.B == nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "both a and b are required")
			return
		}

		result, err := expr.Apply(op, *req.A, *req.B)
		if err != nil {
			kind, ok := expr.Classify(err)
			if !ok {
				s.logger.Error("arithmetic failed", "op", name, "err", err)
				s.observer.ObserveArithmetic(r.Context(), name, "INTERNAL_ERROR")
				writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal calculation error")
				return
			}
			s.observer.ObserveArithmetic(r.Context(), name, kind.Code())
			writeError(w, http.StatusBadRequest, kind.Code(), err.Error())
			return
		}
		if !isFinite(result) {
			s.observer.ObserveArithmetic(r.Context(), name, "NON_FINITE_RESULT")
			writeError(w, http.StatusUnprocessableEntity, "NON_FINITE_RESULT",
				fmt.Sprintf("%s result is not a finite number", name))
			return
		}

		s.observer.ObserveArithmetic(r.Context(), name, "")
		writeJSON(w, http.StatusOK, resultResponse{Result: result})
	}
}

// --- Expression slot ---

type setExpressionRequest struct {
	Expression *string `json:"expression"`
}

type expressionResponse struct {
	Message           string   `json:"message,omitempty"`
	CurrentExpression string   `json:"current_expression"`
	Variables         []string `json:"variables,omitempty"`
}

func (s *Server) handleSetExpression(w http.ResponseWriter, r *http.Request) {
	var req setExpressionRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBodyError(w, err)
		return
	}
	if req.Expression == nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "expression is required")
		return
	}

	session := store.Session{
		ID:         sessionID(r),
		Expression: *req.Expression,
		UpdatedAt:  s.now().UTC(),
	}
	if err := s.sessions.SetExpression(r.Context(), session); err != nil {
		s.logger.Error("store expression", "session", session.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to store expression")
		return
	}

	resp := expressionResponse{
		Message:           "expression stored",
		CurrentExpression: session.Expression,
	}
	// Text is stored verbatim; variables are only reported when it parses.
	if tree, err := s.expr.Parse(session.Expression); err == nil {
		resp.Variables = expr.Variables(tree)
	}
	s.logger.Debug("expression stored", "session", session.ID)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetExpression(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	session, _, err := s.sessions.GetExpression(r.Context(), id)
	if err != nil {
		s.logger.Error("read expression", "session", id, "err", err)
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to read expression")
		return
	}
	writeJSON(w, http.StatusOK, expressionResponse{CurrentExpression: session.Expression})
}

func (s *Server) handleClearExpression(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if err := s.sessions.ClearExpression(r.Context(), id); err != nil {
		s.logger.Error("clear expression", "session", id, "err", err)
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to clear expression")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Sessions ---

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	session := store.Session{
		ID:        s.newID(),
		UpdatedAt: s.now().UTC(),
	}
	if err := s.sessions.SetExpression(r.Context(), session); err != nil {
		s.logger.Error("create session", "err", err)
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to create session")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": session.ID})
}

// --- History ---

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	limit := s.historyLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", "limit must be a positive integer")
			return
		}
		limit = min(n, s.historyLimit)
	}

	if s.history == nil {
		writeJSON(w, http.StatusOK, []store.Execution{})
		return
	}

	id := sessionID(r)
	execs, err := s.history.List(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("list history", "session", id, "err", err)
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to list history")
		return
	}
	if execs == nil {
		execs = []store.Execution{}
	}
	writeJSON(w, http.StatusOK, execs)
}

// --- Helpers ---

func writeBodyError(w http.ResponseWriter, err error) {
	if isMaxBytesError(err) {
		writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", err.Error())
}

func isMaxBytesError(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}

func isFinite(f float64) bool {
	return !math.IsInf(f, 0) && !math.IsNaN(f)
}
