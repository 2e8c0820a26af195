package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/petal-labs/smartcalc/expr"
	"github.com/petal-labs/smartcalc/otel"
	"github.com/petal-labs/smartcalc/store"
)

type executeRequest struct {
	Variables map[string]float64 `json:"variables"`
}

type evaluateRequest struct {
	Expression *string            `json:"expression"`
	Variables  map[string]float64 `json:"variables"`
}

type executeResponse struct {
	Expression    string             `json:"expression"`
	VariablesUsed map[string]float64 `json:"variables_used"`
	Result        float64            `json:"result"`
}

// evalFailure is a failed evaluation mapped onto the HTTP surface.
type evalFailure struct {
	status  int
	code    string
	message string
}

// handleExecute evaluates the caller's stored expression. The body is
// optional.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeJSONBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeBodyError(w, err)
		return
	}

	id := sessionID(r)
	session, ok, err := s.sessions.GetExpression(r.Context(), id)
	if err != nil {
		s.logger.Error("read expression", "session", id, "err", err)
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to read expression")
		return
	}
	if !ok || session.Expression == "" {
		writeError(w, http.StatusBadRequest, "NO_EXPRESSION", "no expression set; use POST /expression first")
		return
	}

	s.evaluate(w, r, otel.SourceExecute, id, session.Expression, req.Variables)
}

// handleEvaluate evaluates the expression in the body without touching the
// session slot.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBodyError(w, err)
		return
	}
	if req.Expression == nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "expression is required")
		return
	}

	s.evaluate(w, r, otel.SourceEvaluate, sessionID(r), *req.Expression, req.Variables)
}

func (s *Server) evaluate(w http.ResponseWriter, r *http.Request, source, session, expression string, vars map[string]float64) {
	ctx, ev := s.observer.StartEvaluation(r.Context(), source, expression)

	result, err := s.expr.EvalString(expression, expr.Bindings(vars))
	var failure *evalFailure
	switch {
	case err != nil:
		failure = s.classify(r, session, err)
	case !isFinite(result):
		failure = &evalFailure{
			status:  http.StatusUnprocessableEntity,
			code:    "NON_FINITE_RESULT",
			message: "result is not a finite number",
		}
	}

	exec := store.Execution{
		ID:         s.newID(),
		SessionID:  session,
		Source:     source,
		Expression: expression,
		Variables:  vars,
		CreatedAt:  s.now().UTC(),
	}
	if failure != nil {
		exec.ErrorCode = failure.code
	} else {
		exec.Result = &result
	}
	ev.End(exec.ErrorCode)

	if s.history != nil {
		if err := s.history.Append(ctx, exec); err != nil {
			s.logger.WarnContext(ctx, "record execution", "session", session, "err", err)
		}
	}

	if failure != nil {
		s.logger.DebugContext(ctx, "evaluation rejected", "session", session, "code", failure.code)
		writeError(w, failure.status, failure.code, failure.message)
		return
	}

	if vars == nil {
		vars = map[string]float64{}
	}
	writeJSON(w, http.StatusOK, executeResponse{
		Expression:    expression,
		VariablesUsed: vars,
		Result:        result,
	})
}

// classify maps input errors to 400 with their code and anything else to a
// generic 500 that hides the raw error text.
func (s *Server) classify(r *http.Request, session string, err error) *evalFailure {
	if kind, ok := expr.Classify(err); ok {
		return &evalFailure{
			status:  http.StatusBadRequest,
			code:    kind.Code(),
			message: err.Error(),
		}
	}
	s.logger.ErrorContext(r.Context(), "evaluation failed", "session", session, "err", err)
	return &evalFailure{
		status:  http.StatusInternalServerError,
		code:    "INTERNAL_ERROR",
		message: "internal evaluation error",
	}
}
