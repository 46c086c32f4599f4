package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sakif/codeshelf/internal/apperror"
	"github.com/sakif/codeshelf/internal/explain"
)

// ExplainHandler serves the explanation endpoint. Its request and response
// bodies are consumed by the browser UI as-is, so they do not use the
// shared ErrorResponse shape:
//
//	200 {"success": true, "explanation": "..."}
//	400 {"error": "Code is required"}
//	500 {"error": "Failed to generate explanation", "details": "..."}
type ExplainHandler struct {
	explainer explain.Explainer
	timeout   time.Duration
	logger    *slog.Logger
}

// DefaultExplainTimeout bounds a model call when no timeout is configured.
const DefaultExplainTimeout = 60 * time.Second

// explainWriteSlack is the time left to write the response once the model
// call has returned or timed out.
const explainWriteSlack = 5 * time.Second

// NewExplainHandler creates a new ExplainHandler. timeout bounds the model
// call; zero means DefaultExplainTimeout.
func NewExplainHandler(explainer explain.Explainer, timeout time.Duration, logger *slog.Logger) *ExplainHandler {
	if timeout <= 0 {
		timeout = DefaultExplainTimeout
	}
	return &ExplainHandler{
		explainer: explainer,
		timeout:   timeout,
		logger:    logger,
	}
}

type explainRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

type explainResponse struct {
	Success     bool   `json:"success"`
	Explanation string `json:"explanation"`
}

type explainError struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// HandleExplain asks the model to explain a code snippet.
//
// HTTP: POST /api/explain
// REQUEST BODY: {"code": "print('hi')", "language": "Python"}
func (h *ExplainHandler) HandleExplain(w http.ResponseWriter, r *http.Request) {
	var req explainRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.logger.Warn("invalid explain request body", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, explainError{Error: "Invalid request body"})
		return
	}

	if strings.TrimSpace(req.Code) == "" {
		writeJSON(w, http.StatusBadRequest, explainError{Error: "Code is required"})
		return
	}

	// Model calls outlive the server's write timeout; the response must
	// still reach the client, success or failure.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Now().Add(h.timeout + explainWriteSlack))

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	text, err := h.explainer.Explain(ctx, req.Code, strings.TrimSpace(req.Language))
	if err != nil {
		h.logger.Error("explanation failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, explainError{
			Error:   "Failed to generate explanation",
			Details: explainDetails(err),
		})
		return
	}

	writeJSON(w, http.StatusOK, explainResponse{Success: true, Explanation: text})
}

// explainDetails is the client-safe part of err: the AppError message when
// there is one, never the provider's raw error.
func explainDetails(err error) string {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return ""
}
