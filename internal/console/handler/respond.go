package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xela07ax/system-policy-control/internal/domain"
	"github.com/xela07ax/system-policy-control/internal/engine"
	"go.uber.org/zap"
)

// Стабильные коды ошибок API
const (
	CodePolicyNotFound     = "policy_not_found"
	CodePolicyConflict     = "policy_conflict"
	CodeAgentBinaryMissing = "agent_binary_missing"
	CodeAgentFailed        = "agent_failed"
	CodeAgentCircuitOpen   = "agent_circuit_open"
	CodeStateUnavailable   = "state_unavailable"
	CodeStateCorrupt       = "state_corrupt"
	CodeInvalidPayload     = "invalid_payload"
	CodeInvalidPolicy      = "invalid_policy"
	CodeNotFound           = "not_found"
	CodeInternal           = "internal_error"
)

type errorBody struct {
	Error   string `json:"error"`
	Detail  string `json:"detail,omitempty"`
	Path    string `json:"path,omitempty"`
	Stdout  string `json:"stdout,omitempty"`
	Stderr  string `json:"stderr,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// classify сопоставляет ошибку сервиса с HTTP-статусом и телом ответа.
func classify(err error) (int, errorBody) {
	var (
		unavailable *domain.AgentUnavailableError
		agentFailed *domain.AgentFailedError
	)
	switch {
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable, errorBody{Error: CodeAgentBinaryMissing, Detail: unavailable.Reason, Path: unavailable.Path}
	case errors.Is(err, domain.ErrAgentCircuitOpen):
		return http.StatusServiceUnavailable, errorBody{Error: CodeAgentCircuitOpen, Detail: err.Error()}
	case errors.As(err, &agentFailed):
		return http.StatusInternalServerError, errorBody{
			Error:  CodeAgentFailed,
			Detail: err.Error(),
			Stdout: agentFailed.Stdout,
			Stderr: agentFailed.Stderr,
		}
	case errors.Is(err, domain.ErrPolicyNotFound):
		return http.StatusNotFound, errorBody{Error: CodePolicyNotFound}
	case errors.Is(err, domain.ErrPolicyConflict):
		return http.StatusConflict, errorBody{Error: CodePolicyConflict, Detail: err.Error()}
	case errors.Is(err, domain.ErrStateUnavailable):
		return http.StatusInternalServerError, errorBody{Error: CodeStateUnavailable, Detail: err.Error()}
	case errors.Is(err, domain.ErrStateCorrupt):
		return http.StatusInternalServerError, errorBody{Error: CodeStateCorrupt, Detail: err.Error()}
	case errors.Is(err, domain.ErrInvalidPayload):
		return http.StatusBadRequest, errorBody{Error: CodeInvalidPayload, Detail: err.Error()}
	case errors.Is(err, domain.ErrInvalidPolicy):
		return http.StatusBadRequest, errorBody{Error: CodeInvalidPolicy, Detail: err.Error()}
	default:
		return http.StatusInternalServerError, errorBody{Error: CodeInternal, Detail: err.Error()}
	}
}

func (h *PolicyHandler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	body.TraceID = engine.TraceID(r.Context())
	h.metrics.ErrorTotal.WithLabelValues(body.Error).Inc()

	fields := []zap.Field{
		zap.String("code", body.Error),
		zap.Int("status", status),
		zap.String("trace_id", body.TraceID),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", fields...)
	} else {
		h.logger.Info("request rejected", fields...)
	}
	respondJSON(w, status, body)
}

// NotFound общий ответ для неизвестных маршрутов и методов.
func NotFound(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusNotFound, errorBody{Error: CodeNotFound})
}
