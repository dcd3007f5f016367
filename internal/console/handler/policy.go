package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/xela07ax/system-policy-control/internal/domain"
	"github.com/xela07ax/system-policy-control/internal/engine"
	"github.com/xela07ax/system-policy-control/internal/protocol"
	"go.uber.org/zap"
)

// maxBodyBytes ограничение на тело запроса с политикой
const maxBodyBytes = 64 << 10

// PolicyService — операции оркестратора, нужные обработчикам.
type PolicyService interface {
	Get(ctx context.Context) (*domain.PolicyState, error)
	Apply(ctx context.Context, payload map[string]any) (*domain.PolicyState, error)
	List(ctx context.Context) ([]protocol.ProfileSummary, error)
	Delete(ctx context.Context) error
}

type PolicyHandler struct {
	service PolicyService
	metrics *engine.Metrics
	logger  *zap.Logger
}

func NewPolicyHandler(s PolicyService, metrics *engine.Metrics, logger *zap.Logger) *PolicyHandler {
	if metrics == nil {
		metrics = engine.NewMetrics(nil)
	}
	return &PolicyHandler{
		service: s,
		metrics: metrics,
		logger:  logger.Named("policy-handler"),
	}
}

// Health GET /healthz
func (h *PolicyHandler) Health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Get возвращает активную запись состояния как есть.
// GET /policy
func (h *PolicyHandler) Get(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Get(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// Create POST /policy -> 201
func (h *PolicyHandler) Create(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, http.StatusCreated)
}

// Update PUT /policy -> 200. Семантика та же, что у Create: слот один.
func (h *PolicyHandler) Update(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, http.StatusOK)
}

func (h *PolicyHandler) apply(w http.ResponseWriter, r *http.Request, status int) {
	payload, err := decodePayload(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	st, err := h.service.Apply(r.Context(), payload)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, status, st)
}

// List GET /policies
func (h *PolicyHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.List(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"policies": items})
}

// Delete DELETE /policy
func (h *PolicyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context()); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Policy removed"})
}

// decodePayload читает JSON-объект. Пустое тело трактуется как {} (все поля по умолчанию).
func decodePayload(r *http.Request) (map[string]any, error) {
	payload := map[string]any{}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if payload == nil {
		// Тело "null"
		return nil, fmt.Errorf("%w: body must be a JSON object", domain.ErrInvalidPayload)
	}
	// После объекта допустимы только пробелы
	var rest json.RawMessage
	if err := dec.Decode(&rest); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: unexpected data after JSON object", domain.ErrInvalidPayload)
	}
	return payload, nil
}
