package service

/*
Файл policy.go — оркестратор единственного слота политики.
Сервис не меняет состояние сам: мутации выполняет агент, а сервис перечитывает
хранилище как источник истины и сводит оба результата в один ответ.
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/xela07ax/system-policy-control/internal/audit"
	"github.com/xela07ax/system-policy-control/internal/domain"
	"github.com/xela07ax/system-policy-control/internal/engine"
	"github.com/xela07ax/system-policy-control/internal/infra"
	"github.com/xela07ax/system-policy-control/internal/protocol"
	"github.com/xela07ax/system-policy-control/internal/state"
	"go.uber.org/zap"
)

// PathResolver отдает актуальные пути агента. Вызывается на каждый запрос.
type PathResolver interface {
	ResolveAgentPaths() infra.AgentPaths
}

// AgentRunner запускает команду агента и возвращает код выхода с выводом.
type AgentRunner interface {
	Invoke(ctx context.Context, binary string, req protocol.Request) (protocol.Result, error)
}

// BinaryChecker проверяет исполняемый файл агента без запуска.
type BinaryChecker func(path string) error

type PolicyService struct {
	paths    PathResolver
	runner   AgentRunner
	checkBin BinaryChecker
	auditor  audit.Auditor
	notifier Notifier
	metrics  *engine.Metrics
	logger   *zap.Logger
}

func NewPolicyService(
	paths PathResolver,
	runner AgentRunner,
	auditor audit.Auditor,
	notifier Notifier,
	metrics *engine.Metrics,
	logger *zap.Logger,
) *PolicyService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if metrics == nil {
		metrics = engine.NewMetrics(nil)
	}
	return &PolicyService{
		paths:    paths,
		runner:   runner,
		checkBin: engine.CheckBinary,
		auditor:  auditor,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger.Named("policy-service"),
	}
}

// Get возвращает активную запись. Отсутствие записи — ErrPolicyNotFound,
// битый файл — ErrStateCorrupt.
func (s *PolicyService) Get(ctx context.Context) (*domain.PolicyState, error) {
	paths := s.paths.ResolveAgentPaths()
	st, err := state.NewStore(paths.StatePath).Load()
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, domain.ErrPolicyNotFound
	}
	return st, nil
}

// Apply создает или заменяет активную политику (upsert единственного слота).
// payload — разреженная мапа полей политики плюс необязательный install (по умолчанию true).
func (s *PolicyService) Apply(ctx context.Context, payload map[string]any) (st *domain.PolicyState, err error) {
	start := time.Now()
	paths := s.paths.ResolveAgentPaths()
	event := audit.AuditEvent{Action: audit.ActionApply, Install: true}
	defer func() { s.record(ctx, &event, start, err) }()

	if err = s.checkBin(paths.Binary); err != nil {
		return nil, err
	}

	fields := make(map[string]any, len(payload))
	for k, v := range payload {
		fields[k] = v
	}
	install := true
	if raw, ok := fields["install"]; ok {
		delete(fields, "install")
		b, isBool := raw.(bool)
		if !isBool {
			return nil, fmt.Errorf("%w: install must be a boolean", domain.ErrInvalidPayload)
		}
		install = b
	}
	event.Install = install

	policy, err := domain.PolicyFromMap(fields)
	if err != nil {
		return nil, err
	}
	event.ProfileIdentifier = policy.ProfileIdentifier
	if err = policy.Validate(); err != nil {
		return nil, err
	}

	req := protocol.ApplyRequest{
		Policy:  policy,
		Paths:   protocol.Paths{ProfileDir: paths.ProfileDir, StatePath: paths.StatePath},
		Install: install,
	}
	res, err := s.runner.Invoke(ctx, paths.Binary, req)
	gone, err := callerGone(err)
	if err != nil {
		return nil, err
	}
	event.ExitCode = res.ExitCode
	if !res.OK() {
		return nil, failed(req, res)
	}

	// Агент отчитался об успехе, источник истины — хранилище
	st, err = state.NewStore(paths.StatePath).Load()
	if err != nil {
		return nil, err
	}
	if st == nil {
		s.logger.Error("agent reported success but state is absent",
			zap.String("state_path", paths.StatePath),
			zap.String("trace_id", engine.TraceID(ctx)))
		return nil, domain.ErrStateUnavailable
	}

	s.notifier.Notify(ctx, audit.ActionApply, st.Policy.ProfileIdentifier)
	if gone != nil {
		return nil, gone
	}
	return st, nil
}

// List перечисляет документы профилей через агента. Нечитаемый вывод агента
// не валит запрос: ответ деградирует до пустого списка.
func (s *PolicyService) List(ctx context.Context) ([]protocol.ProfileSummary, error) {
	paths := s.paths.ResolveAgentPaths()
	if err := s.checkBin(paths.Binary); err != nil {
		return nil, err
	}

	req := protocol.ListRequest{ProfileDir: paths.ProfileDir}
	res, err := s.runner.Invoke(ctx, paths.Binary, req)
	if err != nil {
		return nil, err
	}
	if !res.OK() {
		return nil, failed(req, res)
	}

	var items []protocol.ProfileSummary
	if err := json.Unmarshal([]byte(res.Stdout), &items); err != nil {
		s.metrics.ListDegraded.Inc()
		s.logger.Warn("agent list output is not valid JSON, returning empty list",
			zap.Error(err),
			zap.Int("stdout_bytes", len(res.Stdout)),
			zap.String("trace_id", engine.TraceID(ctx)))
		return []protocol.ProfileSummary{}, nil
	}
	if items == nil {
		items = []protocol.ProfileSummary{}
	}
	return items, nil
}

// Delete удаляет активную политику. Запись проверяется до запуска агента:
// нет записи — ErrPolicyNotFound без вызова remove. Если агент ничего не удалил,
// а в хранилище уже другая политика — ErrPolicyConflict.
func (s *PolicyService) Delete(ctx context.Context) (err error) {
	start := time.Now()
	paths := s.paths.ResolveAgentPaths()
	event := audit.AuditEvent{Action: audit.ActionRemove}
	defer func() { s.record(ctx, &event, start, err) }()

	if err = s.checkBin(paths.Binary); err != nil {
		return err
	}

	current, err := state.NewStore(paths.StatePath).Load()
	if err != nil {
		return err
	}
	if current == nil {
		return domain.ErrPolicyNotFound
	}
	id := current.Policy.ProfileIdentifier
	event.ProfileIdentifier = id
	event.Install = current.InstallSucceeded

	req := protocol.RemoveRequest{
		Identifier: id,
		Paths:      protocol.Paths{ProfileDir: paths.ProfileDir, StatePath: paths.StatePath},
	}
	res, err := s.runner.Invoke(ctx, paths.Binary, req)
	gone, err := callerGone(err)
	if err != nil {
		return err
	}
	event.ExitCode = res.ExitCode
	if !res.OK() {
		return failed(req, res)
	}
	if strings.TrimSpace(res.Stdout) == protocol.MessageNothingRemoved {
		after, err := state.NewStore(paths.StatePath).Load()
		if err != nil {
			return err
		}
		if after != nil && after.Policy.ProfileIdentifier != id {
			s.logger.Warn("active policy replaced during remove",
				zap.String("requested", id),
				zap.String("active", after.Policy.ProfileIdentifier),
				zap.String("trace_id", engine.TraceID(ctx)))
			return fmt.Errorf("%w: %s is active, %s was not removed", domain.ErrPolicyConflict, after.Policy.ProfileIdentifier, id)
		}
	}

	s.notifier.Notify(ctx, audit.ActionRemove, id)
	return gone
}

// CheckAgentProtocol сверяет версию протокола агента с поддерживаемой.
func (s *PolicyService) CheckAgentProtocol(ctx context.Context) (string, error) {
	paths := s.paths.ResolveAgentPaths()
	if err := s.checkBin(paths.Binary); err != nil {
		return "", err
	}

	req := protocol.VersionRequest{}
	res, err := s.runner.Invoke(ctx, paths.Binary, req)
	if err != nil {
		return "", err
	}
	if !res.OK() {
		return "", failed(req, res)
	}

	var info protocol.VersionInfo
	if err := json.Unmarshal([]byte(res.Stdout), &info); err != nil {
		return "", fmt.Errorf("decode agent version: %w", err)
	}
	v, err := semver.NewVersion(info.Protocol)
	if err != nil {
		return "", fmt.Errorf("parse agent protocol version %q: %w", info.Protocol, err)
	}
	c, err := semver.NewConstraint(protocol.CompatibleConstraint)
	if err != nil {
		return "", fmt.Errorf("parse protocol constraint: %w", err)
	}
	if !c.Check(v) {
		return v.String(), fmt.Errorf("agent protocol %s does not satisfy %s", v, protocol.CompatibleConstraint)
	}
	return v.String(), nil
}

func (s *PolicyService) record(ctx context.Context, event *audit.AuditEvent, start time.Time, err error) {
	if s.auditor == nil {
		return
	}
	event.ID = uuid.NewString()
	event.TraceID = engine.TraceID(ctx)
	event.DurationMs = time.Since(start).Milliseconds()
	event.Timestamp = time.Now().UTC()
	event.Status = auditStatus(err)
	if err != nil {
		event.Error = err.Error()
	}
	s.auditor.Log(*event)
}

func auditStatus(err error) string {
	var unavailable *domain.AgentUnavailableError
	var gone *domain.CallerGoneError
	switch {
	case err == nil, errors.As(err, &gone):
		return audit.StatusSuccess
	case errors.As(err, &unavailable),
		errors.Is(err, domain.ErrPolicyNotFound),
		errors.Is(err, domain.ErrPolicyConflict),
		errors.Is(err, domain.ErrInvalidPayload),
		errors.Is(err, domain.ErrInvalidPolicy),
		errors.Is(err, domain.ErrAgentCircuitOpen):
		return audit.StatusRejected
	default:
		return audit.StatusFailed
	}
}

// callerGone отделяет уход клиента от прочих ошибок запуска: в первом случае
// результат агента действителен и обрабатывается как обычно.
func callerGone(err error) (gone, rest error) {
	var g *domain.CallerGoneError
	if errors.As(err, &g) {
		return err, nil
	}
	return nil, err
}

func failed(req protocol.Request, res protocol.Result) error {
	return &domain.AgentFailedError{
		Command:  req.Command(),
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	}
}
