package engine

/*
Файл invoker.go — граница обмена сообщениями с привилегированным агентом.
Оркестратор не знает, как запускается агент: он отдает типизированный запрос
(protocol.Request) и получает типизированный результат (код выхода + stdout + stderr).

- Timeout: у агента нет собственного ограничения по времени, поэтому каждый запуск
  ограничен сверху (agent.timeout). Зависший агент убивается, вызов считается сбоем.
- Отмена клиентом: запуск отвязан от контекста запроса (context.WithoutCancel).
  Агент доделывает apply/remove до конца, результат отбрасывается, а не прерывается.
- Circuit Breaker: срабатывает только на сбои запуска и таймауты. Ненулевой код выхода —
  штатный ответ агента и предохранитель не трогает.
- Rate Limiter: ограничивает частоту запусков привилегированного процесса.
- Повторов нет: упавшая привилегированная операция отдается вызывающему как есть.
*/

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/sony/gobreaker"
	"github.com/xela07ax/system-policy-control/internal/domain"
	"github.com/xela07ax/system-policy-control/internal/protocol"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const waitDelay = 5 * time.Second

// InvokerSettings параметры запуска агента.
type InvokerSettings struct {
	Timeout       time.Duration
	RateLimit     float64
	RateBurst     int
	CBMaxRequests uint32
	CBInterval    time.Duration
	CBTimeout     time.Duration
	CBFailures    uint32
}

type Invoker struct {
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	metrics *Metrics
	logger  *zap.Logger
}

func NewInvoker(s InvokerSettings, metrics *Metrics, logger *zap.Logger) *Invoker {
	logger = logger.Named("agent-invoker")

	limit := rate.Inf
	if s.RateLimit > 0 {
		limit = rate.Limit(s.RateLimit)
	}
	burst := s.RateBurst
	if burst <= 0 {
		burst = 1
	}

	failures := s.CBFailures
	if failures == 0 {
		failures = 3
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "system-policy-agent",
		MaxRequests: s.CBMaxRequests,
		Interval:    s.CBInterval,
		Timeout:     s.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("agent circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerGauge(to))
		},
	})

	return &Invoker{
		timeout: s.Timeout,
		cb:      cb,
		limiter: rate.NewLimiter(limit, burst),
		metrics: metrics,
		logger:  logger,
	}
}

// CheckBinary убеждается, что агент существует и исполняемый, не запуская его.
func CheckBinary(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &domain.AgentUnavailableError{Path: path, Reason: "not found"}
	}
	if !info.Mode().IsRegular() {
		return &domain.AgentUnavailableError{Path: path, Reason: "not a regular file"}
	}
	if info.Mode().Perm()&0o111 == 0 {
		return &domain.AgentUnavailableError{Path: path, Reason: "not executable"}
	}
	return nil
}

// Invoke запускает агента с аргументами запроса и ждет его завершения.
// Ненулевой код выхода возвращается в Result без ошибки — решение принимает вызывающий.
func (i *Invoker) Invoke(ctx context.Context, binary string, req protocol.Request) (protocol.Result, error) {
	command := req.Command()

	if err := CheckBinary(binary); err != nil {
		i.metrics.AgentDuration.WithLabelValues(command, "unavailable").Observe(0)
		return protocol.Result{}, err
	}

	if err := i.limiter.Wait(ctx); err != nil {
		return protocol.Result{}, fmt.Errorf("agent rate limit wait: %w", err)
	}

	start := time.Now()
	out, err := i.cb.Execute(func() (interface{}, error) {
		return i.run(ctx, binary, req)
	})
	duration := time.Since(start)

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			i.metrics.AgentDuration.WithLabelValues(command, "circuit_open").Observe(duration.Seconds())
			return protocol.Result{}, fmt.Errorf("%w: %v", domain.ErrAgentCircuitOpen, err)
		}
		i.metrics.AgentDuration.WithLabelValues(command, outcomeOf(err)).Observe(duration.Seconds())
		return protocol.Result{}, err
	}

	res := out.(protocol.Result)
	outcome := "ok"
	if !res.OK() {
		outcome = "exit_nonzero"
	}
	i.metrics.AgentDuration.WithLabelValues(command, outcome).Observe(duration.Seconds())

	// Клиент ушел, пока агент работал: это не сбой агента, а результат все равно действителен
	if ctxErr := ctx.Err(); ctxErr != nil {
		i.logger.Warn("caller cancelled during agent run",
			zap.String("command", command),
			zap.Int("exit_code", res.ExitCode),
			zap.String("trace_id", TraceID(ctx)))
		return res, &domain.CallerGoneError{Err: ctxErr}
	}

	i.logger.Debug("agent finished",
		zap.String("command", command),
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("duration", duration),
		zap.String("trace_id", TraceID(ctx)))
	return res, nil
}

func (i *Invoker) run(ctx context.Context, binary string, req protocol.Request) (protocol.Result, error) {
	runCtx := context.WithoutCancel(ctx)
	if i.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, i.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, binary, req.Args()...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	if runCtx.Err() != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return protocol.Result{}, &domain.AgentFailedError{
			Command:  req.Command(),
			ExitCode: -1,
			Stdout:   stdout.String(),
			Stderr:   fmt.Sprintf("%sagent timed out after %s", stderr.String(), i.timeout),
		}
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return protocol.Result{ExitCode: 0, Stdout: stdout.String(), Stderr: stderr.String()}, nil
	case errors.As(err, &exitErr):
		return protocol.Result{ExitCode: exitErr.ExitCode(), Stdout: stdout.String(), Stderr: stderr.String()}, nil
	default:
		return protocol.Result{}, &domain.AgentUnavailableError{Path: binary, Reason: err.Error()}
	}
}

func outcomeOf(err error) string {
	var failed *domain.AgentFailedError
	if errors.As(err, &failed) {
		return "timeout"
	}
	return "spawn_error"
}

func breakerGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 0.5
	default:
		return 0
	}
}
