package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько времени заняла обработка HTTP-запроса (включая вызов агента)
	RequestDuration *prometheus.HistogramVec

	// Traffic: общее кол-во запросов
	TotalRequests *prometheus.CounterVec

	// Agent: длительность и исход каждого запуска агента
	AgentDuration *prometheus.HistogramVec

	// Errors: классификация отказов по коду ошибки API
	ErrorTotal *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker (0 - ок, 0.5 - пробный, 1 - выбило)
	CircuitBreakerState *prometheus.GaugeVec

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge

	// List: сколько раз агент вернул нечитаемый JSON и ответ деградировал до []
	ListDegraded prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spc_request_duration_seconds",
			Help:    "Histogram of API request latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"method", "route", "status"}),

		TotalRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "spc_requests_total",
			Help: "Total number of processed API requests.",
		}, []string{"method", "route"}),

		AgentDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spc_agent_invocation_duration_seconds",
			Help:    "Histogram of agent subprocess run times.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"command", "outcome"}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "spc_errors_total",
			Help: "Total number of API errors by code.",
		}, []string{"code"}), // agent_failed, agent_binary_missing, state_corrupt, ...

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "spc_circuit_breaker_state",
			Help: "Current state of the agent circuit breaker (0=closed, 0.5=half-open, 1=open).",
		}, []string{"name"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "spc_audit_buffer_utilization",
			Help: "Current number of events in audit buffer.",
		}),

		ListDegraded: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "spc_list_degraded_total",
			Help: "Number of list calls where agent output was not valid JSON.",
		}),
	}
}
