package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/system-policy-control/internal/console/handler"
	"github.com/xela07ax/system-policy-control/internal/engine"
	"go.uber.org/zap"
)

type PolicyServer struct {
	router  *chi.Mux
	logger  *zap.Logger
	metrics *engine.Metrics

	policyHandler *handler.PolicyHandler // /policy, /policies
}

// NewPolicyServer собирает роутер API управления политикой
func NewPolicyServer(logger *zap.Logger, metrics *engine.Metrics, policyH *handler.PolicyHandler) *PolicyServer {
	if metrics == nil {
		metrics = engine.NewMetrics(nil)
	}
	s := &PolicyServer{
		router:        chi.NewRouter(),
		logger:        logger.Named("policy-api"),
		metrics:       metrics,
		policyHandler: policyH,
	}

	s.routes()
	return s
}

func (s *PolicyServer) routes() {
	r := s.router

	// --- 1. Инфраструктурные Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(engine.TracingMiddleware)
	r.Use(engine.RequestLogger(s.logger, s.metrics))
	r.Use(middleware.Recoverer)

	// Любой неизвестный маршрут или метод — единый not_found
	r.NotFound(handler.NotFound)
	r.MethodNotAllowed(handler.NotFound)

	// --- 2. Роуты ---
	r.Get("/healthz", s.policyHandler.Health)

	r.Get("/policy", s.policyHandler.Get)       // Активная запись
	r.Post("/policy", s.policyHandler.Create)   // Применить (201)
	r.Put("/policy", s.policyHandler.Update)    // Применить (200)
	r.Delete("/policy", s.policyHandler.Delete) // Снять
	r.Get("/policies", s.policyHandler.List) // Документы профилей на диске
}

// ServeHTTP позволяет использовать PolicyServer как стандартный http.Handler
func (s *PolicyServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
