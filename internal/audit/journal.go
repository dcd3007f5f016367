package audit

/*
Файл journal.go — асинхронный журнал изменений политики (Audit Trail).

- Non-blocking Logging: события передаются через буферизованный канал, запись в
  хранилище не влияет на время ответа API.
- Batching: события копятся в памяти и пишутся пачкой по таймеру или по достижении лимита.
- Drain Pattern: Stop закрывает вход и ждет, пока воркер вычитает остатки и сделает
  финальный flush.
*/

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StorageInterface определяет, куда физически будут сохраняться события
type StorageInterface interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []AuditEvent) error
}

type Auditor interface {
	Log(event AuditEvent)
}

// BufferGauge — куда отдавать заполненность буфера (prometheus.Gauge подходит).
type BufferGauge interface {
	Set(float64)
}

type Journal struct {
	ch            chan AuditEvent
	repo          StorageInterface
	logger        *zap.Logger
	gauge         BufferGauge
	batchSize     int
	flushInterval time.Duration

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

func NewJournal(repo StorageInterface, bufferSize, batchSize int, flushInterval time.Duration, gauge BufferGauge, logger *zap.Logger) *Journal {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	return &Journal{
		ch:            make(chan AuditEvent, bufferSize),
		repo:          repo,
		logger:        logger.With(zap.String("mod", "audit-journal")),
		gauge:         gauge,
		batchSize:     batchSize,
		flushInterval: flushInterval,
	}
}

func (j *Journal) Start() {
	j.wg.Add(1)
	go j.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (j *Journal) Stop() {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.closed = true
	close(j.ch)
	j.mu.Unlock()

	j.logger.Info("stopping audit journal: flushing buffer...")
	j.wg.Wait()
	j.logger.Info("audit journal stopped gracefully")
}

func (j *Journal) Log(event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		j.logger.Warn("audit event dropped: journal is stopping", zap.String("id", event.ID))
		return
	}

	// Load Shedding: переполненный буфер не должен тормозить API
	select {
	case j.ch <- event:
		j.reportFill()
	default:
		j.logger.Error("audit_buffer_overflow",
			zap.String("action", event.Action),
			zap.String("profile_identifier", event.ProfileIdentifier),
			zap.String("trace_id", event.TraceID))
	}
}

func (j *Journal) reportFill() {
	if j.gauge != nil {
		j.gauge.Set(float64(len(j.ch)))
	}
}

func (j *Journal) worker() {
	defer j.wg.Done()

	batch := make([]AuditEvent, 0, j.batchSize)
	ticker := time.NewTicker(j.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Background: основной контекст может быть уже закрыт
			if err := j.repo.WriteBatch(context.Background(), batch); err != nil {
				j.logger.Error("audit flush failed", zap.Int("events", len(batch)), zap.Error(err))
			}
			batch = batch[:0]
		}
		j.reportFill()
	}

	for {
		select {
		case event, ok := <-j.ch:
			if !ok {
				flush() // Финальный сброс
				j.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= j.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// LogStorage — хранилище по умолчанию: события уходят в структурный лог.
type LogStorage struct {
	logger *zap.Logger
}

func NewLogStorage(logger *zap.Logger) *LogStorage {
	return &LogStorage{logger: logger.Named("audit")}
}

func (s *LogStorage) WriteBatch(_ context.Context, events []AuditEvent) error {
	for _, e := range events {
		s.logger.Info("policy audit",
			zap.String("id", e.ID),
			zap.String("trace_id", e.TraceID),
			zap.String("action", e.Action),
			zap.String("profile_identifier", e.ProfileIdentifier),
			zap.Bool("install", e.Install),
			zap.String("status", e.Status),
			zap.Int("exit_code", e.ExitCode),
			zap.String("error", e.Error),
			zap.Int64("duration_ms", e.DurationMs),
			zap.Time("timestamp", e.Timestamp))
	}
	return nil
}
