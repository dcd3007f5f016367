package audit

import "time"

// Действия над единственным слотом политики
const (
	ActionApply  = "apply"
	ActionRemove = "remove"
)

// Исходы
const (
	StatusSuccess  = "SUCCESS"
	StatusFailed   = "FAILED"   // агент вернул ненулевой код или не запустился
	StatusRejected = "REJECTED" // отклонено до запуска агента (payload, агента нет, записи нет)
)

type AuditEvent struct {
	ID                string    `json:"id"`                 // UUID события
	TraceID           string    `json:"trace_id"`           // Сквозной ID запроса
	Action            string    `json:"action"`             // apply / remove
	ProfileIdentifier string    `json:"profile_identifier"` // Какой профиль затронут
	Install           bool      `json:"install"`            // Запрошена ли установка в ОС

	// Результат
	Status     string    `json:"status"`
	ExitCode   int       `json:"exit_code"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"` // Время обработки
}
