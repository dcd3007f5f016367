package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrPolicyNotFound — в хранилище нет активной записи.
	ErrPolicyNotFound = errors.New("policy not found")
	// ErrStateCorrupt — запись есть, но не разбирается. Не путать с отсутствием.
	ErrStateCorrupt = errors.New("policy state is corrupt")
	// ErrStateUnavailable — агент сообщил об успехе, но запись не появилась.
	ErrStateUnavailable = errors.New("policy state unavailable after successful apply")
	// ErrInvalidPayload — тело запроса не JSON-объект или поле install не bool.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrInvalidPolicy — некорректные поля политики, агент не вызывается.
	ErrInvalidPolicy = errors.New("invalid policy")
	// ErrPolicyConflict — активную политику заменили параллельным запросом, пока шло удаление.
	ErrPolicyConflict = errors.New("active policy was replaced concurrently")
	// ErrAgentCircuitOpen — предохранитель разомкнут после серии зависаний/сбоев запуска агента.
	ErrAgentCircuitOpen = errors.New("agent circuit breaker is open")
)

// AgentUnavailableError исполняемый файл агента отсутствует или не исполняемый.
type AgentUnavailableError struct {
	Path   string
	Reason string
}

func (e *AgentUnavailableError) Error() string {
	return fmt.Sprintf("agent binary unavailable at %s: %s", e.Path, e.Reason)
}

// CallerGoneError клиент ушел, пока агент работал. Агент доработал до конца,
// его результат возвращается вместе с этой ошибкой.
type CallerGoneError struct {
	Err error
}

func (e *CallerGoneError) Error() string {
	return "caller gone before agent finished: " + e.Err.Error()
}

func (e *CallerGoneError) Unwrap() error { return e.Err }

// AgentFailedError агент завершился с ненулевым кодом. Вывод сохраняется как есть.
type AgentFailedError struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *AgentFailedError) Error() string {
	return fmt.Sprintf("agent %s exited with code %d: %s", e.Command, e.ExitCode, e.Stderr)
}
