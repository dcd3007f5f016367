package audit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xela07ax/system-policy-control/internal/audit"
)

type memoryStorage struct {
	mu      sync.Mutex
	batches [][]audit.AuditEvent
	err     error
}

func (m *memoryStorage) WriteBatch(_ context.Context, events []audit.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, append([]audit.AuditEvent(nil), events...))
	return m.err
}

func (m *memoryStorage) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

type gauge struct {
	mu   sync.Mutex
	last float64
}

func (g *gauge) Set(v float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = v
}

func TestJournal_BatchesBySize(t *testing.T) {
	storage := &memoryStorage{}
	j := audit.NewJournal(storage, 100, 2, time.Hour, nil, zap.NewNop())
	j.Start()

	for i := 0; i < 4; i++ {
		j.Log(audit.AuditEvent{ID: "e", Action: audit.ActionApply})
	}
	assert.Eventually(t, func() bool { return storage.total() == 4 }, time.Second, 10*time.Millisecond)

	j.Stop()
	for _, b := range storage.batches {
		assert.Len(t, b, 2)
	}
}

func TestJournal_FlushesByTimer(t *testing.T) {
	storage := &memoryStorage{}
	j := audit.NewJournal(storage, 100, 50, 20*time.Millisecond, nil, zap.NewNop())
	j.Start()
	defer j.Stop()

	j.Log(audit.AuditEvent{ID: "single", Action: audit.ActionRemove})
	assert.Eventually(t, func() bool { return storage.total() == 1 }, time.Second, 10*time.Millisecond)
}

func TestJournal_StopDrainsBuffer(t *testing.T) {
	storage := &memoryStorage{}
	g := &gauge{}
	j := audit.NewJournal(storage, 100, 50, time.Hour, g, zap.NewNop())
	j.Start()

	for i := 0; i < 7; i++ {
		j.Log(audit.AuditEvent{ID: "e"})
	}
	j.Stop()

	assert.Equal(t, 7, storage.total())
	assert.Equal(t, 0.0, g.last)

	// После остановки события отбрасываются без паники, повторный Stop безопасен
	j.Log(audit.AuditEvent{ID: "late"})
	j.Stop()
	assert.Equal(t, 7, storage.total())
}

func TestJournal_OverflowDropsInsteadOfBlocking(t *testing.T) {
	storage := &memoryStorage{}
	core, logs := observer.New(zap.ErrorLevel)
	j := audit.NewJournal(storage, 1, 10, time.Hour, nil, zap.New(core))

	// Воркер не запущен: буфер на одно событие
	done := make(chan struct{})
	go func() {
		j.Log(audit.AuditEvent{ID: "1"})
		j.Log(audit.AuditEvent{ID: "2"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Log blocked on a full buffer")
	}
	assert.Equal(t, 1, logs.FilterMessage("audit_buffer_overflow").Len())

	j.Start()
	j.Stop()
	assert.Equal(t, 1, storage.total())
}

func TestJournal_StorageErrorIsLogged(t *testing.T) {
	storage := &memoryStorage{err: errors.New("db down")}
	core, logs := observer.New(zap.ErrorLevel)
	j := audit.NewJournal(storage, 10, 10, time.Hour, nil, zap.New(core))
	j.Start()

	j.Log(audit.AuditEvent{ID: "e"})
	j.Stop()

	assert.Equal(t, 1, logs.FilterMessage("audit flush failed").Len())
}

func TestLogStorage(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := audit.NewLogStorage(zap.New(core))

	require.NoError(t, s.WriteBatch(context.Background(), []audit.AuditEvent{{
		ID: "id-1", Action: audit.ActionApply, ProfileIdentifier: "corp.gk", Status: audit.StatusSuccess,
	}}))

	entries := logs.FilterMessage("policy audit").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "corp.gk", fields["profile_identifier"])
	assert.Equal(t, audit.StatusSuccess, fields["status"])
}
