package state_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/system-policy-control/internal/domain"
	"github.com/xela07ax/system-policy-control/internal/state"
)

func newState() domain.PolicyState {
	return domain.PolicyState{
		Policy:      domain.DefaultPolicy(),
		ProfilePath: "/profiles/com.systempolicycontrol.policy.mobileconfig",
		AppliedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestStore_LoadMissingIsAbsent(t *testing.T) {
	store := state.NewStore(filepath.Join(t.TempDir(), "policy_state.json"))

	st, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestStore_SaveCreatesParentsAndLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "policy_state.json")
	store := state.NewStore(path)

	require.NoError(t, store.Save(newState()))

	st, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, newState(), *st)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestStore_SaveReplaces(t *testing.T) {
	store := state.NewStore(filepath.Join(t.TempDir(), "policy_state.json"))
	require.NoError(t, store.Save(newState()))

	next := newState()
	next.Policy.ProfileIdentifier = "corp.other"
	next.ProfilePath = "/profiles/corp.other.mobileconfig"
	require.NoError(t, store.Save(next))

	st, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "corp.other", st.Policy.ProfileIdentifier)
}

func TestStore_CorruptIsNotAbsent(t *testing.T) {
	tests := map[string]string{
		"not json":          "{broken",
		"missing path":      `{"policy":{},"applied_at":"2026-01-01T00:00:00Z"}`,
		"missing timestamp": `{"policy":{},"profile_path":"/p"}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "policy_state.json")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

			st, err := state.NewStore(path).Load()
			assert.Nil(t, st)
			assert.ErrorIs(t, err, domain.ErrStateCorrupt)
		})
	}
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy_state.json")
	store := state.NewStore(path)
	require.NoError(t, store.Save(newState()))

	require.NoError(t, store.Delete())
	require.NoError(t, store.Delete())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	st, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestLock_Exclusive(t *testing.T) {
	path := state.LockPath(filepath.Join(t.TempDir(), "policy_state.json"))

	first, err := state.AcquireLock(context.Background(), path, time.Second)
	require.NoError(t, err)

	_, err = state.AcquireLock(context.Background(), path, 250*time.Millisecond)
	assert.Error(t, err, "second holder must time out")

	require.NoError(t, first.Release())

	second, err := state.AcquireLock(context.Background(), path, time.Second)
	require.NoError(t, err)
	require.NoError(t, second.Release())
}
