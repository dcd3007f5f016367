package agent

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/xela07ax/system-policy-control/internal/profile"
	"github.com/xela07ax/system-policy-control/internal/protocol"
	"github.com/xela07ax/system-policy-control/internal/state"
	"go.uber.org/zap"
)

// Remove удаляет активную политику, если её идентификатор совпадает с запрошенным.
// Нет записи или идентификатор другой — идемпотентный no-op (removed == false, err == nil).
func (a *Agent) Remove(ctx context.Context, req protocol.RemoveRequest) (removed bool, err error) {
	lock, err := state.AcquireLock(ctx, state.LockPath(req.Paths.StatePath), a.lockTimeout)
	if err != nil {
		return false, err
	}
	defer func() {
		if rerr := lock.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()

	store := state.NewStore(req.Paths.StatePath)
	current, err := store.Load()
	if err != nil {
		return false, err
	}
	if current == nil || current.Policy.ProfileIdentifier != req.Identifier {
		a.logger.Info("no matching active policy, nothing to remove",
			zap.String("profile_identifier", req.Identifier))
		return false, nil
	}

	if current.InstallSucceeded {
		res := a.installer.Remove(ctx, req.Identifier)
		if !res.Succeeded {
			return false, fmt.Errorf("profile removal failed: %s", orDefault(deref(res.Stderr), "unknown error"))
		}
	}

	// Сначала запись, потом документ: запись не должна указывать на удаленный файл.
	if err := store.Delete(); err != nil {
		return false, err
	}

	for _, path := range uniquePaths(current.ProfilePath, profile.Path(req.Paths.ProfileDir, req.Identifier)) {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			a.logger.Warn("failed to delete profile document", zap.String("path", path), zap.Error(err))
		}
	}

	a.logger.Info("policy removed", zap.String("profile_identifier", req.Identifier))
	return true, nil
}

func uniquePaths(paths ...string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, ok := seen[p]; ok || p == "" {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
