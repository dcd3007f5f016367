package agent

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/xela07ax/system-policy-control/internal/domain"
	"github.com/xela07ax/system-policy-control/internal/profile"
	"github.com/xela07ax/system-policy-control/internal/protocol"
	"github.com/xela07ax/system-policy-control/internal/state"
	"go.uber.org/zap"
)

const skippedInstallMessage = "Installation skipped (no-install)"

// Apply генерирует документ профиля, при необходимости устанавливает его и заменяет
// единственную запись состояния. Либо применяется всё, либо на диске ничего не меняется:
// документ пишется во временный файл, прежний документ с тем же путем сохраняется
// в резервной копии до успешной записи состояния.
func (a *Agent) Apply(ctx context.Context, req protocol.ApplyRequest) (st domain.PolicyState, err error) {
	if err := req.Policy.Validate(); err != nil {
		return st, err
	}

	lock, err := state.AcquireLock(ctx, state.LockPath(req.Paths.StatePath), a.lockTimeout)
	if err != nil {
		return st, err
	}
	defer func() {
		if rerr := lock.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()

	data, err := profile.Build(req.Policy).Encode()
	if err != nil {
		return st, err
	}

	staging, err := stageDocument(req.Paths.ProfileDir, req.Policy.ProfileIdentifier, data)
	if err != nil {
		return st, err
	}
	defer os.Remove(staging) // после rename файла уже нет

	install := InstallResult{Stderr: strPtr(skippedInstallMessage)}
	if req.Install {
		install = a.installer.Install(ctx, staging)
		if !install.Succeeded {
			return st, fmt.Errorf("profile installation failed: %s", orDefault(deref(install.Stderr), "unknown error"))
		}
	}

	finalPath := profile.Path(req.Paths.ProfileDir, req.Policy.ProfileIdentifier)
	replaced, err := replaceDocument(staging, finalPath)
	if err != nil {
		a.rollbackInstall(ctx, req, install)
		return st, err
	}

	st = domain.PolicyState{
		Policy:           req.Policy,
		ProfilePath:      finalPath,
		AppliedAt:        a.now().UTC(),
		InstallAttempted: req.Install,
		InstallSucceeded: install.Succeeded,
		InstallerStdout:  install.Stdout,
		InstallerStderr:  install.Stderr,
	}
	if err := state.NewStore(req.Paths.StatePath).Save(st); err != nil {
		replaced.rollback()
		a.rollbackInstall(ctx, req, install)
		return domain.PolicyState{}, err
	}
	replaced.commit()

	a.logger.Info("policy applied",
		zap.String("profile_identifier", req.Policy.ProfileIdentifier),
		zap.String("profile_path", finalPath),
		zap.Bool("install_attempted", req.Install),
		zap.Bool("install_succeeded", install.Succeeded))
	return st, nil
}

// stageDocument пишет документ во временный скрытый файл в каталоге профилей.
func stageDocument(dir, identifier string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create profile directory %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, "."+identifier+profile.FileExtension+".staging-*")
	if err != nil {
		return "", fmt.Errorf("create staging profile in %s: %w", dir, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write staging profile: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("sync staging profile: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close staging profile: %w", err)
	}
	if err := os.Chmod(f.Name(), 0o644); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("chmod staging profile: %w", err)
	}
	return f.Name(), nil
}

// replacement — документ уже стоит на месте, прежний хранится в резервной копии
// до фиксации или отката.
type replacement struct {
	finalPath   string
	backup      string
	hadPrevious bool
}

// replaceDocument атомарно ставит staging на место finalPath.
func replaceDocument(staging, finalPath string) (*replacement, error) {
	r := &replacement{finalPath: finalPath, backup: finalPath + ".previous", hadPrevious: true}
	if err := os.Rename(finalPath, r.backup); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("back up existing profile %s: %w", finalPath, err)
		}
		r.hadPrevious = false
	}

	if err := os.Rename(staging, finalPath); err != nil {
		r.rollback()
		return nil, fmt.Errorf("persist profile %s: %w", finalPath, err)
	}
	return r, nil
}

// commit удаляет резервную копию прежнего документа.
func (r *replacement) commit() {
	if r.hadPrevious {
		_ = os.Remove(r.backup)
	}
}

// rollback возвращает прежний документ или убирает новый.
func (r *replacement) rollback() {
	if r.hadPrevious {
		_ = os.Rename(r.backup, r.finalPath)
		return
	}
	_ = os.Remove(r.finalPath)
}

// rollbackInstall если профиль уже установлен в ОС, а запись не удалась — снимаем его.
func (a *Agent) rollbackInstall(ctx context.Context, req protocol.ApplyRequest, install InstallResult) {
	if !req.Install || !install.Succeeded {
		return
	}
	res := a.installer.Remove(ctx, req.Policy.ProfileIdentifier)
	if !res.Succeeded {
		a.logger.Warn("failed to roll back installed profile",
			zap.String("profile_identifier", req.Policy.ProfileIdentifier),
			zap.String("stderr", deref(res.Stderr)))
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
