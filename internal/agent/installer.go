package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
)

const profilesBinary = "/usr/bin/profiles"

// InstallResult — итог обращения к системному механизму установки профилей.
type InstallResult struct {
	Succeeded bool
	Stdout    *string
	Stderr    *string
}

// Installer — привилегированная установка/удаление профиля в ОС.
type Installer interface {
	Install(ctx context.Context, profilePath string) InstallResult
	Remove(ctx context.Context, identifier string) InstallResult
}

// ProfilesInstaller вызывает /usr/bin/profiles. Работает только на macOS.
type ProfilesInstaller struct {
	Binary string
	GOOS   string
}

func NewProfilesInstaller() *ProfilesInstaller {
	return &ProfilesInstaller{Binary: profilesBinary, GOOS: runtime.GOOS}
}

func (i *ProfilesInstaller) Install(ctx context.Context, profilePath string) InstallResult {
	if i.GOOS != "darwin" {
		return failed("profile installation supported only on macOS")
	}
	return i.run(ctx, "install", "-type", "configuration", "-path", profilePath)
}

func (i *ProfilesInstaller) Remove(ctx context.Context, identifier string) InstallResult {
	if i.GOOS != "darwin" {
		return failed("profile removal supported only on macOS")
	}
	return i.run(ctx, "-R", "-p", identifier)
}

func (i *ProfilesInstaller) run(ctx context.Context, args ...string) InstallResult {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, i.Binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return failed(fmt.Sprintf("failed to invoke profiles: %v", err))
	}
	return InstallResult{
		Succeeded: err == nil,
		Stdout:    strPtr(stdout.String()),
		Stderr:    strPtr(stderr.String()),
	}
}

func failed(msg string) InstallResult {
	return InstallResult{Succeeded: false, Stderr: &msg}
}

func strPtr(s string) *string {
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
