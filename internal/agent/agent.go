// Package agent — привилегированный помощник: генерирует профиль, устанавливает его
// и единолично владеет записью состояния на диске.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/xela07ax/system-policy-control/internal/protocol"
	"go.uber.org/zap"
)

const DefaultLockTimeout = 10 * time.Second

type Agent struct {
	installer   Installer
	logger      *zap.Logger
	lockTimeout time.Duration
	defaults    protocol.Paths
	now         func() time.Time
}

type Option func(*Agent)

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

func WithLockTimeout(d time.Duration) Option {
	return func(a *Agent) { a.lockTimeout = d }
}

// WithDefaultPaths пути, которые используются, если флаги не заданы.
func WithDefaultPaths(p protocol.Paths) Option {
	return func(a *Agent) { a.defaults = p }
}

func New(installer Installer, logger *zap.Logger, opts ...Option) *Agent {
	a := &Agent{
		installer:   installer,
		logger:      logger.Named("agent"),
		lockTimeout: DefaultLockTimeout,
		defaults:    protocol.DefaultPaths(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run выполняет одну команду протокола и возвращает код выхода процесса.
// stdout зарезервирован под вывод протокола, диагностика идет в stderr.
func (a *Agent) Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		return a.usageError(stderr, errors.New("missing action, expected 'apply', 'remove', 'list' or 'version'"))
	}

	action, rest := args[0], args[1:]
	var err error
	switch action {
	case "-h", "--help", "help":
		fmt.Fprint(stdout, protocol.Usage())
		return 0
	case protocol.CommandApply:
		err = a.runApply(ctx, rest, stdout)
	case protocol.CommandRemove:
		err = a.runRemove(ctx, rest, stdout)
	case protocol.CommandList:
		err = a.runList(rest, stdout)
	case protocol.CommandVersion:
		err = writeJSON(stdout, protocol.VersionInfo{Protocol: protocol.Version})
	default:
		return a.usageError(stderr, fmt.Errorf("unsupported action: %s", action))
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, pflag.ErrHelp):
		fmt.Fprint(stdout, protocol.Usage())
		return 0
	case errors.Is(err, protocol.ErrUsage):
		return a.usageError(stderr, err)
	default:
		// stderr агента уходит клиенту как есть: диагностика пишется ровно одной строкой
		a.logger.Debug("command failed", zap.String("action", action), zap.Error(err))
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
}

func (a *Agent) runApply(ctx context.Context, args []string, stdout io.Writer) error {
	req, err := protocol.ParseApply(args, a.defaults)
	if err != nil {
		return err
	}
	if req.Paths, err = resolvePaths(req.Paths); err != nil {
		return err
	}
	st, err := a.Apply(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Profile generated at %s\n", st.ProfilePath)
	return nil
}

func (a *Agent) runRemove(ctx context.Context, args []string, stdout io.Writer) error {
	req, err := protocol.ParseRemove(args, a.defaults)
	if err != nil {
		return err
	}
	if req.Paths, err = resolvePaths(req.Paths); err != nil {
		return err
	}
	removed, err := a.Remove(ctx, req)
	if err != nil {
		return err
	}
	if removed {
		fmt.Fprintln(stdout, protocol.MessageRemoved)
	} else {
		fmt.Fprintln(stdout, protocol.MessageNothingRemoved)
	}
	return nil
}

func (a *Agent) runList(args []string, stdout io.Writer) error {
	req, err := protocol.ParseList(args, a.defaults)
	if err != nil {
		return err
	}
	if req.ProfileDir, err = resolvePath(req.ProfileDir); err != nil {
		return err
	}
	summaries, err := a.List(req)
	if err != nil {
		return err
	}
	return writeJSON(stdout, summaries)
}

func (a *Agent) usageError(stderr io.Writer, err error) int {
	fmt.Fprintf(stderr, "Error: %v\n\n%s", err, protocol.Usage())
	return 2
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func resolvePaths(p protocol.Paths) (protocol.Paths, error) {
	dir, err := resolvePath(p.ProfileDir)
	if err != nil {
		return p, err
	}
	statePath, err := resolvePath(p.StatePath)
	if err != nil {
		return p, err
	}
	return protocol.Paths{ProfileDir: dir, StatePath: statePath}, nil
}

// resolvePath раскрывает "~" и приводит путь к абсолютному относительно рабочего каталога.
func resolvePath(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", p, err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", p, err)
	}
	return abs, nil
}
