package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/xela07ax/system-policy-control/internal/agent"
	"github.com/xela07ax/system-policy-control/internal/infra"
	"github.com/xela07ax/system-policy-control/internal/protocol"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// stdout занят протоколом, логи только в stderr и по умолчанию тихие
	logger, err := infra.NewLogger(infra.LoggerConfig{Level: cfg.Agent.LogLevel, Format: cfg.Logger.Format})
	if err != nil {
		logger = zap.NewNop()
	}
	logger = logger.WithOptions(zap.AddStacktrace(zap.FatalLevel))

	paths := cfg.ResolveAgentPaths()
	a := agent.New(agent.NewProfilesInstaller(), logger,
		agent.WithLockTimeout(cfg.Agent.LockTimeout),
		agent.WithDefaultPaths(protocol.Paths{ProfileDir: paths.ProfileDir, StatePath: paths.StatePath}),
	)

	code := a.Run(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
	_ = logger.Sync()
	os.Exit(code)
}
