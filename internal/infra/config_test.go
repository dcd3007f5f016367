package infra_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/system-policy-control/internal/infra"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := infra.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8000", cfg.Server.Addr())
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.Equal(t, 60*time.Second, cfg.Agent.Timeout)
	assert.Equal(t, uint32(3), cfg.Agent.CBFailures)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Empty(t, cfg.Audit.DatabaseURL)
	assert.Equal(t, infra.AgentPaths{
		Binary:     "bin/system-policy-agent",
		StatePath:  "data/policy_state.json",
		ProfileDir: "data/profiles",
	}, cfg.ResolveAgentPaths())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("SPC_API_PORT", "9100")
	t.Setenv("SPC_AGENT_TIMEOUT", "5s")
	t.Setenv("SPC_REDIS_ADDR", "localhost:6379")

	cfg, err := infra.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Agent.Timeout)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestResolveAgentPaths_ReadsEnvPerCall(t *testing.T) {
	cfg, err := infra.LoadConfig()
	require.NoError(t, err)

	t.Setenv("SPC_AGENT_PATH", "/opt/spc/agent")
	t.Setenv("SPC_STATE_PATH", "/var/lib/spc/state.json")
	t.Setenv("SPC_PROFILE_DIR", "/var/lib/spc/profiles")

	assert.Equal(t, infra.AgentPaths{
		Binary:     "/opt/spc/agent",
		StatePath:  "/var/lib/spc/state.json",
		ProfileDir: "/var/lib/spc/profiles",
	}, cfg.ResolveAgentPaths())
}

func TestNewLogger(t *testing.T) {
	logger, err := infra.NewLogger(infra.LoggerConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	_, err = infra.NewLogger(infra.LoggerConfig{Level: "loud"})
	assert.Error(t, err)
}
