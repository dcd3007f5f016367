package infra

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации API и агента.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Agent   AgentConfig   `mapstructure:"agent"`
	Audit   AuditConfig   `mapstructure:"audit"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Logger  LoggerConfig  `mapstructure:"logger"`

	// v держим, чтобы пути агента перечитывались на каждый запрос (ENV может меняться).
	v *viper.Viper
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr адрес для http.Server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// MetricsConfig отдельный листенер для Prometheus, чтобы /metrics не попадал в публичный API.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// AgentConfig — расположение привилегированного агента и параметры его вызова.
type AgentConfig struct {
	Path        string        `mapstructure:"path"`
	StatePath   string        `mapstructure:"state_path"`
	ProfileDir  string        `mapstructure:"profile_dir"`
	Timeout     time.Duration `mapstructure:"timeout"`
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
	LogLevel    string        `mapstructure:"log_level"`

	// Ограничение частоты запусков агента
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`

	// Circuit Breaker срабатывает только на сбои запуска и таймауты, не на ненулевой код выхода
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
	CBFailures    uint32        `mapstructure:"cb_failures"`
}

// AuditConfig журнал изменений политики. Пустой DatabaseURL — пишем только в лог.
type AuditConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	DatabaseURL   string        `mapstructure:"database_url"`
}

// RedisConfig уведомления об изменении политики. Пустой Addr — уведомления выключены.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// AgentPaths — три внешних настройки, которые определяют агента и его хранилища.
type AgentPaths struct {
	Binary     string
	StatePath  string
	ProfileDir string
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// SPC_SERVER_PORT=9000 перекроет server.port
	v.SetEnvPrefix("SPC")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	cfg.v = v
	return &cfg, nil
}

// ResolveAgentPaths читает пути агента заново при каждом вызове.
func (c *Config) ResolveAgentPaths() AgentPaths {
	if c.v == nil {
		return AgentPaths{Binary: c.Agent.Path, StatePath: c.Agent.StatePath, ProfileDir: c.Agent.ProfileDir}
	}
	return AgentPaths{
		Binary:     c.v.GetString("agent.path"),
		StatePath:  c.v.GetString("agent.state_path"),
		ProfileDir: c.v.GetString("agent.profile_dir"),
	}
}

// bindLegacyEnv короткие имена переменных, с которыми исторически запускались API и тесты.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"agent.path":        {"SPC_AGENT_PATH"},
		"agent.state_path":  {"SPC_STATE_PATH", "SPC_AGENT_STATE_PATH"},
		"agent.profile_dir": {"SPC_PROFILE_DIR", "SPC_AGENT_PROFILE_DIR"},
		"server.host":       {"SPC_API_HOST", "SPC_SERVER_HOST"},
		"server.port":       {"SPC_API_PORT", "SPC_SERVER_PORT"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 90*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("agent.path", "bin/system-policy-agent")
	v.SetDefault("agent.state_path", "data/policy_state.json")
	v.SetDefault("agent.profile_dir", "data/profiles")
	v.SetDefault("agent.timeout", 60*time.Second)
	v.SetDefault("agent.lock_timeout", 10*time.Second)
	v.SetDefault("agent.log_level", "error") // Журнал агента нужен только при отладке
	v.SetDefault("agent.rate_limit", 10.0)
	v.SetDefault("agent.rate_burst", 5)
	v.SetDefault("agent.cb_max_requests", 1)
	v.SetDefault("agent.cb_interval", 60*time.Second)
	v.SetDefault("agent.cb_timeout", 30*time.Second)
	v.SetDefault("agent.cb_failures", 3)

	v.SetDefault("audit.buffer_size", 1000)
	v.SetDefault("audit.batch_size", 100)
	v.SetDefault("audit.flush_interval", 1*time.Second)
	v.SetDefault("audit.database_url", "") // Пусто — журнал только в лог

	v.SetDefault("redis.addr", "") // Пусто — уведомления выключены
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}
