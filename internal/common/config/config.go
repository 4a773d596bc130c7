// Package config loads orchflow's configuration from flags, environment
// variables and an optional config file, via github.com/spf13/viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/foofork/orchflow/internal/common/logger"
)

// ServerConfig holds RPC listener configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// OrchestratorConfig holds dispatch-loop tuning.
type OrchestratorConfig struct {
	TickInterval        time.Duration `mapstructure:"tickInterval"`
	MaxConcurrentTasks  int           `mapstructure:"maxConcurrentTasks"`
	SpawnTimeout        time.Duration `mapstructure:"spawnTimeout"`
}

// WorkerConfig holds worker-manager tuning.
type WorkerConfig struct {
	MaxWorkers          int           `mapstructure:"maxWorkers"`
	OutputRingSize      int           `mapstructure:"outputRingSize"`
	ResourcePollInterval time.Duration `mapstructure:"resourcePollInterval"`
}

// ConflictConfig holds conflict-detector tuning.
type ConflictConfig struct {
	ExclusiveServices []string           `mapstructure:"exclusiveServices"`
	CPULimitPercent   float64            `mapstructure:"cpuLimitPercent"`
	MemoryLimitMB     float64            `mapstructure:"memoryLimitMB"`
}

// StateConfig holds the state manager's persistence settings.
type StateConfig struct {
	DataDir      string        `mapstructure:"dataDir"`
	AutosaveMs   time.Duration `mapstructure:"autosaveMs"`
}

// EventsConfig selects the event bus backend.
type EventsConfig struct {
	NATSURL string `mapstructure:"natsUrl"`
}

// Config is orchflow's top-level configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Conflict     ConflictConfig     `mapstructure:"conflict"`
	State        StateConfig        `mapstructure:"state"`
	Events       EventsConfig       `mapstructure:"events"`
	Logging      logger.Config      `mapstructure:"logging"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 7420)

	v.SetDefault("orchestrator.tickInterval", time.Second)
	v.SetDefault("orchestrator.maxConcurrentTasks", 5)
	v.SetDefault("orchestrator.spawnTimeout", 30*time.Second)

	v.SetDefault("worker.maxWorkers", 10)
	v.SetDefault("worker.outputRingSize", 1000)
	v.SetDefault("worker.resourcePollInterval", 5*time.Second)

	v.SetDefault("conflict.exclusiveServices", []string{"mysql", "postgres", "sqlite"})
	v.SetDefault("conflict.cpuLimitPercent", 400.0)
	v.SetDefault("conflict.memoryLimitMB", 8192.0)

	v.SetDefault("state.dataDir", "./data")
	v.SetDefault("state.autosaveMs", 30*time.Second)

	v.SetDefault("events.natsUrl", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from defaults, an optional ./config.yaml, and
// environment variables prefixed ORCHFLOW_, plus the documented
// flag-equivalent overrides (DATA_DIR, RPC_PORT, MAX_WORKERS,
// MAX_CONCURRENT_TASKS, AUTOSAVE_MS).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ORCHFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("state.dataDir", "DATA_DIR", "ORCHFLOW_DATA_DIR")
	_ = v.BindEnv("server.port", "RPC_PORT", "ORCHFLOW_RPC_PORT")
	_ = v.BindEnv("worker.maxWorkers", "MAX_WORKERS", "ORCHFLOW_MAX_WORKERS")
	_ = v.BindEnv("orchestrator.maxConcurrentTasks", "MAX_CONCURRENT_TASKS", "ORCHFLOW_MAX_CONCURRENT_TASKS")
	_ = v.BindEnv("state.autosaveMs", "AUTOSAVE_MS", "ORCHFLOW_AUTOSAVE_MS")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/orchflow/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if cfg.Worker.MaxWorkers <= 0 {
		errs = append(errs, "worker.maxWorkers must be positive")
	}
	if cfg.Orchestrator.MaxConcurrentTasks <= 0 {
		errs = append(errs, "orchestrator.maxConcurrentTasks must be positive")
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
