package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the YAML file Initialize looks for inside the config
// directory.
const ConfigFileName = "engram.yaml"

// engramYAMLConfig represents the complete engram.yaml file structure.
type engramYAMLConfig struct {
	Environment   string               `yaml:"environment"`
	Server        *ServerConfig        `yaml:"server"`
	Auth          *AuthConfig          `yaml:"auth"`
	Embedding     *EmbeddingConfig     `yaml:"embedding"`
	LLM           *LLMConfig           `yaml:"llm"`
	Consolidation *ConsolidationConfig `yaml:"consolidation"`
	Maintenance   *MaintenanceConfig   `yaml:"maintenance"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Read engram.yaml from configDir (missing file: built-in defaults)
//  2. Expand {{.VAR}} environment references
//  3. Parse YAML and merge user values over built-in defaults
//  4. Apply explicit environment overrides (MCP_DEV_TOKEN, ENV, ...)
//  5. Validate every section
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized successfully",
		"environment", cfg.Environment,
		"listen", cfg.Server.Addr(),
		"embedding_provider", cfg.Embedding.Provider,
		"embedding_dimension", cfg.Embedding.Dimension,
		"llm_provider", cfg.LLM.Provider)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	cfg := &Config{
		configDir:     configDir,
		Environment:   "development",
		Server:        DefaultServerConfig(),
		Auth:          DefaultAuthConfig(),
		Embedding:     DefaultEmbeddingConfig(),
		LLM:           DefaultLLMConfig(),
		Consolidation: DefaultConsolidationConfig(),
		Maintenance:   DefaultMaintenanceConfig(),
	}

	path := filepath.Join(configDir, ConfigFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("No configuration file found, using built-in defaults", "path", path)
			return cfg, nil
		}
		return nil, NewLoadError(ConfigFileName, err)
	}

	data = ExpandEnv(data)

	var fileCfg engramYAMLConfig
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, NewLoadError(ConfigFileName, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	if fileCfg.Environment != "" {
		cfg.Environment = fileCfg.Environment
	}

	// Merge user-provided sections into defaults; non-zero values override
	// so unset fields keep their built-in values.
	if fileCfg.Server != nil {
		if err := mergo.Merge(cfg.Server, fileCfg.Server, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge server config: %w", err)
		}
	}
	if fileCfg.Auth != nil {
		if err := mergo.Merge(cfg.Auth, fileCfg.Auth, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge auth config: %w", err)
		}
	}
	if fileCfg.Embedding != nil {
		if err := mergo.Merge(cfg.Embedding, fileCfg.Embedding, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge embedding config: %w", err)
		}
	}
	if fileCfg.LLM != nil {
		if err := mergo.Merge(cfg.LLM, fileCfg.LLM, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge llm config: %w", err)
		}
	}
	if fileCfg.Consolidation != nil {
		if err := mergo.Merge(cfg.Consolidation, fileCfg.Consolidation, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge consolidation config: %w", err)
		}
	}
	if fileCfg.Maintenance != nil {
		if err := mergo.Merge(cfg.Maintenance, fileCfg.Maintenance, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge maintenance config: %w", err)
		}
	}

	return cfg, nil
}

// applyEnvOverrides applies the environment variables the engine interprets
// directly, taking precedence over file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ENV"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("MCP_DEV_TOKEN"); v != "" {
		cfg.Auth.DevToken = v
	}
	if v := os.Getenv("CONSOLIDATION_SCHEDULE_DAILY"); v != "" {
		cfg.Consolidation.DailySchedule = v
	}
	if v := os.Getenv("CONSOLIDATION_SCHEDULE_WEEKLY"); v != "" {
		cfg.Consolidation.WeeklySchedule = v
	}
	if v := os.Getenv("CONSOLIDATION_SCHEDULE_MONTHLY"); v != "" {
		cfg.Consolidation.MonthlySchedule = v
	}
	if v := os.Getenv("EMBEDDING_DIMENSION"); v != "" {
		if d, err := strconv.Atoi(v); err == nil && d > 0 {
			cfg.Embedding.Dimension = d
		} else {
			slog.Warn("Ignoring invalid EMBEDDING_DIMENSION", "value", v)
		}
	}
	if v := os.Getenv("STALE_JOB_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Consolidation.StaleJobTimeout = time.Duration(ms) * time.Millisecond
		} else {
			slog.Warn("Ignoring invalid STALE_JOB_TIMEOUT_MS", "value", v)
		}
	}
	if v := os.Getenv("REQUEST_DEADLINE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Server.RequestDeadline = time.Duration(ms) * time.Millisecond
		} else {
			slog.Warn("Ignoring invalid REQUEST_DEADLINE_MS", "value", v)
		}
	}
}
