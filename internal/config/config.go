package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/pdfpipe/internal/logger"
	"github.com/loykin/pdfpipe/internal/pipeline"
	"github.com/loykin/pdfpipe/internal/supervisor"
)

// StageConfig is one pipeline stage as written in the TOML file.
type StageConfig struct {
	Name     string   `toml:"name" mapstructure:"name"`
	Command  string   `toml:"command" mapstructure:"command"`
	Args     []string `toml:"args" mapstructure:"args"`
	WorkDir  string   `toml:"workdir" mapstructure:"workdir"`
	Artifact string   `toml:"artifact" mapstructure:"artifact"`
}

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	MaxConcurrent  int            `toml:"max_concurrent" mapstructure:"max_concurrent"`
	MaxActive      int            `toml:"max_active" mapstructure:"max_active"`
	StartTimeout   time.Duration  `toml:"start_timeout" mapstructure:"start_timeout"`
	StopGrace      time.Duration  `toml:"stop_grace" mapstructure:"stop_grace"`
	RunTimeout     time.Duration  `toml:"run_timeout" mapstructure:"run_timeout"`
	ValidateEntity bool           `toml:"validate_entity" mapstructure:"validate_entity"`
	HistoryDSN     string         `toml:"history_dsn" mapstructure:"history_dsn"`
	Listen         string         `toml:"listen" mapstructure:"listen"`
	APIBase        string         `toml:"api_base" mapstructure:"api_base"`
	MetricsListen  string         `toml:"metrics_listen" mapstructure:"metrics_listen"`
	LogLevel       string         `toml:"log_level" mapstructure:"log_level"`
	Log            *logger.Config `toml:"log" mapstructure:"log"`
	Stages         []StageConfig  `toml:"stages" mapstructure:"stages"`
}

// Config is the resolved runtime configuration.
type Config struct {
	Supervisor     supervisor.Config
	Stages         []pipeline.Stage
	MaxActive      int
	ValidateEntity bool
	HistoryDSN     string
	Listen         string
	APIBase        string
	MetricsListen  string
	LogLevel       string
	ProcessLog     logger.Config
}

// Load reads a TOML configuration file. A missing stage list falls back to
// the built-in five-stage PDF pipeline.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return resolve(fc)
}

func resolve(fc FileConfig) (*Config, error) {
	cfg := &Config{
		Supervisor: supervisor.Config{
			MaxConcurrent: fc.MaxConcurrent,
			StartTimeout:  fc.StartTimeout,
			StopGrace:     fc.StopGrace,
			RunTimeout:    fc.RunTimeout,
		},
		MaxActive:      fc.MaxActive,
		ValidateEntity: fc.ValidateEntity,
		HistoryDSN:     fc.HistoryDSN,
		Listen:         fc.Listen,
		APIBase:        fc.APIBase,
		MetricsListen:  fc.MetricsListen,
		LogLevel:       fc.LogLevel,
	}
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "/api"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if fc.Log != nil {
		cfg.ProcessLog = *fc.Log
	}

	if len(fc.Stages) == 0 {
		cfg.Stages = pipeline.DefaultStages()
		return cfg, nil
	}
	stages := make([]pipeline.Stage, 0, len(fc.Stages))
	for i, sc := range fc.Stages {
		if sc.Name == "" {
			return nil, fmt.Errorf("stage %d: name is required", i)
		}
		if sc.Command == "" {
			return nil, fmt.Errorf("stage %q: command is required", sc.Name)
		}
		stages = append(stages, pipeline.Stage{
			Kind:     pipeline.KindForName(sc.Name),
			Name:     sc.Name,
			Command:  sc.Command,
			Args:     sc.Args,
			WorkDir:  sc.WorkDir,
			Artifact: sc.Artifact,
		})
	}
	cfg.Stages = stages
	return cfg, nil
}
