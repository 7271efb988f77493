package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Drivers lists the geometry engines a config may select.
var Drivers = []string{"planar", "postgis", "geos"}

// Config holds the full application configuration.
type Config struct {
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Engine    EngineConfig    `yaml:"engine" mapstructure:"engine"`
	Exclusion ExclusionConfig `yaml:"exclusion" mapstructure:"exclusion"`
	Run       RunConfig       `yaml:"run" mapstructure:"run"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// EngineConfig selects and configures the geometry engine.
type EngineConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	// Segments per quarter circle for the dispersal buffers.
	Segments int `yaml:"segments" mapstructure:"segments"`
}

// ExclusionConfig configures the waterway and road corridors.
type ExclusionConfig struct {
	WaterwayMargin float64 `yaml:"waterway_margin" mapstructure:"waterway_margin"`
	RoadMargin     float64 `yaml:"road_margin" mapstructure:"road_margin"`
	Segments       int     `yaml:"segments" mapstructure:"segments"`
}

// RunConfig configures the convergence loop.
type RunConfig struct {
	Iterations int     `yaml:"iterations" mapstructure:"iterations"`
	Tolerance  float64 `yaml:"tolerance" mapstructure:"tolerance"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("NUTRIENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("engine.driver", "planar")
	v.SetDefault("engine.database_url", "")
	v.SetDefault("engine.segments", 10)
	v.SetDefault("exclusion.waterway_margin", 50.0)
	v.SetDefault("exclusion.road_margin", 40.0)
	v.SetDefault("exclusion.segments", 5)
	v.SetDefault("run.iterations", 5)
	v.SetDefault("run.tolerance", 0.0)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate reports every invalid setting in one error.
func (c *Config) Validate() error {
	var problems []string

	if !slices.Contains(Drivers, c.Engine.Driver) {
		problems = append(problems, fmt.Sprintf("engine.driver must be one of %s, got %q", strings.Join(Drivers, ", "), c.Engine.Driver))
	}
	if c.Engine.Driver == "postgis" && c.Engine.DatabaseURL == "" {
		problems = append(problems, "engine.database_url is required for the postgis driver")
	}
	if c.Engine.Segments < 1 {
		problems = append(problems, "engine.segments must be >= 1")
	}
	if c.Exclusion.WaterwayMargin < 0 {
		problems = append(problems, "exclusion.waterway_margin must be >= 0")
	}
	if c.Exclusion.RoadMargin < 0 {
		problems = append(problems, "exclusion.road_margin must be >= 0")
	}
	if c.Exclusion.Segments < 1 {
		problems = append(problems, "exclusion.segments must be >= 1")
	}
	if c.Run.Iterations < 0 {
		problems = append(problems, "run.iterations must be >= 0")
	}
	if c.Run.Tolerance < 0 {
		problems = append(problems, "run.tolerance must be >= 0")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
