package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// configName is looked up as .geoval.yaml in the working directory,
	// then in $HOME.
	configName = ".geoval"
	configType = "yaml"

	// envPrefix exposes nested keys as GEOVAL_<SECTION>_<KEY>.
	envPrefix = "GEOVAL"
)

// LoadConfig reads configPath, or the default config file when it is empty,
// overlays GEOVAL_* environment variables and defaults, and validates the
// result. A file on disk must satisfy the embedded schema. Running without
// any config file is allowed and fails validation only on required settings.
func LoadConfig(configPath string) (*Config, error) {
	v := newViper(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if used := v.ConfigFileUsed(); used != "" {
		if err := validateFile(used); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyItemDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()
	applyDefaults(v)

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)

		return v
	}

	v.SetConfigName(configName)
	v.AddConfigPath(".")

	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}

	return v
}

func validateFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	return ValidateDocument(raw)
}

func applyDefaults(v *viper.Viper) {
	for key, value := range map[string]any{
		"run.workers":               DefaultWorkers,
		"mask_policy":               DefaultMaskPolicy,
		"output.dir":                DefaultOutputDir,
		"output.formats":            []string{FormatLZ4},
		"logging.level":             DefaultLogLevel,
		"logging.json":              DefaultLogJSON,
		"telemetry.prometheus_addr": DefaultPrometheusAddr,
	} {
		v.SetDefault(key, value)
	}
}

// applyItemDefaults fills list entries, which viper defaults cannot reach.
func (c *Config) applyItemDefaults() {
	defaultWindow, _ := time.ParseDuration(DefaultWindow)

	for i := range c.Datasets {
		if c.Datasets[i].Convention == "" {
			c.Datasets[i].Convention = DefaultConvention
		}
	}

	for i := range c.Masks {
		if c.Masks[i].Convention == "" {
			c.Masks[i].Convention = DefaultConvention
		}
	}

	for i := range c.Groups {
		g := &c.Groups[i]
		if g.Window == 0 && g.Before == 0 && g.After == 0 {
			g.Window = defaultWindow
		}

		if g.Policy == "" {
			g.Policy = DefaultPolicy
		}
	}

	for i := range c.Metrics {
		if c.Metrics[i].MinObs == 0 {
			c.Metrics[i].MinObs = DefaultMinObs
		}
	}
}
