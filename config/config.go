package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/crimecast/core/incident"
	"github.com/kilianp07/crimecast/core/location"
	"github.com/kilianp07/crimecast/core/metrics"
	"github.com/kilianp07/crimecast/core/model"
	"github.com/kilianp07/crimecast/core/train"
	"github.com/kilianp07/crimecast/infra/mqtt"
)

// EnvPrefix marks environment overrides. Nested keys are separated by a
// double underscore, e.g. CC_TRAINING__EPOCHS=3.
const EnvPrefix = "CC_"

type Config struct {
	Grid      GridConfig       `json:"grid"`
	Dataset   DatasetConfig    `json:"dataset"`
	Schema    incident.Schema  `json:"schema"`
	Model     model.Config     `json:"model"`
	Training  train.Config     `json:"training"`
	Inference InferenceConfig  `json:"inference"`
	Locations []location.Place `json:"locations"`
	Metrics   metrics.Config   `json:"metrics"`
	MQTT      mqtt.Config      `json:"mqtt"`
	Server    ServerConfig     `json:"server"`
	Logging   LoggingConfig    `json:"logging"`
}

// Load reads path, applies CC_ environment overrides, fills defaults and
// validates every section.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	if err := k.Load(env.Provider(EnvPrefix, "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills every section. The model inherits the grid size and the
// channel count.
func (c *Config) SetDefaults() {
	c.Grid.SetDefaults()
	c.Dataset.SetDefaults()
	c.Schema.SetDefaults()
	if c.Model.Rows == 0 {
		c.Model.Rows = c.Grid.Rows
	}
	if c.Model.Cols == 0 {
		c.Model.Cols = c.Grid.Cols
	}
	if c.Model.InputChannels == 0 {
		c.Model.InputChannels = max(1, len(c.Dataset.Channels))
	}
	c.Model.SetDefaults()
	c.Training.SetDefaults()
	c.Inference.SetDefaults()
	c.Metrics.SetDefaults()
	c.MQTT.SetDefaults()
	c.Server.SetDefaults()
	c.Logging.SetDefaults()
}

// Validate checks each section and reports all failures at once.
func (c Config) Validate() error {
	var errs []error
	add := func(section string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", section, err))
		}
	}
	add("grid", c.Grid.Validate())
	add("dataset", c.Dataset.Validate())
	add("model", c.Model.Validate())
	add("training", c.Training.Validate())
	add("inference", c.Inference.Validate())
	add("mqtt", c.MQTT.Validate())
	add("logging", c.Logging.Validate())
	if c.Model.Rows != c.Grid.Rows || c.Model.Cols != c.Grid.Cols {
		add("model", fmt.Errorf("size %dx%d differs from grid %dx%d", c.Model.Rows, c.Model.Cols, c.Grid.Rows, c.Grid.Cols))
	}
	if n := len(c.Dataset.Channels); n > 0 && c.Model.InputChannels != n {
		add("model", fmt.Errorf("input_channels %d differs from %d dataset channels", c.Model.InputChannels, n))
	}
	for i, p := range c.Locations {
		if p.Name == "" {
			add("locations", fmt.Errorf("entry %d has no name", i))
		}
	}
	return errors.Join(errs...)
}
