package metrics

import "github.com/kilianp07/crimecast/core/factory"

// Config defines settings for metrics sinks.
type Config struct {
	Sinks []factory.ModuleConfig `json:"sinks" koanf:"sinks"`
	// PrometheusPort exposes /metrics when a prometheus sink is configured.
	PrometheusPort string `json:"prometheus_port" koanf:"prometheus_port"`
}

// SetDefaults fills zero fields.
func (c *Config) SetDefaults() {
	if c.PrometheusPort == "" {
		c.PrometheusPort = "9090"
	}
}
