package metrics

import (
	"fmt"
	"strings"

	"github.com/kilianp07/crimecast/core/factory"
)

var sinkRegistry = factory.NewRegistry[MetricsSink]()

// RegisterMetricsSink adds a metrics sink factory identified by name.
func RegisterMetricsSink(name string, f factory.Factory[MetricsSink]) error {
	return sinkRegistry.Register(name, f)
}

// NewMetricsSink builds the configured sinks. No configuration yields a
// NopSink, a single entry its sink, several entries a MultiSink. A sink type
// may appear only once.
func NewMetricsSink(cfgs []factory.ModuleConfig) (MetricsSink, error) {
	if len(cfgs) == 0 {
		return NopSink{}, nil
	}
	seen := make(map[string]bool, len(cfgs))
	sinks := make([]MetricsSink, 0, len(cfgs))
	for i, c := range cfgs {
		kind := strings.ToLower(c.Type)
		if seen[kind] {
			return nil, fmt.Errorf("metrics sink %d: type %q configured twice", i, c.Type)
		}
		seen[kind] = true
		s, err := sinkRegistry.Create(c)
		if err != nil {
			return nil, fmt.Errorf("metrics sink %d: %w", i, err)
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return NewMultiSink(sinks...), nil
}
