package metrics

// MultiSink fans events out to multiple sinks.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordEpoch forwards the epoch to all sinks, returning the first error encountered.
func (m *MultiSink) RecordEpoch(ev EpochEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordEpoch(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordEvaluation forwards evaluation results.
func (m *MultiSink) RecordEvaluation(ev EvaluationEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(EvaluationRecorder); ok {
			if err := rec.RecordEvaluation(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordIngest forwards ingestion reports.
func (m *MultiSink) RecordIngest(ev IngestEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(IngestRecorder); ok {
			if err := rec.RecordIngest(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordForecast forwards served forecasts.
func (m *MultiSink) RecordForecast(ev ForecastEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(ForecastRecorder); ok {
			if err := rec.RecordForecast(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close closes every sink that holds resources.
func (m *MultiSink) Close() {
	for _, s := range m.Sinks {
		if c, ok := s.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
