package metrics

import (
	"time"
)

// EpochEvent summarises one training epoch.
type EpochEvent struct {
	RunID        string
	Epoch        int
	TrainLoss    float64
	ValLoss      float64
	Precision    float64
	Recall       float64
	F1           float64
	LearningRate float64
	Best         bool
	Duration     time.Duration
	Time         time.Time
}

// MetricsSink records training epochs. Every sink implements it; the other
// recorder interfaces are optional.
type MetricsSink interface {
	RecordEpoch(ev EpochEvent) error
}

// EvaluationEvent captures test-set metrics and the advisory threshold sweep.
type EvaluationEvent struct {
	RunID         string
	Samples       int
	Loss          float64
	Precision     float64
	Recall        float64
	F1            float64
	BestThreshold float64
	BestF1        float64
	Time          time.Time
}

// EvaluationRecorder records evaluation results.
type EvaluationRecorder interface {
	RecordEvaluation(ev EvaluationEvent) error
}

// IngestEvent reports the outcome of reading and aggregating incidents.
type IngestEvent struct {
	Source  string
	Records int
	Kept    int
	Dropped map[string]int
	Days    int
	Time    time.Time
}

// IngestRecorder records ingestion reports.
type IngestRecorder interface {
	RecordIngest(ev IngestEvent) error
}

// ForecastEvent describes a served forecast.
type ForecastEvent struct {
	ForecastID   string
	Date         time.Time
	Tier         string
	Extrapolated bool
	Cells        int
	Hotspots     int
	Degraded     []string
	Latency      time.Duration
	Time         time.Time
}

// ForecastRecorder records served forecasts.
type ForecastRecorder interface {
	RecordForecast(ev ForecastEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordEpoch(EpochEvent) error           { return nil }
func (NopSink) RecordEvaluation(EvaluationEvent) error { return nil }
func (NopSink) RecordIngest(IngestEvent) error         { return nil }
func (NopSink) RecordForecast(ForecastEvent) error     { return nil }
