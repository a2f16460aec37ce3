package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/crimecast/core/metrics"
)

// PromSink exposes training, evaluation, ingestion and forecast metrics.
type PromSink struct {
	epochs       *prometheus.CounterVec
	loss         *prometheus.GaugeVec
	scores       *prometheus.GaugeVec
	learningRate prometheus.Gauge
	epochTime    prometheus.Histogram
	records      *prometheus.CounterVec
	forecasts    *prometheus.CounterVec
	hotspots     prometheus.Gauge
	latency      *prometheus.HistogramVec
	degraded     *prometheus.CounterVec
}

// NewPromSink registers metrics on the default Prometheus registerer. The
// HTTP endpoint is started separately with StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Collectors
// that are already registered are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		epochs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crimecast_training_epochs_total",
			Help: "Completed training epochs",
		}, []string{"run_id"}),
		loss: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crimecast_loss",
			Help: "Latest weighted binary cross-entropy per partition",
		}, []string{"run_id", "split"}),
		scores: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crimecast_score",
			Help: "Latest precision, recall and F1 per partition",
		}, []string{"run_id", "split", "metric"}),
		learningRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crimecast_learning_rate",
			Help: "Learning rate used by the latest epoch",
		}),
		epochTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crimecast_epoch_duration_seconds",
			Help:    "Wall time of one training epoch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crimecast_ingest_records_total",
			Help: "Incident records read, by outcome",
		}, []string{"outcome"}),
		forecasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crimecast_forecasts_total",
			Help: "Forecasts served",
		}, []string{"tier", "extrapolated"}),
		hotspots: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crimecast_forecast_hotspots",
			Help: "Cells above threshold in the latest forecast",
		}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crimecast_forecast_latency_seconds",
			Help:    "Time to produce a forecast",
			Buckets: prometheus.DefBuckets,
		}, []string{"tier"}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crimecast_factor_failures_total",
			Help: "Auxiliary factors that fell back to a neutral weight",
		}, []string{"factor"}),
	}
	if err := register(reg, &s.epochs); err != nil {
		return nil, err
	}
	if err := register(reg, &s.loss); err != nil {
		return nil, err
	}
	if err := register(reg, &s.scores); err != nil {
		return nil, err
	}
	if err := register(reg, &s.learningRate); err != nil {
		return nil, err
	}
	if err := register(reg, &s.epochTime); err != nil {
		return nil, err
	}
	if err := register(reg, &s.records); err != nil {
		return nil, err
	}
	if err := register(reg, &s.forecasts); err != nil {
		return nil, err
	}
	if err := register(reg, &s.hotspots); err != nil {
		return nil, err
	}
	if err := register(reg, &s.latency); err != nil {
		return nil, err
	}
	if err := register(reg, &s.degraded); err != nil {
		return nil, err
	}
	return s, nil
}

// register adds *c to reg, swapping in the existing collector when an
// identical one was registered earlier.
func register[C prometheus.Collector](reg prometheus.Registerer, c *C) error {
	err := reg.Register(*c)
	if err == nil {
		return nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			*c = existing
			return nil
		}
	}
	return err
}

// RecordEpoch updates the training gauges.
func (s *PromSink) RecordEpoch(ev coremetrics.EpochEvent) error {
	s.epochs.WithLabelValues(ev.RunID).Inc()
	s.loss.WithLabelValues(ev.RunID, "train").Set(ev.TrainLoss)
	s.loss.WithLabelValues(ev.RunID, "val").Set(ev.ValLoss)
	s.setScores(ev.RunID, "val", ev.Precision, ev.Recall, ev.F1)
	s.learningRate.Set(ev.LearningRate)
	s.epochTime.Observe(ev.Duration.Seconds())
	return nil
}

// RecordEvaluation updates the test-set gauges.
func (s *PromSink) RecordEvaluation(ev coremetrics.EvaluationEvent) error {
	s.loss.WithLabelValues(ev.RunID, "test").Set(ev.Loss)
	s.setScores(ev.RunID, "test", ev.Precision, ev.Recall, ev.F1)
	s.scores.WithLabelValues(ev.RunID, "test", "best_threshold").Set(ev.BestThreshold)
	return nil
}

func (s *PromSink) setScores(run, split string, p, r, f1 float64) {
	s.scores.WithLabelValues(run, split, "precision").Set(p)
	s.scores.WithLabelValues(run, split, "recall").Set(r)
	s.scores.WithLabelValues(run, split, "f1").Set(f1)
}

// RecordIngest counts kept records and drops per reason.
func (s *PromSink) RecordIngest(ev coremetrics.IngestEvent) error {
	s.records.WithLabelValues("kept").Add(float64(ev.Kept))
	for reason, n := range ev.Dropped {
		s.records.WithLabelValues(reason).Add(float64(n))
	}
	return nil
}

// RecordForecast counts served forecasts and observes their latency.
func (s *PromSink) RecordForecast(ev coremetrics.ForecastEvent) error {
	s.forecasts.WithLabelValues(ev.Tier, strconv.FormatBool(ev.Extrapolated)).Inc()
	s.hotspots.Set(float64(ev.Hotspots))
	s.latency.WithLabelValues(ev.Tier).Observe(ev.Latency.Seconds())
	for _, f := range ev.Degraded {
		s.degraded.WithLabelValues(f).Inc()
	}
	return nil
}
