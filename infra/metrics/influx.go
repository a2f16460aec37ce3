package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/crimecast/core/metrics"
	"github.com/kilianp07/crimecast/infra/logger"
)

// InfluxConfig points the sink at an InfluxDB v2 bucket.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxSink writes pipeline events to InfluxDB using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a sink for the given endpoint. A URL ending in the
// write path is accepted.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings the instance and returns a NopSink when
// the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordEpoch writes one training_epoch point.
func (s *InfluxSink) RecordEpoch(ev coremetrics.EpochEvent) error {
	p := write.NewPointWithMeasurement("training_epoch").
		AddTag("run_id", ev.RunID).
		AddTag("best", strconv.FormatBool(ev.Best)).
		AddField("epoch", ev.Epoch).
		AddField("train_loss", round6(ev.TrainLoss)).
		AddField("val_loss", round6(ev.ValLoss)).
		AddField("precision", round6(ev.Precision)).
		AddField("recall", round6(ev.Recall)).
		AddField("f1", round6(ev.F1)).
		AddField("learning_rate", ev.LearningRate).
		AddField("duration_s", round6(ev.Duration.Seconds())).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordEvaluation writes the test-set result.
func (s *InfluxSink) RecordEvaluation(ev coremetrics.EvaluationEvent) error {
	p := write.NewPointWithMeasurement("evaluation").
		AddTag("run_id", ev.RunID).
		AddField("samples", ev.Samples).
		AddField("loss", round6(ev.Loss)).
		AddField("precision", round6(ev.Precision)).
		AddField("recall", round6(ev.Recall)).
		AddField("f1", round6(ev.F1)).
		AddField("best_threshold", round6(ev.BestThreshold)).
		AddField("best_f1", round6(ev.BestF1)).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordIngest writes the ingestion report with one field per drop reason.
func (s *InfluxSink) RecordIngest(ev coremetrics.IngestEvent) error {
	p := write.NewPointWithMeasurement("ingest").
		AddTag("source", ev.Source).
		AddField("records", ev.Records).
		AddField("kept", ev.Kept).
		AddField("days", ev.Days).
		SetTime(ev.Time)
	for reason, n := range ev.Dropped {
		p.AddField("dropped_"+reason, n)
	}
	return s.write(p)
}

// RecordForecast writes a served forecast.
func (s *InfluxSink) RecordForecast(ev coremetrics.ForecastEvent) error {
	p := write.NewPointWithMeasurement("forecast").
		AddTag("tier", ev.Tier).
		AddTag("extrapolated", strconv.FormatBool(ev.Extrapolated)).
		AddField("forecast_id", ev.ForecastID).
		AddField("date", ev.Date.Format(time.DateOnly)).
		AddField("cells", ev.Cells).
		AddField("hotspots", ev.Hotspots).
		AddField("latency_ms", round6(ev.Latency.Seconds()*1000)).
		SetTime(ev.Time)
	if len(ev.Degraded) > 0 {
		p.AddField("degraded", strings.Join(ev.Degraded, ","))
	}
	return s.write(p)
}

// Close releases the client.
func (s *InfluxSink) Close() {
	s.client.Close()
}

func round6(f float64) float64 {
	return math.Round(f*1e6) / 1e6
}
