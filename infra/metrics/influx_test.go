package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremetrics "github.com/kilianp07/crimecast/core/metrics"
)

type lineRecorder struct {
	mu     sync.Mutex
	bodies []string
}

func (l *lineRecorder) server(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		l.mu.Lock()
		l.bodies = append(l.bodies, strings.TrimSpace(string(b)))
		l.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func line(p *write.Point) string {
	return strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
}

func TestInfluxSink_RecordEpoch(t *testing.T) {
	rec := &lineRecorder{}
	srv := rec.server(t)
	sink := NewInfluxSink(InfluxConfig{URL: srv.URL + "/api/v2/write", Token: "tok", Org: "org", Bucket: "bucket"})
	defer sink.Close()

	now := time.Now()
	ev := coremetrics.EpochEvent{
		RunID: "r1", Epoch: 2, TrainLoss: 0.1234567, ValLoss: 0.2, Precision: 0.5, Recall: 0.25, F1: 1.0 / 3,
		LearningRate: 1.5e-5, Best: true, Duration: 1500 * time.Millisecond, Time: now,
	}
	require.NoError(t, sink.RecordEpoch(ev))

	want := write.NewPointWithMeasurement("training_epoch").
		AddTag("run_id", "r1").
		AddTag("best", "true").
		AddField("epoch", 2).
		AddField("train_loss", 0.123457).
		AddField("val_loss", 0.2).
		AddField("precision", 0.5).
		AddField("recall", 0.25).
		AddField("f1", 0.333333).
		AddField("learning_rate", 1.5e-5).
		AddField("duration_s", 1.5).
		SetTime(now)
	require.Len(t, rec.bodies, 1)
	assert.Equal(t, line(want), rec.bodies[0])
}

func TestInfluxSink_RecordForecast(t *testing.T) {
	rec := &lineRecorder{}
	srv := rec.server(t)
	sink := NewInfluxSink(InfluxConfig{URL: srv.URL, Org: "org", Bucket: "bucket"})
	defer sink.Close()

	now := time.Now()
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, sink.RecordForecast(coremetrics.ForecastEvent{
		ForecastID: "f1", Date: date, Tier: "historical", Cells: 2500, Hotspots: 40,
		Latency: 12 * time.Millisecond, Degraded: []string{"month", "weekday"}, Time: now,
	}))
	want := write.NewPointWithMeasurement("forecast").
		AddTag("tier", "historical").
		AddTag("extrapolated", "false").
		AddField("forecast_id", "f1").
		AddField("date", "2024-03-01").
		AddField("cells", 2500).
		AddField("hotspots", 40).
		AddField("latency_ms", 12.0).
		AddField("degraded", "month,weekday").
		SetTime(now)
	require.Len(t, rec.bodies, 1)
	assert.Equal(t, line(want), rec.bodies[0])
}

func TestInfluxSink_RecordIngest(t *testing.T) {
	rec := &lineRecorder{}
	srv := rec.server(t)
	sink := NewInfluxSink(InfluxConfig{URL: srv.URL, Org: "org", Bucket: "bucket"})
	defer sink.Close()

	require.NoError(t, sink.RecordIngest(coremetrics.IngestEvent{
		Source: "incidents.csv", Records: 10, Kept: 8, Days: 3,
		Dropped: map[string]int{"bad_date": 2}, Time: time.Now(),
	}))
	require.Len(t, rec.bodies, 1)
	assert.Contains(t, rec.bodies[0], "dropped_bad_date=2i")
	assert.Contains(t, rec.bodies[0], "source=incidents.csv")
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(InfluxConfig{URL: srv.URL + "/api/v2/write", Token: "tok", Org: "org", Bucket: "bucket"})
	_, isInflux := sink.(*InfluxSink)
	assert.False(t, isInflux, "expected NopSink on failing health check")
	assert.True(t, called, "health endpoint not called")
}
