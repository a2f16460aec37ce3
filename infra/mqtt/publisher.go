// Package mqtt publishes forecasts and predictor status to an MQTT broker.
package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/crimecast/core/inference"
)

// Publisher sends forecasts and status updates to subscribers.
type Publisher interface {
	PublishForecast(ctx context.Context, msg ForecastMessage) error
	PublishStatus(ctx context.Context, msg StatusMessage) error
	Close()
}

// Hotspot is one published cell.
type Hotspot struct {
	Row         int     `json:"row"`
	Col         int     `json:"col"`
	Channel     string  `json:"channel"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Probability float64 `json:"probability"`
	Weight      float64 `json:"weight"`
	Intensity   int     `json:"intensity"`
}

// ForecastMessage is the JSON payload of the forecast topic.
type ForecastMessage struct {
	ForecastID   string    `json:"forecast_id"`
	Date         string    `json:"date"`
	Tier         string    `json:"tier"`
	Extrapolated bool      `json:"extrapolated"`
	Threshold    float64   `json:"threshold"`
	Cutoff       string    `json:"cutoff"`
	Degraded     []string  `json:"degraded_factors,omitempty"`
	Hotspots     []Hotspot `json:"hotspots"`
	Timestamp    int64     `json:"timestamp"`
}

// StatusMessage is the retained payload of the status topic.
type StatusMessage struct {
	Tier      string `json:"tier"`
	Reason    string `json:"reason,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// NewForecastMessage flattens a forecast into its published form.
func NewForecastMessage(id, tier string, f *inference.Forecast) ForecastMessage {
	msg := ForecastMessage{
		ForecastID:   id,
		Date:         f.Date.Format(time.DateOnly),
		Tier:         tier,
		Extrapolated: f.Extrapolated,
		Threshold:    f.Threshold,
		Cutoff:       string(f.Cutoff),
		Degraded:     f.DegradedFactors,
		Hotspots:     make([]Hotspot, 0, len(f.Points)),
		Timestamp:    time.Now().UnixMilli(),
	}
	for _, p := range f.Points {
		msg.Hotspots = append(msg.Hotspots, Hotspot{
			Row: p.Cell.Row, Col: p.Cell.Col, Channel: p.Channel,
			Lat: p.Lat, Lon: p.Lon,
			Probability: p.Probability, Weight: p.Weight, Intensity: p.Intensity,
		})
	}
	return msg
}

// MockPublisher records messages in memory.
type MockPublisher struct {
	mu        sync.Mutex
	Forecasts []ForecastMessage
	Statuses  []StatusMessage
	// Fail makes every publish return an error.
	Fail   bool
	Closed bool
}

// NewMockPublisher creates a new MockPublisher.
func NewMockPublisher() *MockPublisher { return &MockPublisher{} }

func (m *MockPublisher) PublishForecast(_ context.Context, msg ForecastMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return fmt.Errorf("publish failed")
	}
	m.Forecasts = append(m.Forecasts, msg)
	return nil
}

func (m *MockPublisher) PublishStatus(_ context.Context, msg StatusMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return fmt.Errorf("publish failed")
	}
	m.Statuses = append(m.Statuses, msg)
	return nil
}

func (m *MockPublisher) Close() {
	m.mu.Lock()
	m.Closed = true
	m.mu.Unlock()
}

// Snapshot returns copies of the recorded messages.
func (m *MockPublisher) Snapshot() ([]ForecastMessage, []StatusMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ForecastMessage(nil), m.Forecasts...), append([]StatusMessage(nil), m.Statuses...)
}
