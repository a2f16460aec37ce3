//go:build !no_containers

package mqtt

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/crimecast/core/grid"
	"github.com/kilianp07/crimecast/core/inference"
	"github.com/kilianp07/crimecast/test/util"
)

func TestPahoPublisherAgainstMosquitto(t *testing.T) {
	util.RequireDocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker, cleanup, err := util.StartMosquitto(ctx)
	if err != nil {
		t.Skipf("mosquitto unavailable: %v", err)
	}
	defer cleanup()

	cfg := Config{Enabled: true, Broker: broker, ClientID: "crimecast-it", QoS: 1}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	require.Equal(t, util.ForecastTopic, cfg.Topic)
	require.Equal(t, util.StatusTopic, cfg.StatusTopic)

	forecastRaw, stopForecasts, err := util.Collect(broker, cfg.Topic)
	require.NoError(t, err)
	defer stopForecasts()
	statusRaw, stopStatuses, err := util.Collect(broker, cfg.StatusTopic)
	require.NoError(t, err)
	defer stopStatuses()

	pub, err := NewPahoPublisher(cfg)
	require.NoError(t, err)
	defer pub.Close()

	fc := &inference.Forecast{
		Resolution: inference.Resolution{Date: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)},
		Threshold:  0.6,
		Cutoff:     inference.CutoffHard,
		Points: []inference.Point{{
			Cell: grid.Cell{Row: 3, Col: 4}, Channel: "theft",
			Lat: 12.9, Lon: 77.6, Probability: 0.8, Weight: 0.8, Intensity: 2,
		}},
	}
	require.NoError(t, pub.PublishForecast(ctx, NewForecastMessage("fc-1", "model", fc)))
	require.NoError(t, pub.PublishStatus(ctx, StatusMessage{Tier: "historical", Reason: "no trained checkpoint", Timestamp: time.Now().UnixMilli()}))

	select {
	case raw := <-forecastRaw:
		var got ForecastMessage
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, "fc-1", got.ForecastID)
		assert.Equal(t, "2024-06-01", got.Date)
		require.Len(t, got.Hotspots, 1)
		assert.Equal(t, "theft", got.Hotspots[0].Channel)
	case <-time.After(10 * time.Second):
		t.Fatal("forecast not received")
	}
	select {
	case raw := <-statusRaw:
		var got StatusMessage
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, "historical", got.Tier)
	case <-time.After(10 * time.Second):
		t.Fatal("status not received")
	}
}
