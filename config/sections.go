package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/kilianp07/crimecast/core/grid"
	"github.com/kilianp07/crimecast/core/inference"
)

// GridConfig is the forecast area and its resolution.
type GridConfig struct {
	City   string      `json:"city"`
	Bounds grid.Bounds `json:"bounds"`
	Rows   int         `json:"rows"`
	Cols   int         `json:"cols"`
}

// SetDefaults selects the Bengaluru area on a 50x50 grid.
func (c *GridConfig) SetDefaults() {
	if c.City == "" {
		c.City = "Bengaluru"
	}
	if c.Bounds == (grid.Bounds{}) {
		c.Bounds = grid.Bounds{LatMin: 12.85, LatMax: 13.15, LonMin: 77.45, LonMax: 77.75}
	}
	if c.Rows == 0 {
		c.Rows = 50
	}
	if c.Cols == 0 {
		c.Cols = 50
	}
}

func (c GridConfig) Validate() error {
	if c.Rows < 1 || c.Cols < 1 {
		return fmt.Errorf("rows and cols must be positive, got %dx%d", c.Rows, c.Cols)
	}
	return c.Bounds.Validate()
}

// DatasetConfig locates the source file and the derived artifacts.
type DatasetConfig struct {
	// Source is the incident CSV.
	Source string `json:"source"`
	// Dir holds the derived artifacts.
	Dir string `json:"dir"`
	// ID prefixes every artifact file name.
	ID             string   `json:"id"`
	SequenceLength int      `json:"sequence_length"`
	Channels       []string `json:"channels"`
	// StartDate anchors inference windows, as YYYY-MM-DD. Empty anchors at
	// the first observed day.
	StartDate string `json:"start_date"`
}

func (c *DatasetConfig) SetDefaults() {
	if c.Source == "" {
		c.Source = "data/crimes.csv"
	}
	if c.Dir == "" {
		c.Dir = "data"
	}
	if c.ID == "" {
		c.ID = "bengaluru"
	}
	if c.SequenceLength == 0 {
		c.SequenceLength = 12
	}
}

func (c DatasetConfig) Validate() error {
	if c.SequenceLength < 1 {
		return fmt.Errorf("sequence_length must be positive, got %d", c.SequenceLength)
	}
	if _, err := c.Start(); err != nil {
		return err
	}
	return nil
}

// Start parses StartDate. The zero time is returned when it is empty.
func (c DatasetConfig) Start() (time.Time, error) {
	if c.StartDate == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, c.StartDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("start_date: %w", err)
	}
	return t, nil
}

// OccupancyPath is the SQLite file holding the aggregated table.
func (c DatasetConfig) OccupancyPath() string {
	return filepath.Join(c.Dir, c.ID+"_occupancy.db")
}

// CheckpointPath is the best model snapshot.
func (c DatasetConfig) CheckpointPath() string {
	return filepath.Join(c.Dir, c.ID+"_model.ckpt")
}

// InferenceConfig tunes forecasts served by predict, render and serve.
type InferenceConfig struct {
	Threshold  float64 `json:"threshold"`
	Cutoff     string  `json:"cutoff"`
	SoftFactor float64 `json:"soft_factor"`
	// Factors enables auxiliary factors by name; empty enables all.
	Factors []string `json:"factors"`
	// DisableFallback fails startup instead of serving the historical
	// predictor when no checkpoint is available.
	DisableFallback bool `json:"disable_fallback"`
	// Percentile selects the cells drawn by the heatmap.
	Percentile float64 `json:"percentile"`
}

func (c *InferenceConfig) SetDefaults() {
	if c.Threshold == 0 {
		c.Threshold = 0.6
	}
	if c.Cutoff == "" {
		c.Cutoff = string(inference.CutoffHard)
	}
	if c.SoftFactor == 0 {
		c.SoftFactor = inference.DefaultSoftFactor
	}
	if c.Percentile == 0 {
		c.Percentile = 0.85
	}
}

func (c InferenceConfig) Validate() error {
	if !inference.ValidThreshold(c.Threshold) {
		return fmt.Errorf("threshold must be within [0,1], got %v", c.Threshold)
	}
	if c.SoftFactor < 0 || c.SoftFactor > 1 {
		return fmt.Errorf("soft_factor must be within [0,1], got %v", c.SoftFactor)
	}
	if c.Percentile <= 0 || c.Percentile >= 1 {
		return fmt.Errorf("percentile must be within (0,1), got %v", c.Percentile)
	}
	_, err := inference.ParseCutoff(c.Cutoff)
	return err
}

// Request converts the settings to a forecast request template.
func (c InferenceConfig) Request() inference.Request {
	cutoff, _ := inference.ParseCutoff(c.Cutoff)
	req := inference.Request{Threshold: c.Threshold, Cutoff: cutoff, SoftFactor: c.SoftFactor}
	if len(c.Factors) > 0 {
		req.Factors = c.Factors
	}
	return req
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `json:"addr"`
	// Token, when set, is required as a bearer token on every route except
	// health.
	Token               string `json:"token"`
	ReadTimeoutSeconds  int    `json:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ReadTimeoutSeconds == 0 {
		c.ReadTimeoutSeconds = 10
	}
	if c.WriteTimeoutSeconds == 0 {
		c.WriteTimeoutSeconds = 30
	}
}
