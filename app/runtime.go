// Package app wires configuration, stores, sinks and the forecasting core
// into the operations exposed by the CLI and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/kilianp07/crimecast/config"
	"github.com/kilianp07/crimecast/core/grid"
	coremetrics "github.com/kilianp07/crimecast/core/metrics"
	"github.com/kilianp07/crimecast/infra/logger"
	"github.com/kilianp07/crimecast/infra/metrics"
	"github.com/kilianp07/crimecast/infra/store"
	"github.com/kilianp07/crimecast/internal/eventbus"
)

// Tier names the predictor serving forecasts.
type Tier string

const (
	// TierModel serves the trained checkpoint.
	TierModel Tier = "model"
	// TierHistorical serves per-cell frequencies over the input window.
	TierHistorical Tier = "historical"
)

// Status reports the active tier and, when degraded, why.
type Status struct {
	Tier   Tier      `json:"tier"`
	Reason string    `json:"reason,omitempty"`
	Since  time.Time `json:"since"`
}

// busBuffer holds a full training run's epoch events for a slow sink.
const busBuffer = 64

// Runtime owns the process-wide objects every operation shares: the parsed
// configuration, the grid, the event bus and the metrics sink. It replaces
// package level state; tests build one per case.
type Runtime struct {
	Cfg  *config.Config
	Grid *grid.Index
	Bus  *eventbus.Bus
	Sink coremetrics.MetricsSink
	Log  logger.Logger

	mu       sync.RWMutex
	status   Status
	statuses *eventbus.TypedBus[Status]

	stop      context.CancelFunc
	collected <-chan struct{}
	logFile   io.Closer
}

// New builds a Runtime from cfg and starts forwarding bus events to the
// configured metrics sinks.
func New(cfg *config.Config) (*Runtime, error) {
	if !logger.SetLevel(cfg.Logging.Level) {
		return nil, fmt.Errorf("unknown log level %q", cfg.Logging.Level)
	}
	g, err := grid.New(cfg.Grid.Bounds, cfg.Grid.Rows, cfg.Grid.Cols)
	if err != nil {
		return nil, fmt.Errorf("grid: %w", err)
	}
	var logFile io.Closer
	if lc := cfg.Logging; lc.File != "" {
		logFile, err = logger.AddFile(logger.FileOptions{
			Path:       lc.File,
			MaxSizeMB:  lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
			MaxAgeDays: lc.MaxAgeDays,
			Compress:   lc.Compress,
		})
		if err != nil {
			return nil, fmt.Errorf("log file: %w", err)
		}
	}
	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		if logFile != nil {
			_ = logFile.Close()
		}
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	r := newRuntime(cfg, g, sink, logger.New("app"))
	r.logFile = logFile
	return r, nil
}

func newRuntime(cfg *config.Config, g *grid.Index, sink coremetrics.MetricsSink, log logger.Logger) *Runtime {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runtime{
		Cfg:      cfg,
		Grid:     g,
		Bus:      eventbus.NewBuffered(busBuffer),
		Sink:     sink,
		Log:      log,
		status:   Status{Tier: TierModel, Since: time.Now()},
		statuses: eventbus.NewTyped[Status](),
		stop:     cancel,
	}
	r.collected = metrics.StartEventCollector(ctx, r.Bus, sink)
	return r
}

// Status returns the active predictor tier.
func (r *Runtime) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Tier returns the active tier name.
func (r *Runtime) Tier() string { return string(r.Status().Tier) }

// StatusUpdates subscribes to tier changes.
func (r *Runtime) StatusUpdates() <-chan Status { return r.statuses.Subscribe() }

func (r *Runtime) setStatus(tier Tier, reason string) {
	r.mu.Lock()
	changed := r.status.Tier != tier || r.status.Reason != reason
	if changed {
		r.status = Status{Tier: tier, Reason: reason, Since: time.Now()}
	}
	st := r.status
	r.mu.Unlock()
	if !changed {
		return
	}
	if tier == TierModel {
		r.Log.Infof("predictor tier %s", tier)
	} else {
		r.Log.Warnf("predictor tier %s: %s", tier, reason)
	}
	r.statuses.Publish(st)
}

func (r *Runtime) arrays() store.ArrayStore {
	return store.ArrayStore{Dir: r.Cfg.Dataset.Dir, ID: r.Cfg.Dataset.ID}
}

func (r *Runtime) checkpoints() *store.CheckpointStore {
	return store.NewCheckpointStore(r.Cfg.Dataset.CheckpointPath())
}

// Close flushes pending metric events, then closes the sinks and the log
// file.
func (r *Runtime) Close() error {
	r.stop()
	<-r.collected
	r.Bus.Close()
	r.statuses.Close()
	if n := r.Bus.Dropped(); n > 0 {
		r.Log.Warnf("%d pipeline events were not delivered to the metrics sinks", n)
	}
	var errs []error
	switch c := r.Sink.(type) {
	case interface{ Close() error }:
		errs = append(errs, c.Close())
	case interface{ Close() }:
		c.Close()
	}
	if r.logFile != nil {
		errs = append(errs, r.logFile.Close())
	}
	return errors.Join(errs...)
}
