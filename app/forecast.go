package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/kilianp07/crimecast/core/artifact"
	"github.com/kilianp07/crimecast/core/checkpoint"
	"github.com/kilianp07/crimecast/core/inference"
	"github.com/kilianp07/crimecast/core/location"
	"github.com/kilianp07/crimecast/core/model"
	"github.com/kilianp07/crimecast/core/query"
	"github.com/kilianp07/crimecast/core/seasonal"
	"github.com/kilianp07/crimecast/infra/logger"
	"github.com/kilianp07/crimecast/infra/mqtt"
	"github.com/kilianp07/crimecast/infra/render"
)

// Predictor loads the stored checkpoint. When it is missing or does not fit
// the configured grid, the historical predictor is returned instead and the
// runtime status records why, unless fallback is disabled.
func (r *Runtime) Predictor(ctx context.Context) (model.Predictor, error) {
	ck, err := r.checkpoints().Load(ctx)
	if err == nil {
		err = r.checkCheckpoint(ck)
	}
	if err == nil {
		m, merr := ck.Model()
		if merr == nil {
			r.setStatus(TierModel, "")
			r.Log.Infof("serving run %s (epoch %d, val loss %.6f)", ck.RunID, ck.Epoch, ck.ValLoss)
			return m, nil
		}
		err = merr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	if r.Cfg.Inference.DisableFallback {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	reason := err.Error()
	if errors.Is(err, checkpoint.ErrNotFound) {
		reason = "no trained checkpoint"
	}
	r.setStatus(TierHistorical, reason)
	return model.HistoricalPredictor{}, nil
}

func (r *Runtime) checkCheckpoint(ck *checkpoint.Checkpoint) error {
	want := r.Cfg.Model
	got := ck.Config
	if got.Rows != want.Rows || got.Cols != want.Cols || got.InputChannels != want.InputChannels {
		return fmt.Errorf("checkpoint %s was trained for %dx%d with %d channels, configured %dx%d with %d",
			ck.RunID, got.Rows, got.Cols, got.InputChannels, want.Rows, want.Cols, want.InputChannels)
	}
	return nil
}

// Query assembles the query service over the persisted artifacts.
func (r *Runtime) Query(ctx context.Context) (*query.Service, error) {
	tbl, rep, err := r.LoadTable(ctx)
	if err != nil {
		return nil, err
	}
	ds, err := r.arrays().LoadDataset()
	if err != nil {
		return nil, err
	}
	p, err := r.Predictor(ctx)
	if err != nil {
		return nil, err
	}
	start, err := r.Cfg.Dataset.Start()
	if err != nil {
		return nil, err
	}
	res, err := inference.NewResolver(r.Grid, tbl, ds, p, start)
	if err != nil {
		return nil, err
	}
	if prof, err := seasonal.Fit(tbl); err != nil {
		r.Log.Warnf("seasonal factors disabled: %v", err)
	} else {
		res.Factors = []inference.Factor{seasonal.WeekdayFactor{P: prof}, seasonal.MonthFactor{P: prof}}
	}
	if res.Samples() == 0 {
		r.Log.Warnf("%d observed days are too few for a %d day window; forecasts will fail", tbl.Days(), res.Length)
	}
	return &query.Service{
		Cities:    []string{r.Cfg.Grid.City},
		Resolver:  res,
		Gazetteer: location.New(r.Cfg.Locations),
		Defaults:  r.Cfg.Inference.Request(),
		Ingest:    rep,
		Tiers:     r,
		Bus:       r.Bus,
		Log:       logger.New("query"),
	}, nil
}

// Publisher connects to the configured broker. It reports an error when
// MQTT is disabled.
func (r *Runtime) Publisher() (mqtt.Publisher, error) {
	if !r.Cfg.MQTT.Enabled {
		return nil, errors.New("mqtt publishing is disabled in the configuration")
	}
	p, err := mqtt.NewPahoPublisher(r.Cfg.MQTT)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// PublishForecast sends a hotspot answer and the current tier.
func (r *Runtime) PublishForecast(ctx context.Context, p mqtt.Publisher, res query.HotspotsResult) error {
	if res.Forecast == nil {
		return errors.New("hotspot result carries no forecast")
	}
	if err := p.PublishForecast(ctx, mqtt.NewForecastMessage(res.ForecastID, res.Tier, res.Forecast)); err != nil {
		return fmt.Errorf("publish forecast %s: %w", res.ForecastID, err)
	}
	return r.PublishStatus(ctx, p, r.Status())
}

// PublishStatus sends st on the retained status topic.
func (r *Runtime) PublishStatus(ctx context.Context, p mqtt.Publisher, st Status) error {
	return p.PublishStatus(ctx, mqtt.StatusMessage{Tier: string(st.Tier), Reason: st.Reason, Timestamp: time.Now().UnixMilli()})
}

// ForwardStatus publishes every tier change until ctx ends.
func (r *Runtime) ForwardStatus(ctx context.Context, p mqtt.Publisher) {
	sub := r.StatusUpdates()
	defer r.statuses.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-sub:
			if !ok {
				return
			}
			if err := r.PublishStatus(ctx, p, st); err != nil {
				r.Log.Errorf("publish status: %v", err)
			}
		}
	}
}

// HeatmapOptions returns the configured heatmap settings.
func (r *Runtime) HeatmapOptions() render.HeatmapOptions {
	return render.HeatmapOptions{
		Title:      r.Cfg.Grid.City + " crime hotspots",
		Percentile: r.Cfg.Inference.Percentile,
	}
}

// Render forecasts date and writes the heatmap page to out atomically.
func (r *Runtime) Render(ctx context.Context, svc *query.Service, date time.Time, out string) (query.HotspotsResult, error) {
	res, err := svc.GetHotspots(ctx, "", r.Cfg.Inference.Threshold, date)
	if err != nil {
		return query.HotspotsResult{}, err
	}
	err = artifact.WriteAtomic(out, func(w io.Writer) error {
		return render.Heatmap(w, res.Forecast, r.Grid, r.HeatmapOptions())
	})
	return res, err
}
