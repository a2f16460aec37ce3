package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/crimecast/core/artifact"
	"github.com/kilianp07/crimecast/core/checkpoint"
	"github.com/kilianp07/crimecast/core/incident"
	coremetrics "github.com/kilianp07/crimecast/core/metrics"
	"github.com/kilianp07/crimecast/core/model"
	"github.com/kilianp07/crimecast/core/occupancy"
	"github.com/kilianp07/crimecast/core/sequence"
	"github.com/kilianp07/crimecast/core/tensor"
	"github.com/kilianp07/crimecast/core/train"
	"github.com/kilianp07/crimecast/infra/logger"
	"github.com/kilianp07/crimecast/infra/render"
	"github.com/kilianp07/crimecast/infra/store"
)

// PreprocessResult describes the artifacts available after Preprocess.
type PreprocessResult struct {
	Table  *occupancy.Table
	Report incident.Report
	// Aggregated is set when the occupancy table was rebuilt from the source.
	Aggregated bool
	// Windowed is set when the sequence archives were rewritten.
	Windowed bool
	Samples  int
}

// Preprocess aggregates the source CSV into the occupancy store and windows
// it into the sequence archives. Fresh artifacts are reused unless force is
// set.
func (r *Runtime) Preprocess(ctx context.Context, force bool) (*PreprocessResult, error) {
	ds := r.Cfg.Dataset
	policy := artifact.PolicyFor(force)
	occPath := ds.OccupancyPath()
	res := &PreprocessResult{}

	tablePolicy := policy
	if err := artifact.Require("source", ds.Source); err != nil {
		if _, statErr := os.Stat(occPath); force || statErr != nil {
			return nil, err
		}
		r.Log.Warnf("source %s missing, reusing %s", ds.Source, occPath)
		tablePolicy = staleNever{}
	}
	built, err := artifact.BuildFile(tablePolicy, occPath, []string{ds.Source}, func(tmp string) error {
		tbl, rep, err := r.aggregate(ds.Source)
		if err != nil {
			return err
		}
		st, err := store.OpenOccupancyStore(tmp)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
		if err := st.Save(ctx, tbl, rep); err != nil {
			return err
		}
		res.Table, res.Report = tbl, rep
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("occupancy: %w", err)
	}
	res.Aggregated = built
	if built {
		r.Bus.Publish(coremetrics.IngestEvent{
			Source:  ds.Source,
			Records: res.Report.Total,
			Kept:    res.Report.Kept,
			Dropped: res.Report.Dropped,
			Days:    res.Table.Days(),
			Time:    time.Now(),
		})
	} else {
		r.Log.Infof("occupancy table %s is fresh", occPath)
		if res.Table, res.Report, err = r.LoadTable(ctx); err != nil {
			return nil, err
		}
	}

	arrays := r.arrays()
	feat, labels := arrays.DatasetPaths()
	splitFeat, splitLabels := arrays.SplitPaths()
	stale := built
	for _, target := range []string{feat, labels, splitFeat, splitLabels} {
		if stale {
			break
		}
		if stale, err = policy.Stale(target, occPath); err != nil {
			return nil, err
		}
	}
	if !stale {
		r.Log.Infof("sequence archives in %s are fresh", ds.Dir)
		res.Samples = sequence.Samples(res.Table.Days(), ds.SequenceLength)
		return res, nil
	}

	windows, err := sequence.Build(res.Table, ds.SequenceLength)
	if err != nil {
		return nil, err
	}
	if err := arrays.SaveDataset(windows); err != nil {
		return nil, err
	}
	splits := windows.Split()
	if err := arrays.SaveSplits(splits); err != nil {
		return nil, err
	}
	res.Windowed, res.Samples = true, windows.Len()
	r.Log.Infow("sequence archives written", map[string]any{
		"samples": windows.Len(),
		"train":   splits.Train.Len(),
		"val":     splits.Val.Len(),
		"test":    splits.Test.Len(),
		"length":  ds.SequenceLength,
	})
	return res, nil
}

// staleNever keeps an existing table whose source has disappeared.
type staleNever struct{}

func (staleNever) Stale(string, ...string) (bool, error) { return false, nil }

func (r *Runtime) aggregate(source string) (*occupancy.Table, incident.Report, error) {
	f, err := os.Open(source)
	if err != nil {
		return nil, incident.Report{}, err
	}
	defer func() { _ = f.Close() }()
	recs, readRep, err := incident.ReadCSV(f, r.Cfg.Schema)
	if err != nil {
		return nil, incident.Report{}, fmt.Errorf("read %s: %w", source, err)
	}
	agg := occupancy.Aggregator{Grid: r.Grid, Channels: r.Cfg.Dataset.Channels, Log: logger.New("aggregator")}
	tbl, aggRep := agg.Aggregate(recs)
	rep := readRep.Merge(aggRep)
	if rep.DroppedTotal() > 0 {
		r.Log.Warnf("ingestion dropped %d of %d records: %s", rep.DroppedTotal(), rep.Total, rep)
	}
	return tbl, rep, nil
}

// LoadTable reads the persisted occupancy table and checks it was built for
// the configured grid.
func (r *Runtime) LoadTable(ctx context.Context) (*occupancy.Table, incident.Report, error) {
	st, err := store.OpenExistingOccupancyStore(r.Cfg.Dataset.OccupancyPath())
	if err != nil {
		return nil, incident.Report{}, err
	}
	defer func() { _ = st.Close() }()
	tbl, rep, err := st.Load(ctx)
	if err != nil {
		return nil, incident.Report{}, err
	}
	if err := tensor.Expect("occupancy grid", tensor.Shape{r.Grid.Rows(), r.Grid.Cols()}, tensor.Shape{tbl.Rows, tbl.Cols}); err != nil {
		return nil, incident.Report{}, err
	}
	return tbl, rep, nil
}

// TrainOptions tunes a training run.
type TrainOptions struct {
	// Force replaces the stored checkpoint even when it has a lower
	// validation loss.
	Force bool
	// Plot, when set, receives the loss curve image.
	Plot string
}

// TrainReport is the outcome of Train.
type TrainReport struct {
	Result *train.Result
	// Saved is set when the run replaced the stored checkpoint.
	Saved bool
}

// Train fits a fresh model on the persisted train/val partitions and keeps
// its best epoch if it improves on the stored checkpoint. On cancellation
// the best completed epoch is still offered to the store.
func (r *Runtime) Train(ctx context.Context, opts TrainOptions) (*TrainReport, error) {
	splits, err := r.arrays().LoadSplits()
	if err != nil {
		return nil, err
	}
	mc := r.Cfg.Model
	if err := splits.Train.CheckShape(r.Cfg.Dataset.SequenceLength, mc.InputChannels, mc.Rows, mc.Cols); err != nil {
		return nil, err
	}
	m, err := model.New(mc)
	if err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	r.Log.Infow("training started", map[string]any{
		"run_id":     runID,
		"train":      splits.Train.Len(),
		"val":        splits.Val.Len(),
		"parameters": m.P.Count(),
	})
	trainer := &train.Trainer{Model: m, Cfg: r.Cfg.Training, RunID: runID, Bus: r.Bus, Log: logger.New("trainer")}
	res, fitErr := trainer.Fit(ctx, splits.Train, splits.Val)
	if res == nil || res.BestParams == nil {
		if fitErr == nil {
			fitErr = errors.New("training produced no epoch")
		}
		return nil, fitErr
	}

	ck := &checkpoint.Checkpoint{
		RunID:     runID,
		CreatedAt: time.Now().UTC(),
		Config:    mc,
		Epoch:     res.Best.Epoch,
		ValLoss:   res.Best.ValLoss,
		Params:    res.BestParams,
	}
	saved, err := checkpoint.SaveIfBetter(context.WithoutCancel(ctx), r.checkpoints(), ck, opts.Force)
	if err != nil {
		return nil, err
	}
	if saved {
		r.Log.Infof("checkpoint %s saved from epoch %d (val loss %.6f)", r.checkpoints().Path, ck.Epoch, ck.ValLoss)
	} else {
		r.Log.Infof("stored checkpoint kept; run %s val loss %.6f is not better", runID, ck.ValLoss)
	}
	if opts.Plot != "" {
		if err := render.LossCurve(opts.Plot, res); err != nil {
			return nil, fmt.Errorf("loss curve: %w", err)
		}
	}
	return &TrainReport{Result: res, Saved: saved}, fitErr
}

// Evaluate scores the stored checkpoint on the test partition.
func (r *Runtime) Evaluate(ctx context.Context) (*train.Evaluation, error) {
	splits, err := r.arrays().LoadSplits()
	if err != nil {
		return nil, err
	}
	ck, err := r.checkpoints().Load(ctx)
	if err != nil {
		return nil, err
	}
	m, err := ck.Model()
	if err != nil {
		return nil, err
	}
	ev := train.Evaluator{Cfg: r.Cfg.Training, RunID: ck.RunID, Bus: r.Bus, Log: logger.New("evaluator")}
	return ev.Evaluate(ctx, m, splits.Test)
}
