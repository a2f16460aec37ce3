package train

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/crimecast/core/logger"
	"github.com/kilianp07/crimecast/core/metrics"
	"github.com/kilianp07/crimecast/core/model"
	"github.com/kilianp07/crimecast/core/sequence"
	"github.com/kilianp07/crimecast/internal/eventbus"
)

// Evaluation holds test metrics at the configured threshold and the sweep.
type Evaluation struct {
	Samples int
	Loss    float64
	Scores  Scores
	Sweep   SweepResult
}

// Evaluator scores a predictor on a held-out partition.
type Evaluator struct {
	Cfg        Config
	Thresholds []float64
	RunID      string
	Bus        eventbus.EventBus
	Log        logger.Logger
}

// Evaluate runs a no-gradient pass over the full batches of test.
func (e Evaluator) Evaluate(ctx context.Context, p model.Predictor, test *sequence.Dataset) (*Evaluation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := pass(p, test, e.Cfg.BatchSize, e.Cfg.Loss())
	if err != nil {
		return nil, fmt.Errorf("test: %w", err)
	}
	thresholds := e.Thresholds
	if len(thresholds) == 0 {
		thresholds = DefaultThresholds()
	}
	ev := &Evaluation{
		Samples: (test.Len() / e.Cfg.BatchSize) * e.Cfg.BatchSize,
		Loss:    res.loss,
		Scores:  Score(res.probs, res.labels, e.Cfg.Threshold),
		Sweep:   Sweep(res.probs, res.labels, thresholds),
	}

	logger.OrNop(e.Log).Infow("evaluation complete", map[string]any{
		"samples":        ev.Samples,
		"loss":           ev.Loss,
		"precision":      ev.Scores.Precision,
		"recall":         ev.Scores.Recall,
		"f1":             ev.Scores.F1,
		"best_threshold": ev.Sweep.Best.Threshold,
		"best_f1":        ev.Sweep.Best.F1,
	})
	if e.Bus != nil {
		e.Bus.Publish(metrics.EvaluationEvent{
			RunID:         e.RunID,
			Samples:       ev.Samples,
			Loss:          ev.Loss,
			Precision:     ev.Scores.Precision,
			Recall:        ev.Scores.Recall,
			F1:            ev.Scores.F1,
			BestThreshold: ev.Sweep.Best.Threshold,
			BestF1:        ev.Sweep.Best.F1,
			Time:          time.Now(),
		})
	}
	return ev, nil
}
