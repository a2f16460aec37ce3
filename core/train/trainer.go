// Package train fits the ConvLSTM on windowed occupancy data and evaluates
// predictors on held-out partitions.
package train

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/crimecast/core/logger"
	"github.com/kilianp07/crimecast/core/metrics"
	"github.com/kilianp07/crimecast/core/model"
	"github.com/kilianp07/crimecast/core/sequence"
	"github.com/kilianp07/crimecast/internal/eventbus"
)

// ErrNoFullBatch is returned when a partition is smaller than one batch.
var ErrNoFullBatch = errors.New("partition has no full batch")

// Config holds the optimisation settings.
type Config struct {
	Epochs       int     `json:"epochs" koanf:"epochs"`
	BatchSize    int     `json:"batch_size" koanf:"batch_size"`
	LearningRate float64 `json:"learning_rate" koanf:"learning_rate"`
	StepSize     int     `json:"step_size" koanf:"step_size"`
	Gamma        float64 `json:"gamma" koanf:"gamma"`
	PosWeight    float64 `json:"pos_weight" koanf:"pos_weight"`
	NegWeight    float64 `json:"neg_weight" koanf:"neg_weight"`
	Threshold    float64 `json:"threshold" koanf:"threshold"`
}

// SetDefaults fills zero fields.
func (c *Config) SetDefaults() {
	if c.Epochs == 0 {
		c.Epochs = 5
	}
	if c.BatchSize == 0 {
		c.BatchSize = 16
	}
	if c.LearningRate == 0 {
		c.LearningRate = 3e-5
	}
	if c.StepSize == 0 {
		c.StepSize = 3
	}
	if c.Gamma == 0 {
		c.Gamma = 0.5
	}
	if c.PosWeight == 0 {
		c.PosWeight = 20
	}
	if c.NegWeight == 0 {
		c.NegWeight = 1
	}
	if c.Threshold == 0 {
		c.Threshold = 0.6
	}
}

// Validate checks the settings are usable.
func (c Config) Validate() error {
	if c.Epochs < 1 || c.BatchSize < 1 {
		return fmt.Errorf("epochs (%d) and batch_size (%d) must be positive", c.Epochs, c.BatchSize)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be positive, got %v", c.LearningRate)
	}
	if c.Threshold <= 0 || c.Threshold >= 1 {
		return fmt.Errorf("threshold must be in (0,1), got %v", c.Threshold)
	}
	return nil
}

// Loss returns the configured weighted loss.
func (c Config) Loss() WeightedBCE { return WeightedBCE{Pos: c.PosWeight, Neg: c.NegWeight} }

// EpochResult summarises one epoch.
type EpochResult struct {
	Epoch        int
	TrainLoss    float64
	ValLoss      float64
	Val          Scores
	LearningRate float64
	Duration     time.Duration
}

// Result is the outcome of Fit. BestParams is a deep copy of the parameters
// at the lowest validation loss epoch.
type Result struct {
	RunID      string
	Best       EpochResult
	BestParams *model.Params
	History    []EpochResult
}

// Trainer runs synchronous mini-batch training.
type Trainer struct {
	Model *model.Model
	Cfg   Config
	RunID string
	Bus   eventbus.EventBus
	Log   logger.Logger
}

// Fit trains for the configured epochs. Trailing partial batches are
// skipped. Cancellation is checked between epochs only; on cancellation the
// result so far is returned together with the context error.
func (t *Trainer) Fit(ctx context.Context, train, val *sequence.Dataset) (*Result, error) {
	log := logger.OrNop(t.Log)
	bs := t.Cfg.BatchSize
	if train.Len() < bs {
		return nil, fmt.Errorf("train: %w (%d samples, batch %d)", ErrNoFullBatch, train.Len(), bs)
	}
	if val.Len() < bs {
		return nil, fmt.Errorf("val: %w (%d samples, batch %d)", ErrNoFullBatch, val.Len(), bs)
	}

	lossFn := t.Cfg.Loss()
	opt := NewAdam(t.Cfg.LearningRate)
	sched := StepLR{Base: t.Cfg.LearningRate, StepSize: t.Cfg.StepSize, Gamma: t.Cfg.Gamma}
	grads := model.NewGradients(t.Model.Cfg)
	dOut := make([]float64, t.Model.Cfg.FrameShape().Size())
	res := &Result{RunID: t.RunID}

	for epoch := 0; epoch < t.Cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			log.Warnf("training cancelled before epoch %d", epoch+1)
			return res, err
		}
		began := time.Now()
		opt.LR = sched.Rate(epoch)

		batches := train.Len() / bs
		trainLoss := 0.0
		for b := 0; b < batches; b++ {
			grads.Zero()
			batchLoss := 0.0
			for i := b * bs; i < (b+1)*bs; i++ {
				out, tr, err := t.Model.ForwardTrace(train.Sample(i))
				if err != nil {
					return nil, err
				}
				y := train.Label(i).Data
				batchLoss += lossFn.Loss(out.Data, y)
				lossFn.Grad(out.Data, y, dOut)
				if err := t.Model.Backward(tr, dOut, grads); err != nil {
					return nil, err
				}
			}
			grads.Scale(1 / float64(bs))
			opt.Step(t.Model.P, grads)
			trainLoss += batchLoss / float64(bs)
		}
		trainLoss /= float64(batches)

		vp, err := pass(t.Model, val, bs, lossFn)
		if err != nil {
			return nil, err
		}
		er := EpochResult{
			Epoch:        epoch + 1,
			TrainLoss:    trainLoss,
			ValLoss:      vp.loss,
			Val:          Score(vp.probs, vp.labels, t.Cfg.Threshold),
			LearningRate: opt.LR,
			Duration:     time.Since(began),
		}
		res.History = append(res.History, er)
		best := res.BestParams == nil || er.ValLoss < res.Best.ValLoss
		if best {
			res.Best = er
			res.BestParams = t.Model.P.Clone()
		}

		log.Infow("epoch complete", map[string]any{
			"run_id":     t.RunID,
			"epoch":      er.Epoch,
			"train_loss": er.TrainLoss,
			"val_loss":   er.ValLoss,
			"precision":  er.Val.Precision,
			"recall":     er.Val.Recall,
			"f1":         er.Val.F1,
			"lr":         er.LearningRate,
			"best":       best,
		})
		if t.Bus != nil {
			t.Bus.Publish(metrics.EpochEvent{
				RunID:        t.RunID,
				Epoch:        er.Epoch,
				TrainLoss:    er.TrainLoss,
				ValLoss:      er.ValLoss,
				Precision:    er.Val.Precision,
				Recall:       er.Val.Recall,
				F1:           er.Val.F1,
				LearningRate: er.LearningRate,
				Best:         best,
				Duration:     er.Duration,
				Time:         time.Now(),
			})
		}
	}
	return res, nil
}

type passResult struct {
	loss   float64
	probs  []float64
	labels []uint8
}

// pass predicts every full batch of ds without touching gradients.
func pass(p model.Predictor, ds *sequence.Dataset, bs int, lossFn WeightedBCE) (passResult, error) {
	n := (ds.Len() / bs) * bs
	if n == 0 {
		return passResult{}, ErrNoFullBatch
	}
	frame := ds.FrameShape().Size()
	res := passResult{probs: make([]float64, 0, n*frame), labels: make([]uint8, 0, n*frame)}
	for i := 0; i < n; i++ {
		out, err := p.Predict(ds.Sample(i))
		if err != nil {
			return passResult{}, err
		}
		y := ds.Label(i).Data
		res.loss += lossFn.Loss(out.Data, y)
		res.probs = append(res.probs, out.Data...)
		res.labels = append(res.labels, y...)
	}
	res.loss /= float64(n)
	return res, nil
}
