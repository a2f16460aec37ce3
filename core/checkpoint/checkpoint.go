// Package checkpoint defines the persisted best-epoch model snapshot and the
// policy for replacing it.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/crimecast/core/model"
)

// ErrNotFound is returned by stores when no checkpoint exists yet.
var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint is the parameter snapshot of the best validation epoch of a run.
type Checkpoint struct {
	RunID     string        `cbor:"run_id"`
	CreatedAt time.Time     `cbor:"created_at"`
	Config    model.Config  `cbor:"config"`
	Epoch     int           `cbor:"epoch"`
	ValLoss   float64       `cbor:"val_loss"`
	Params    *model.Params `cbor:"params"`
}

// Model instantiates a read-only model from the snapshot.
func (c *Checkpoint) Model() (*model.Model, error) {
	return model.WithParams(c.Config, c.Params)
}

// Store persists a single checkpoint.
type Store interface {
	Load(ctx context.Context) (*Checkpoint, error)
	Save(ctx context.Context, c *Checkpoint) error
}

// SaveIfBetter writes c unless the stored checkpoint has a lower or equal
// validation loss. force always writes. It reports whether c was written.
func SaveIfBetter(ctx context.Context, s Store, c *Checkpoint, force bool) (bool, error) {
	if !force {
		prev, err := s.Load(ctx)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return false, fmt.Errorf("load previous checkpoint: %w", err)
		case prev.ValLoss <= c.ValLoss:
			return false, nil
		}
	}
	if err := s.Save(ctx, c); err != nil {
		return false, fmt.Errorf("save checkpoint: %w", err)
	}
	return true, nil
}
