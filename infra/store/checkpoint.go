package store

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/kilianp07/crimecast/core/artifact"
	"github.com/kilianp07/crimecast/core/checkpoint"
)

// CheckpointStore keeps one checkpoint as a zstd-compressed CBOR file.
type CheckpointStore struct {
	Path string
}

var _ checkpoint.Store = (*CheckpointStore)(nil)

// NewCheckpointStore returns a store backed by path.
func NewCheckpointStore(path string) *CheckpointStore {
	return &CheckpointStore{Path: path}
}

// Load returns checkpoint.ErrNotFound, wrapped together with a
// MissingArtifactError, when no file exists.
func (s *CheckpointStore) Load(ctx context.Context) (*checkpoint.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var c checkpoint.Checkpoint
	if err := decodeZstd(s.Path, "checkpoint", &c); err != nil {
		var missing *artifact.MissingArtifactError
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("%w: %w", checkpoint.ErrNotFound, err)
		}
		return nil, err
	}
	if c.Params == nil {
		return nil, fmt.Errorf("checkpoint %s has no parameters", s.Path)
	}
	if err := c.Config.Validate(); err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", s.Path, err)
	}
	return &c, nil
}

// Save atomically replaces the stored checkpoint.
func (s *CheckpointStore) Save(ctx context.Context, c *checkpoint.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return artifact.WriteAtomic(s.Path, func(w io.Writer) error {
		return encodeZstd(w, c)
	})
}
