package checkpoint

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/crimecast/core/model"
)

type memStore struct {
	ckpt  *Checkpoint
	saves int
	err   error
}

func (m *memStore) Load(context.Context) (*Checkpoint, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.ckpt == nil {
		return nil, ErrNotFound
	}
	return m.ckpt, nil
}

func (m *memStore) Save(_ context.Context, c *Checkpoint) error {
	m.saves++
	m.ckpt = c
	return nil
}

func TestSaveIfBetter(t *testing.T) {
	ctx := context.Background()
	s := &memStore{}

	ok, err := SaveIfBetter(ctx, s, &Checkpoint{RunID: "a", ValLoss: 0.5}, false)
	require.NoError(t, err)
	assert.True(t, ok, "first checkpoint is always written")

	ok, err = SaveIfBetter(ctx, s, &Checkpoint{RunID: "b", ValLoss: 0.7}, false)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "a", s.ckpt.RunID)

	ok, err = SaveIfBetter(ctx, s, &Checkpoint{RunID: "c", ValLoss: 0.4}, false)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = SaveIfBetter(ctx, s, &Checkpoint{RunID: "d", ValLoss: 0.9}, true)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "d", s.ckpt.RunID)
	assert.Equal(t, 3, s.saves)
}

func TestSaveIfBetterPropagatesLoadErrors(t *testing.T) {
	s := &memStore{err: errors.New("disk")}
	_, err := SaveIfBetter(context.Background(), s, &Checkpoint{}, false)
	assert.Error(t, err)
	assert.Equal(t, 0, s.saves)
}

func TestCheckpointModel(t *testing.T) {
	cfg := model.Config{InputChannels: 1, HiddenChannels: 2, KernelSize: 3, Rows: 2, Cols: 2}
	c := &Checkpoint{Config: cfg, Params: model.InitParams(cfg)}
	m, err := c.Model()
	require.NoError(t, err)
	assert.True(t, m.P.Equal(c.Params))
}
