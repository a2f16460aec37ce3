package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/crimecast/core/artifact"
	"github.com/kilianp07/crimecast/core/checkpoint"
	"github.com/kilianp07/crimecast/core/grid"
	"github.com/kilianp07/crimecast/core/incident"
	"github.com/kilianp07/crimecast/core/model"
	"github.com/kilianp07/crimecast/core/occupancy"
	"github.com/kilianp07/crimecast/core/sequence"
)

func sampleTable() *occupancy.Table {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t := occupancy.NewTable(start, 20, []string{"theft", "assault"}, 3, 4)
	counts := t.Counts()
	for i := range counts {
		if i%7 == 0 || i%11 == 3 {
			counts[i] = int32(i%5 + 1)
		}
	}
	return t
}

func TestOccupancyStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "table.db")
	s, err := OpenOccupancyStore(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	v, dirty, err := s.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
	assert.False(t, dirty)

	tbl := sampleTable()
	rep := incident.Report{Total: 120, Kept: 100, Dropped: map[string]int{
		incident.DropOutOfBounds: 15,
		incident.DropBadDate:     5,
	}}
	require.NoError(t, s.Save(ctx, tbl, rep))

	got, gotRep, err := s.Load(ctx)
	require.NoError(t, err)
	assert.True(t, tbl.Equal(got))
	assert.True(t, tbl.Start.Equal(got.Start))
	assert.Equal(t, tbl.Channels, got.Channels)
	if diff := cmp.Diff(rep, gotRep); diff != "" {
		t.Fatalf("report mismatch (-want +got):\n%s", diff)
	}

	// a second save replaces the first
	small := occupancy.NewTable(tbl.Start, 3, []string{occupancy.DefaultChannel}, 2, 2)
	small.Counts()[5] = 9
	require.NoError(t, s.Save(ctx, small, incident.Report{Total: 1, Kept: 1}))
	got, gotRep, err = s.Load(ctx)
	require.NoError(t, err)
	assert.True(t, small.Equal(got))
	assert.Empty(t, gotRep.Dropped)
	assert.Equal(t, int32(9), got.Count(1, 0, grid.Cell{Row: 1, Col: 2}))
}

func TestOccupancyStoreReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "table.db")
	s, err := OpenOccupancyStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, sampleTable(), incident.Report{}))
	require.NoError(t, s.Close())

	s, err = OpenExistingOccupancyStore(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	got, _, err := s.Load(ctx)
	require.NoError(t, err)
	assert.True(t, sampleTable().Equal(got))
}

func TestOccupancyStoreMissing(t *testing.T) {
	dir := t.TempDir()
	_, err := OpenExistingOccupancyStore(filepath.Join(dir, "nope.db"))
	var missing *artifact.MissingArtifactError
	require.ErrorAs(t, err, &missing)

	s, err := OpenOccupancyStore(filepath.Join(dir, "empty.db"))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	_, _, err = s.Load(context.Background())
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "occupancy table", missing.Kind)
}

func TestArrayStoreRoundTrip(t *testing.T) {
	ds, err := sequence.Build(sampleTable(), 5)
	require.NoError(t, err)
	require.Equal(t, 14, ds.Len())

	as := ArrayStore{Dir: t.TempDir(), ID: "city"}
	require.NoError(t, as.SaveDataset(ds))
	got, err := as.LoadDataset()
	require.NoError(t, err)
	assert.True(t, ds.X.Equal(got.X))
	assert.True(t, ds.Y.Equal(got.Y))
	assert.True(t, ds.Start.Equal(got.Start))
	assert.True(t, ds.LabelDate(3).Equal(got.LabelDate(3)))

	sp := ds.Split()
	require.NoError(t, as.SaveSplits(sp))
	gotSp, err := as.LoadSplits()
	require.NoError(t, err)
	for name, want := range sp.Named() {
		have := gotSp.Named()[name]
		assert.Truef(t, want.X.Equal(have.X), "%s features", name)
		assert.Truef(t, want.Y.Equal(have.Y), "%s labels", name)
		assert.Equalf(t, want.Offset, have.Offset, "%s offset", name)
	}
	assert.True(t, sp.Test.LabelDate(0).Equal(gotSp.Test.LabelDate(0)))

	f, l := as.SplitPaths()
	assert.Contains(t, filepath.Base(f), "city_trainvaltest_features")
	assert.Contains(t, filepath.Base(l), "city_trainvaltest_labels")
}

func TestArrayStoreMissingAndCorrupt(t *testing.T) {
	as := ArrayStore{Dir: t.TempDir(), ID: "x"}
	_, err := as.LoadDataset()
	var missing *artifact.MissingArtifactError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "features", missing.Kind)

	f, _ := as.DatasetPaths()
	require.NoError(t, os.WriteFile(f, []byte("not zstd"), 0o644))
	_, err = as.LoadDataset()
	require.Error(t, err)
	assert.False(t, errors.As(err, &missing))
}

func TestCheckpointStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewCheckpointStore(filepath.Join(t.TempDir(), "ckpt", "model.cbor.zst"))

	_, err := s.Load(ctx)
	require.ErrorIs(t, err, checkpoint.ErrNotFound)
	var missing *artifact.MissingArtifactError
	require.ErrorAs(t, err, &missing)

	cfg := model.Config{HiddenChannels: 4, Rows: 3, Cols: 4}
	cfg.SetDefaults()
	c := &checkpoint.Checkpoint{
		RunID:     "run-1",
		CreatedAt: time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.UTC),
		Config:    cfg,
		Epoch:     3,
		ValLoss:   0.4321,
		Params:    model.InitParams(cfg),
	}
	require.NoError(t, s.Save(ctx, c))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, c.RunID, got.RunID)
	assert.True(t, c.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, c.Config, got.Config)
	assert.Equal(t, c.Epoch, got.Epoch)
	assert.Equal(t, c.ValLoss, got.ValLoss)
	assert.True(t, c.Params.Equal(got.Params), "parameters are bit-identical")

	m, err := got.Model()
	require.NoError(t, err)
	assert.Equal(t, cfg, m.Cfg)
}

func TestCheckpointStoreWithSaveIfBetter(t *testing.T) {
	ctx := context.Background()
	s := NewCheckpointStore(filepath.Join(t.TempDir(), "model.cbor.zst"))
	cfg := model.Config{HiddenChannels: 2, Rows: 2, Cols: 2}
	cfg.SetDefaults()

	ok, err := checkpoint.SaveIfBetter(ctx, s, &checkpoint.Checkpoint{RunID: "a", Config: cfg, ValLoss: 0.3, Params: model.NewParams(cfg)}, false)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = checkpoint.SaveIfBetter(ctx, s, &checkpoint.Checkpoint{RunID: "b", Config: cfg, ValLoss: 0.5, Params: model.NewParams(cfg)}, false)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", got.RunID)
}
