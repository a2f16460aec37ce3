package store

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/kilianp07/crimecast/core/artifact"
	"github.com/kilianp07/crimecast/core/sequence"
	"github.com/kilianp07/crimecast/core/tensor"
)

const (
	featuresSuffix      = "_features"
	labelsSuffix        = "_labels"
	splitFeaturesSuffix = "_trainvaltest_features"
	splitLabelsSuffix   = "_trainvaltest_labels"
	datasetKey          = "data"
)

// encMode writes timestamps with nanosecond precision so they round-trip
// unchanged.
var encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

type array struct {
	Shape []int  `cbor:"shape"`
	Data  []byte `cbor:"data"`
}

// archive is one file of named arrays. Offsets holds the source-table day
// offset of every array.
type archive struct {
	Start   time.Time        `cbor:"start"`
	Arrays  map[string]array `cbor:"arrays"`
	Offsets map[string]int   `cbor:"offsets"`
}

// ArrayStore persists windowed feature and label arrays as zstd-compressed
// CBOR archives under Dir. Every file name is prefixed with ID.
type ArrayStore struct {
	Dir string
	ID  string
}

// DatasetPaths returns the feature and label archive paths of the full dataset.
func (s ArrayStore) DatasetPaths() (features, labels string) {
	return s.path(featuresSuffix), s.path(labelsSuffix)
}

// SplitPaths returns the feature and label archive paths of the partitions.
func (s ArrayStore) SplitPaths() (features, labels string) {
	return s.path(splitFeaturesSuffix), s.path(splitLabelsSuffix)
}

func (s ArrayStore) path(suffix string) string {
	return filepath.Join(s.Dir, s.ID+suffix+".cbor.zst")
}

// SaveDataset writes the full windowed dataset.
func (s ArrayStore) SaveDataset(ds *sequence.Dataset) error {
	f, l := s.DatasetPaths()
	sets := map[string]*sequence.Dataset{datasetKey: ds}
	if err := writeArchive(f, ds.Start, sets, features); err != nil {
		return err
	}
	return writeArchive(l, ds.Start, sets, labels)
}

// LoadDataset reads the full windowed dataset.
func (s ArrayStore) LoadDataset() (*sequence.Dataset, error) {
	f, l := s.DatasetPaths()
	sets, err := readPair(f, l, datasetKey)
	if err != nil {
		return nil, err
	}
	return sets[datasetKey], nil
}

// SaveSplits writes the train, validation and test partitions.
func (s ArrayStore) SaveSplits(sp sequence.Splits) error {
	f, l := s.SplitPaths()
	sets := sp.Named()
	start := sp.Train.Start
	if err := writeArchive(f, start, sets, features); err != nil {
		return err
	}
	return writeArchive(l, start, sets, labels)
}

// LoadSplits reads the partitions written by SaveSplits.
func (s ArrayStore) LoadSplits() (sequence.Splits, error) {
	f, l := s.SplitPaths()
	sets, err := readPair(f, l, sequence.Train, sequence.Val, sequence.Test)
	if err != nil {
		return sequence.Splits{}, err
	}
	return sequence.Splits{Train: sets[sequence.Train], Val: sets[sequence.Val], Test: sets[sequence.Test]}, nil
}

func features(d *sequence.Dataset) *tensor.Binary { return d.X }
func labels(d *sequence.Dataset) *tensor.Binary   { return d.Y }

func writeArchive(path string, start time.Time, sets map[string]*sequence.Dataset, pick func(*sequence.Dataset) *tensor.Binary) error {
	doc := archive{Start: start, Arrays: map[string]array{}, Offsets: map[string]int{}}
	for name, ds := range sets {
		t := pick(ds)
		doc.Arrays[name] = array{Shape: t.Shape, Data: t.Data}
		doc.Offsets[name] = ds.Offset
	}
	return artifact.WriteAtomic(path, func(w io.Writer) error {
		return encodeZstd(w, doc)
	})
}

func encodeZstd(w io.Writer, v any) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	if err := encMode.NewEncoder(zw).Encode(v); err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}

func decodeZstd(path, kind string, v any) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &artifact.MissingArtifactError{Kind: kind, Path: path}
	}
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	zr, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer zr.Close()
	if err := cbor.NewDecoder(zr).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func readPair(featPath, labelPath string, names ...string) (map[string]*sequence.Dataset, error) {
	var fa, la archive
	if err := decodeZstd(featPath, "features", &fa); err != nil {
		return nil, err
	}
	if err := decodeZstd(labelPath, "labels", &la); err != nil {
		return nil, err
	}
	out := make(map[string]*sequence.Dataset, len(names))
	for _, name := range names {
		x, ok := fa.Arrays[name]
		if !ok {
			return nil, fmt.Errorf("%s: no %q array", featPath, name)
		}
		y, ok := la.Arrays[name]
		if !ok {
			return nil, fmt.Errorf("%s: no %q array", labelPath, name)
		}
		ds := &sequence.Dataset{
			X:      &tensor.Binary{Shape: tensor.Shape(x.Shape), Data: x.Data},
			Y:      &tensor.Binary{Shape: tensor.Shape(y.Shape), Data: y.Data},
			Offset: fa.Offsets[name],
			Start:  fa.Start,
		}
		if err := checkArray("features", ds.X); err != nil {
			return nil, err
		}
		if err := checkArray("labels", ds.Y); err != nil {
			return nil, err
		}
		if ds.X.Len() != ds.Y.Len() {
			return nil, fmt.Errorf("%s: %d feature windows but %d labels", name, ds.X.Len(), ds.Y.Len())
		}
		out[name] = ds
	}
	return out, nil
}

func checkArray(what string, b *tensor.Binary) error {
	if len(b.Shape) == 0 || b.Shape.Size() != len(b.Data) {
		return fmt.Errorf("%s: shape %s does not describe %d values", what, b.Shape, len(b.Data))
	}
	return nil
}
