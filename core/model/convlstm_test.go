package model

import (
	"math"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/crimecast/core/tensor"
)

func tinyConfig() Config {
	return Config{InputChannels: 1, HiddenChannels: 2, KernelSize: 3, Rows: 3, Cols: 4, Seed: 7}
}

func randomSample(cfg Config, steps int, seed uint64) *tensor.Binary {
	r := rand.New(rand.NewPCG(seed, 1))
	s := tensor.NewBinary(steps, cfg.InputChannels, cfg.Rows, cfg.Cols)
	for i := range s.Data {
		if r.Float64() < 0.4 {
			s.Data[i] = 1
		}
	}
	return s
}

func TestForwardProducesProbabilities(t *testing.T) {
	cfg := tinyConfig()
	m, err := New(cfg)
	require.NoError(t, err)
	out, err := m.Forward(randomSample(cfg, 4, 1))
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 3, 4}, out.Shape)
	for _, v := range out.Data {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}

func TestInitIsSeeded(t *testing.T) {
	cfg := tinyConfig()
	a, err := New(cfg)
	require.NoError(t, err)
	b, err := New(cfg)
	require.NoError(t, err)
	assert.True(t, a.P.Equal(b.P))

	cfg.Seed = 8
	c, err := New(cfg)
	require.NoError(t, err)
	assert.False(t, a.P.Equal(c.P))

	bound := 1 / math.Sqrt(float64((1+2)*9))
	for _, v := range a.P.Wg {
		assert.LessOrEqual(t, math.Abs(v), bound)
	}
}

func TestForwardHasNoCrossSampleState(t *testing.T) {
	cfg := tinyConfig()
	m, err := New(cfg)
	require.NoError(t, err)
	s1, s2 := randomSample(cfg, 3, 1), randomSample(cfg, 3, 2)
	first, err := m.Forward(s1)
	require.NoError(t, err)
	_, err = m.Forward(s2)
	require.NoError(t, err)
	again, err := m.Forward(s1)
	require.NoError(t, err)
	assert.Equal(t, first.Data, again.Data)
}

func TestConcurrentPredict(t *testing.T) {
	cfg := tinyConfig()
	m, err := New(cfg)
	require.NoError(t, err)
	s := randomSample(cfg, 3, 3)
	want, err := m.Predict(s)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := m.Predict(s)
			assert.NoError(t, err)
			assert.Equal(t, want.Data, got.Data)
		}()
	}
	wg.Wait()
}

func TestForwardRejectsWrongFrame(t *testing.T) {
	m, err := New(tinyConfig())
	require.NoError(t, err)
	_, err = m.Forward(tensor.NewBinary(3, 1, 4, 4))
	var sm *tensor.ShapeMismatchError
	require.ErrorAs(t, err, &sm)
	_, err = m.Forward(tensor.NewBinary(1, 4, 4))
	require.ErrorAs(t, err, &sm)
}

func TestConfigValidate(t *testing.T) {
	cfg := tinyConfig()
	cfg.KernelSize = 4
	assert.Error(t, cfg.Validate())
	cfg = Config{Rows: 5, Cols: 5}
	cfg.SetDefaults()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 64, cfg.HiddenChannels)
	assert.Equal(t, 3, cfg.KernelSize)
}

// weightedSum is a loss whose gradient with respect to the output is w.
func weightedSum(out, w []float64) float64 {
	s := 0.0
	for i := range out {
		s += out[i] * w[i]
	}
	return s
}

func TestBackwardMatchesFiniteDifferences(t *testing.T) {
	cfg := tinyConfig()
	m, err := New(cfg)
	require.NoError(t, err)
	sample := randomSample(cfg, 3, 11)

	r := rand.New(rand.NewPCG(5, 5))
	w := make([]float64, cfg.InputChannels*cfg.Rows*cfg.Cols)
	for i := range w {
		w[i] = r.Float64()*2 - 1
	}

	_, tr, err := m.ForwardTrace(sample)
	require.NoError(t, err)
	g := NewGradients(cfg)
	require.NoError(t, m.Backward(tr, w, g))

	const eps = 1e-6
	loss := func() float64 {
		out, err := m.Forward(sample)
		require.NoError(t, err)
		return weightedSum(out.Data, w)
	}
	params := m.P.Tensors()
	grads := g.Tensors()
	for ti, pt := range params {
		for _, idx := range []int{0, len(pt) / 2, len(pt) - 1} {
			orig := pt[idx]
			pt[idx] = orig + eps
			up := loss()
			pt[idx] = orig - eps
			down := loss()
			pt[idx] = orig
			numeric := (up - down) / (2 * eps)
			assert.InDelta(t, numeric, grads[ti][idx], 1e-6, "tensor %d index %d", ti, idx)
		}
	}
}

func TestGradientsAccumulateAndScale(t *testing.T) {
	cfg := tinyConfig()
	m, err := New(cfg)
	require.NoError(t, err)
	s := randomSample(cfg, 2, 4)
	w := make([]float64, 12)
	for i := range w {
		w[i] = 1
	}
	_, tr, err := m.ForwardTrace(s)
	require.NoError(t, err)

	once := NewGradients(cfg)
	require.NoError(t, m.Backward(tr, w, once))
	twice := NewGradients(cfg)
	require.NoError(t, m.Backward(tr, w, twice))
	require.NoError(t, m.Backward(tr, w, twice))
	twice.Scale(0.5)
	for i, v := range once.Wg {
		assert.InDelta(t, v, twice.Wg[i], 1e-12)
	}
	twice.Zero()
	assert.Equal(t, make([]float64, len(twice.Bo)), twice.Bo)
}

func TestHistoricalPredictor(t *testing.T) {
	s := tensor.NewBinary(4, 1, 1, 2)
	s.Data = []uint8{1, 0, 1, 0, 0, 0, 1, 1}
	out, err := HistoricalPredictor{}.Predict(s)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.75, 0.25}, out.Data)
}

func TestWithParamsChecksSizes(t *testing.T) {
	cfg := tinyConfig()
	_, err := WithParams(cfg, NewParams(cfg))
	require.NoError(t, err)
	other := cfg
	other.HiddenChannels = 3
	_, err = WithParams(cfg, NewParams(other))
	assert.Error(t, err)
}
