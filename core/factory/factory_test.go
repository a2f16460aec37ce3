package factory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sink struct {
	URL   string
	Flush time.Duration
	Batch int
}

type sinkConf struct {
	URL   string        `json:"url"`
	Flush time.Duration `json:"flush_interval"`
	Batch int           `json:"batch_size"`
}

// Test registry registration and instantiation using Decode.
func TestRegistry_Create(t *testing.T) {
	reg := NewRegistry[*sink]()
	require.NoError(t, reg.Register("influx", func(conf map[string]any) (*sink, error) {
		var c sinkConf
		if err := Decode(conf, &c); err != nil {
			return nil, err
		}
		return &sink{URL: c.URL, Flush: c.Flush, Batch: c.Batch}, nil
	}))
	inst, err := reg.Create(ModuleConfig{Type: "influx", Conf: map[string]any{
		"url":            "http://localhost:8086",
		"flush_interval": "2s",
		"batch_size":     "50",
	}})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8086", inst.URL)
	assert.Equal(t, 2*time.Second, inst.Flush)
	assert.Equal(t, 50, inst.Batch)
}

// Test duplicate registration and unknown type errors.
func TestRegistry_Errors(t *testing.T) {
	reg := NewRegistry[int]()
	require.NoError(t, reg.Register("x", func(map[string]any) (int, error) { return 1, nil }))
	assert.Error(t, reg.Register("x", func(map[string]any) (int, error) { return 2, nil }))
	assert.Error(t, reg.Register("z", nil))
	_, err := reg.Create(ModuleConfig{Type: "y"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "known: x")
	assert.Equal(t, []string{"x"}, reg.Names())
}
