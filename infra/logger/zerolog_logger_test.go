package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZerologLoggerMethods(t *testing.T) {
	assert.NoError(t, os.Setenv("APP_ENV", "dev"))
	defer func() { assert.NoError(t, os.Unsetenv("APP_ENV")) }()
	l := NewZerologLogger("test")
	if l == nil {
		t.Fatalf("nil logger")
	}
	l.Debugf("debug %d", 1)
	l.Debugw("debug", map[string]any{"k": 1})
	l.Infof("info %s", "test")
	l.Infow("info", map[string]any{"k": 2})
	l.Warnf("warn")
	l.Errorf("error")
}

func TestStructuredFieldsAndComponent(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "aggregator")
	l.Infow("aggregated", map[string]any{"days": 31, "dropped": 4})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "aggregator", entry["component"])
	assert.Equal(t, "aggregated", entry["message"])
	assert.EqualValues(t, 31, entry["days"])
	assert.EqualValues(t, 4, entry["dropped"])
}

func TestSetLevel(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	assert.True(t, SetLevel("warn"))
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
	assert.False(t, SetLevel("loud"))
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
	assert.True(t, SetLevel(""))
}

func TestAddFileTeesEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "crimecast.log")
	closer, err := AddFile(FileOptions{Path: path, MaxSizeMB: 1, MaxBackups: 2})
	require.NoError(t, err)

	NewZerologLogger("trainer").Infof("epoch %d done", 3)
	require.NoError(t, closer.Close())
	assert.Nil(t, fileWriter())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"trainer"`)
	assert.Contains(t, string(data), "epoch 3 done")

	_, err = AddFile(FileOptions{})
	assert.Error(t, err)
}
