package logger

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew_TextAndJSON(t *testing.T) {
	for _, format := range []string{"text", "json"} {
		log, err := New(LogConfig{Level: "debug", Format: format})
		require.NoError(t, err, format)
		require.NotNil(t, log)
		log.Info("hello", "format", format)
		log.Sync()
	}
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	log, err := New(LogConfig{Level: "loud", Format: "text"})
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel), "debug should be disabled at info level")
	assert.Equal(t, "info", log.Level())
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engagement.log")
	log, err := New(LogConfig{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)
	log.Warn("written to file", "error", errors.New("boom"))
	log.Sync()
	assert.FileExists(t, path)
}

func TestConvertFields(t *testing.T) {
	fields := convertFields("model_id", "v1", 42, "ignored", "error", errors.New("x"), "dangling")
	require.Len(t, fields, 2)
	assert.Equal(t, zapcore.StringType, fields[0].Type)
	assert.Equal(t, "model_id", fields[0].Key)
	assert.Equal(t, "error", fields[1].Key)
}

func TestSetLevel_SharedWithChildren(t *testing.T) {
	log, err := New(LogConfig{Level: "info", Format: "text", Output: "stderr"})
	require.NoError(t, err)
	child := log.With("service", "scheduler")
	assert.False(t, child.Core().Enabled(zapcore.DebugLevel))

	require.NoError(t, log.SetLevel("DEBUG"))
	assert.Equal(t, "debug", log.Level())
	assert.True(t, child.Core().Enabled(zapcore.DebugLevel))

	assert.Error(t, log.SetLevel("loud"))
	assert.Equal(t, "debug", child.Level())
}

func TestWithAndNamed(t *testing.T) {
	log := NewNopLogger()
	child := log.With("component", "scheduler").Named("engagement")
	require.NotNil(t, child)
	child.Debug("no-op")
}
