package ort

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	onnx "github.com/yalue/onnxruntime_go"

	"github.com/vzahanych/engagement-edge/internal/session"
)

// These cases fail before the native library is touched, so they run without onnxruntime installed.

func TestFromPath_RejectsRemoteLocations(t *testing.T) {
	r := NewRuntime(Config{}, nil)
	_, err := r.FromPath(context.Background(), "https://example.com/models/engagement_model_v1.onnx", session.Options{})
	assert.ErrorContains(t, err, "cannot open https locations")
}

func TestFromPath_MissingFile(t *testing.T) {
	r := NewRuntime(Config{}, nil)
	_, err := r.FromPath(context.Background(), filepath.Join(t.TempDir(), "missing.onnx"), session.Options{})
	assert.ErrorContains(t, err, "model file")
}

func TestFromBytes_Empty(t *testing.T) {
	r := NewRuntime(Config{}, nil)
	_, err := r.FromBytes(context.Background(), nil, session.Options{})
	assert.Error(t, err)
}

func TestFromBytes_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRuntime(Config{}, nil)
	_, err := r.FromBytes(ctx, []byte{1, 2, 3}, session.Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClose_NotStarted(t *testing.T) {
	assert.NoError(t, NewRuntime(Config{}, nil).Close())
}

func TestOptimizationLevel(t *testing.T) {
	assert.Equal(t, onnx.GraphOptimizationLevel(onnx.GraphOptimizationLevelEnableAll), optimizationLevel(true))
	assert.Equal(t, onnx.GraphOptimizationLevel(onnx.GraphOptimizationLevelDisableAll), optimizationLevel(false))
}
