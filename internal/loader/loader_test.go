package loader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/engagement-edge/internal/session"
)

type stubSession struct{ data []byte }

func (s *stubSession) Run(input session.Tensor) ([]session.Tensor, error) { return nil, nil }
func (s *stubSession) Close() error                                       { return nil }

type stubRuntime struct {
	mu        sync.Mutex
	bytesErr  error
	pathErr   error
	fromBytes [][]byte
	fromPath  []string
}

func (r *stubRuntime) FromBytes(ctx context.Context, model []byte, opts session.Options) (session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fromBytes = append(r.fromBytes, model)
	if r.bytesErr != nil {
		return nil, r.bytesErr
	}
	return &stubSession{data: model}, nil
}

func (r *stubRuntime) FromPath(ctx context.Context, location string, opts session.Options) (session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fromPath = append(r.fromPath, location)
	if r.pathErr != nil {
		return nil, r.pathErr
	}
	return &stubSession{}, nil
}

func TestCandidates(t *testing.T) {
	l := New(Config{BaseURL: "https://learn.example.com/"}, &stubRuntime{}, nil)

	assert.Equal(t, []string{
		"/models/m.onnx",
		"/public/models/m.onnx",
		"assets/models/m.onnx",
		"https://learn.example.com/models/m.onnx",
		"https://learn.example.com/public/models/m.onnx",
		"https://learn.example.com/assets/models/m.onnx",
	}, l.Candidates("m.onnx"))
}

func TestLoad_BlobFromSecondCandidate(t *testing.T) {
	var mu sync.Mutex
	var requested []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requested = append(requested, r.URL.Path)
		mu.Unlock()
		if r.URL.Path != "/public/models/m.onnx" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("onnx-bytes"))
	}))
	defer srv.Close()

	rt := &stubRuntime{}
	l := New(Config{BaseURL: srv.URL}, rt, nil)

	res, err := l.Load(context.Background(), "m.onnx", session.Options{})
	require.NoError(t, err)
	assert.Equal(t, SourceBlob, res.Source)
	assert.Equal(t, srv.URL+"/public/models/m.onnx", res.Location)
	mu.Lock()
	assert.Equal(t, []string{"/models/m.onnx", "/public/models/m.onnx"}, requested)
	mu.Unlock()
	require.Len(t, rt.fromBytes, 1)
	assert.Equal(t, "onnx-bytes", string(rt.fromBytes[0]))
}

func TestLoad_FallbackDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "m.onnx"), []byte("local"), 0644))

	rt := &stubRuntime{}
	l := New(Config{FallbackDirs: []string{filepath.Join(dir, "missing"), dir}}, rt, nil)

	res, err := l.Load(context.Background(), "m.onnx", session.Options{})
	require.NoError(t, err)
	assert.Equal(t, SourceFallbackDir, res.Source)
	assert.Equal(t, filepath.Join(dir, "m.onnx"), res.Location)
}

func TestLoad_DirectStage(t *testing.T) {
	rt := &stubRuntime{}
	l := New(Config{}, rt, nil)

	res, err := l.Load(context.Background(), "m.onnx", session.Options{})
	require.NoError(t, err)
	assert.Equal(t, SourceDirect, res.Source)
	assert.Equal(t, "/models/m.onnx", res.Location)
	assert.Empty(t, rt.fromBytes, "no base url and no fallback dirs means nothing was fetched")
}

func TestLoad_AllStagesFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	rt := &stubRuntime{pathErr: errors.New("no such file")}
	l := New(Config{BaseURL: srv.URL, FallbackDirs: []string{t.TempDir()}}, rt, nil)

	res, err := l.Load(context.Background(), "m.onnx", session.Options{})
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, ErrModelUnavailable))
	assert.Len(t, rt.fromPath, 6)
}

func TestLoad_RuntimeRejectsBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("corrupt"))
	}))
	defer srv.Close()

	rt := &stubRuntime{bytesErr: errors.New("bad protobuf"), pathErr: errors.New("no such file")}
	l := New(Config{BaseURL: srv.URL}, rt, nil)

	_, err := l.Load(context.Background(), "m.onnx", session.Options{})
	assert.True(t, errors.Is(err, ErrModelUnavailable))
	assert.Len(t, rt.fromBytes, 6, "every candidate was fetched and handed to the runtime")
}

func TestLoad_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(Config{}, &stubRuntime{}, nil).Load(ctx, "m.onnx", session.Options{})
	assert.ErrorIs(t, err, context.Canceled)
}
