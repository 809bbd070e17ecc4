// Package ort runs ONNX models through the onnxruntime shared library.
package ort

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"sync"

	onnx "github.com/yalue/onnxruntime_go"

	"github.com/vzahanych/engagement-edge/internal/logger"
	"github.com/vzahanych/engagement-edge/internal/session"
)

// Config contains onnxruntime settings
type Config struct {
	SharedLibraryPath string
	IntraOpThreads    int
}

// Runtime implements session.Runtime on onnxruntime
type Runtime struct {
	cfg    Config
	logger *logger.Logger

	mu      sync.Mutex
	initErr error
	started bool
}

// NewRuntime creates a runtime. The onnxruntime environment is initialised on first use.
func NewRuntime(cfg Config, log *logger.Logger) *Runtime {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Runtime{cfg: cfg, logger: log}
}

func (r *Runtime) ensureEnvironment() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return r.initErr
	}
	r.started = true

	if onnx.IsInitialized() {
		return nil
	}
	if r.cfg.SharedLibraryPath != "" {
		onnx.SetSharedLibraryPath(r.cfg.SharedLibraryPath)
	}
	if err := onnx.InitializeEnvironment(); err != nil {
		r.initErr = fmt.Errorf("failed to initialize onnxruntime: %w", err)
		return r.initErr
	}

	r.logger.Info("onnxruntime environment initialized", "library", r.cfg.SharedLibraryPath)
	return nil
}

// Close tears down the onnxruntime environment
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started || r.initErr != nil || !onnx.IsInitialized() {
		return nil
	}
	r.started = false
	return onnx.DestroyEnvironment()
}

// FromBytes opens a session from an in-memory model
func (r *Runtime) FromBytes(ctx context.Context, model []byte, opts session.Options) (session.Session, error) {
	if len(model) == 0 {
		return nil, fmt.Errorf("empty model data")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.ensureEnvironment(); err != nil {
		return nil, err
	}

	sessOpts, err := r.sessionOptions(opts)
	if err != nil {
		return nil, err
	}
	defer sessOpts.Destroy()

	s, err := onnx.NewDynamicAdvancedSessionWithONNXData(model, []string{opts.InputName}, opts.OutputNames, sessOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &Session{session: s, outputNames: append([]string(nil), opts.OutputNames...)}, nil
}

// FromPath opens a session from a model file on disk. Remote locations are not
// fetched by onnxruntime and are rejected.
func (r *Runtime) FromPath(ctx context.Context, location string, opts session.Options) (session.Session, error) {
	path := location
	if u, err := url.Parse(location); err == nil && u.Scheme != "" {
		if u.Scheme != "file" {
			return nil, fmt.Errorf("onnxruntime cannot open %s locations: %s", u.Scheme, location)
		}
		path = u.Path
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.ensureEnvironment(); err != nil {
		return nil, err
	}

	sessOpts, err := r.sessionOptions(opts)
	if err != nil {
		return nil, err
	}
	defer sessOpts.Destroy()

	s, err := onnx.NewDynamicAdvancedSession(path, []string{opts.InputName}, opts.OutputNames, sessOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &Session{session: s, outputNames: append([]string(nil), opts.OutputNames...)}, nil
}

func (r *Runtime) sessionOptions(opts session.Options) (*onnx.SessionOptions, error) {
	sessOpts, err := onnx.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}

	if err := sessOpts.SetGraphOptimizationLevel(optimizationLevel(opts.GraphOptimization)); err != nil {
		sessOpts.Destroy()
		return nil, fmt.Errorf("failed to set graph optimization: %w", err)
	}

	threads := opts.IntraOpThreads
	if threads == 0 {
		threads = r.cfg.IntraOpThreads
	}
	if threads > 0 {
		if err := sessOpts.SetIntraOpNumThreads(threads); err != nil {
			sessOpts.Destroy()
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}

	if opts.Profiling {
		r.logger.Debug("Session profiling requested but not supported by this runtime")
	}

	return sessOpts, nil
}

func optimizationLevel(enabled bool) onnx.GraphOptimizationLevel {
	if enabled {
		return onnx.GraphOptimizationLevelEnableAll
	}
	return onnx.GraphOptimizationLevelDisableAll
}

// Session wraps an onnxruntime dynamic session
type Session struct {
	session     *onnx.DynamicAdvancedSession
	outputNames []string
}

// Run executes one forward pass
func (s *Session) Run(input session.Tensor) ([]session.Tensor, error) {
	in, err := onnx.NewTensor(onnx.NewShape(input.Shape...), input.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer in.Destroy()

	outputs := make([]onnx.Value, len(s.outputNames))
	if err := s.session.Run([]onnx.Value{in}, outputs); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	defer func() {
		for _, v := range outputs {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	result := make([]session.Tensor, len(outputs))
	for i, v := range outputs {
		t, ok := v.(*onnx.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("output %s is not a float32 tensor", s.outputNames[i])
		}
		result[i] = session.Tensor{
			Name:  s.outputNames[i],
			Shape: append([]int64(nil), t.GetShape()...),
			Data:  append([]float32(nil), t.GetData()...),
		}
	}

	return result, nil
}

// Close releases the native session
func (s *Session) Close() error {
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return err
}
