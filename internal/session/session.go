// Package session defines the model runtime boundary used by the loader and the engine.
package session

import (
	"context"
	"fmt"
)

// Tensor is a named float32 tensor
type Tensor struct {
	Name  string
	Shape []int64
	Data  []float32
}

// NewTensor checks that data fills shape exactly
func NewTensor(name string, shape []int64, data []float32) (Tensor, error) {
	var n int64 = 1
	for _, d := range shape {
		n *= d
	}
	if n != int64(len(data)) {
		return Tensor{}, fmt.Errorf("tensor %s: shape %v needs %d values, got %d", name, shape, n, len(data))
	}
	return Tensor{Name: name, Shape: append([]int64(nil), shape...), Data: data}, nil
}

// Session is a loaded model ready for forward passes
type Session interface {
	// Run executes one forward pass and returns the requested outputs in Options.OutputNames order
	Run(input Tensor) ([]Tensor, error)
	Close() error
}

// Options are the execution options a session is built with
type Options struct {
	InputName         string
	OutputNames       []string
	GraphOptimization bool
	Profiling         bool
	IntraOpThreads    int
}

// Runtime opens sessions from model bytes or from a location the runtime reads itself
type Runtime interface {
	FromBytes(ctx context.Context, model []byte, opts Options) (Session, error)
	FromPath(ctx context.Context, location string, opts Options) (Session, error)
}
