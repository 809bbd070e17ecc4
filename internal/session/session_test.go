package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTensor(t *testing.T) {
	shape := []int64{1, 2, 3}
	tensor, err := NewTensor("input", shape, make([]float32, 6))
	require.NoError(t, err)
	assert.Equal(t, "input", tensor.Name)

	shape[0] = 9
	assert.Equal(t, int64(1), tensor.Shape[0], "shape is copied")

	_, err = NewTensor("input", []int64{1, 2, 3}, make([]float32, 5))
	assert.Error(t, err)
}
