package tensors

import (
	"bytes"
	"encoding/gob"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromFlatAndAccessors(t *testing.T) {
	tensor := FromFlat([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	assert.Equal(t, dtypes.Float32, tensor.DType())
	assert.Equal(t, 2, tensor.Rank())
	assert.Equal(t, []int{2, 3}, tensor.Dimensions())
	assert.Equal(t, 6, tensor.Size())
	assert.Equal(t, uintptr(6*4), tensor.Memory())

	ConstFlatData(tensor, func(flat []float32) {
		assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, flat)
	})
	assert.Panics(t, func() {
		ConstFlatData(tensor, func(flat []float64) {})
	})
}

func TestScalar(t *testing.T) {
	tensor := FromScalar(int64(42))
	assert.Equal(t, 0, tensor.Rank())
	assert.Equal(t, 1, tensor.Size())
	assert.Equal(t, int64(42), ToScalar[int64](tensor))
}

func TestCloneAndEqual(t *testing.T) {
	tensor := FromFlat([]float64{1.5, -2.5}, 2)
	clone := tensor.Clone()
	assert.True(t, tensor.Equal(clone))

	// The clone owns its storage.
	MutableFlatData(clone, func(flat []float64) { flat[0] = 99 })
	ConstFlatData(tensor, func(flat []float64) {
		assert.Equal(t, 1.5, flat[0])
	})
	assert.False(t, tensor.Equal(clone))
	assert.False(t, tensor.Equal(FromFlat([]float64{1.5, -2.5}, 1, 2))) // Different rank.
	assert.False(t, tensor.Equal(FromFlat([]float32{1.5, -2.5}, 2)))   // Different dtype.
}

func TestStack(t *testing.T) {
	parts := []*Tensor{
		FromFlat([]int32{1, 2}, 2),
		FromFlat([]int32{3, 4}, 2),
		FromFlat([]int32{5, 6}, 2),
	}
	stacked, err := Stack(parts)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, stacked.Dimensions())
	ConstFlatData(stacked, func(flat []int32) {
		assert.Equal(t, []int32{1, 2, 3, 4, 5, 6}, flat)
	})

	_, err = Stack(nil)
	assert.Error(t, err)
	_, err = Stack([]*Tensor{parts[0], FromFlat([]int32{1, 2, 3}, 3)})
	assert.Error(t, err)
}

func TestGobRoundTrip(t *testing.T) {
	tensor := FromFlat([]float32{0.5, 1.5, 2.5, 3.5}, 4)
	var buf bytes.Buffer
	require.NoError(t, tensor.GobSerialize(gob.NewEncoder(&buf)))

	loaded, err := GobDeserialize(gob.NewDecoder(&buf))
	require.NoError(t, err)
	assert.True(t, tensor.Equal(loaded))
}
