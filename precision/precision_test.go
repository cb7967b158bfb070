package precision

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/gradflow/gradflow/tensors"
)

func TestFull32IsIdentity(t *testing.T) {
	policy := Full32{}
	assert.Equal(t, "32-true", policy.Name())

	value := tensors.FromFlat([]float32{1.5, -2.25}, 2)
	got, err := policy.CastForCompute(value)
	require.NoError(t, err)
	assert.Same(t, value, got)
	got, err = policy.CastForStorage(value)
	require.NoError(t, err)
	assert.Same(t, value, got)
}

func TestFloat16RoundTrip(t *testing.T) {
	policy := Float16{}
	assert.Equal(t, "16-mixed", policy.Name())

	// Values exactly representable in float16 survive the round trip.
	value := tensors.FromFlat([]float32{1.5, -2.25, 0, 1024}, 4)
	compute, err := policy.CastForCompute(value)
	require.NoError(t, err)
	assert.Equal(t, dtypes.Float16, compute.DType())
	assert.Equal(t, value.Dimensions(), compute.Dimensions())
	tensors.ConstFlatData(compute, func(flat []float16.Float16) {
		assert.Equal(t, float32(1.5), flat[0].Float32())
		assert.Equal(t, float32(-2.25), flat[1].Float32())
	})

	storage, err := policy.CastForStorage(compute)
	require.NoError(t, err)
	assert.Equal(t, dtypes.Float32, storage.DType())
	assert.True(t, value.Equal(storage))
}

func TestFloat16PassThrough(t *testing.T) {
	policy := Float16{}

	// Non-float32 tensors are not touched on the way to compute.
	ints := tensors.FromFlat([]int32{1, 2, 3}, 3)
	got, err := policy.CastForCompute(ints)
	require.NoError(t, err)
	assert.Same(t, ints, got)

	// Non-float16 tensors are not touched on the way to storage.
	doubles := tensors.FromFlat([]float64{1, 2}, 2)
	got, err = policy.CastForStorage(doubles)
	require.NoError(t, err)
	assert.Same(t, doubles, got)
}
