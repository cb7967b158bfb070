package devices

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	d, err := Parse("cuda:1")
	require.NoError(t, err)
	assert.Equal(t, CUDA, d.Kind)
	assert.True(t, d.Index.HasValue())
	assert.Equal(t, 1, d.Index.Value())
	assert.Equal(t, "cuda:1", d.String())

	d, err = Parse("cpu")
	require.NoError(t, err)
	assert.Equal(t, CPU, d.Kind)
	assert.False(t, d.Index.HasValue())
	assert.Equal(t, "cpu", d.String())

	_, err = Parse("quantum:0")
	assert.Error(t, err)
	_, err = Parse("cuda:-1")
	assert.Error(t, err)
	_, err = Parse("cuda:zero")
	assert.Error(t, err)
}

func TestKindRoundTrip(t *testing.T) {
	for _, kind := range Kinds() {
		parsed, err := KindFromString(kind.String())
		require.NoError(t, err)
		assert.Equal(t, kind, parsed)
	}
	assert.False(t, CPU.IsAccelerator())
	assert.True(t, CUDA.IsAccelerator())
	assert.True(t, TPU.IsAccelerator())
}

func TestIndex(t *testing.T) {
	assert.False(t, NoIndex.HasValue())
	assert.Equal(t, 0, NoIndex.OrZero())
	idx := NewIndex(3)
	assert.True(t, idx.HasValue())
	assert.Equal(t, 3, idx.OrZero())
}

func TestCheck(t *testing.T) {
	probe := FixedProbe(map[Kind]int{CPU: 1, CUDA: 2})

	require.NoError(t, Check(NewAnyIndex(CPU), probe))
	require.NoError(t, Check(New(CUDA, 1), probe))

	err := Check(New(CUDA, 2), probe)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))

	err = Check(NewAnyIndex(TPU), probe)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestDefaultProbe(t *testing.T) {
	// The CPU is always one unit; accelerators depend on the environment.
	assert.Equal(t, 1, DefaultProbe(CPU))

	t.Setenv(CUDAVisibleDevices, "0,1,2")
	assert.Equal(t, 3, DefaultProbe(CUDA))
	t.Setenv(CUDAVisibleDevices, "")
	assert.Equal(t, 0, DefaultProbe(CUDA))

	t.Setenv(TPUVisibleChips, "8")
	assert.Equal(t, 8, DefaultProbe(TPU))
	t.Setenv(TPUVisibleChips, "not-a-number")
	assert.Equal(t, 0, DefaultProbe(TPU))
}
