package checkpoints

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradflow/gradflow/tensors"
)

func testState(scale float32) map[string]*tensors.Tensor {
	return map[string]*tensors.Tensor{
		"layer0/weights": tensors.FromFlat([]float32{scale, 2 * scale, 3 * scale, 4 * scale}, 2, 2),
		"layer0/bias":    tensors.FromFlat([]float32{scale}, 1),
		"global_step":    tensors.FromScalar(int64(scale)),
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	handler := must.M1(Build().TempDir("", "test_checkpoints_").Done())
	defer func() { _ = os.RemoveAll(handler.Dir()) }()

	state := testState(1)
	path := filepath.Join(handler.Dir(), "manual")
	require.NoError(t, handler.Save(path, state))

	loaded, err := handler.Load(path)
	require.NoError(t, err)
	require.Len(t, loaded, len(state))
	for name, want := range state {
		assert.True(t, want.Equal(loaded[name]), "tensor %q", name)
	}

	// The metadata sidecar is in place and mentions every tensor.
	metadata := must.M1(os.ReadFile(path + metadataSuffix))
	for name := range state {
		assert.Contains(t, string(metadata), name)
	}

	// No temporary files left behind.
	for _, entry := range must.M1(os.ReadDir(handler.Dir())) {
		assert.False(t, strings.Contains(entry.Name(), ".tmp"), "leftover temp file %q", entry.Name())
	}
}

func TestKeepRetention(t *testing.T) {
	handler := must.M1(Build().TempDir("", "test_checkpoints_").Keep(3).Done())
	defer func() { _ = os.RemoveAll(handler.Dir()) }()

	for step := 0; step < 10; step++ {
		_ = must.M1(handler.SaveStep(step, testState(float32(step+1))))
	}
	list := must.M1(handler.ListCheckpoints())
	require.Len(t, list, 3)

	// The survivors are the most recent ones, and LoadLatest picks the newest.
	loaded, err := handler.LoadLatest()
	require.NoError(t, err)
	assert.Equal(t, int64(10), tensors.ToScalar[int64](loaded["global_step"]))
}

func TestLoadLatestEmpty(t *testing.T) {
	handler := must.M1(Build().TempDir("", "test_checkpoints_").Done())
	defer func() { _ = os.RemoveAll(handler.Dir()) }()
	_, err := handler.LoadLatest()
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestRemove(t *testing.T) {
	handler := must.M1(Build().TempDir("", "test_checkpoints_").Done())
	defer func() { _ = os.RemoveAll(handler.Dir()) }()

	path := must.M1(handler.SaveStep(1, testState(1)))
	require.NoError(t, handler.Remove(path))
	assert.Empty(t, must.M1(handler.ListCheckpoints()))
	require.NoError(t, handler.Remove(path), "removing a removed checkpoint is fine")
}

func TestBuildValidation(t *testing.T) {
	_, err := Build().Done()
	require.Error(t, err, "a directory is required")
}
