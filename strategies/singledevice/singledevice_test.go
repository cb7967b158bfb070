package singledevice

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradflow/gradflow/devices"
	"github.com/gradflow/gradflow/strategies"
	"github.com/gradflow/gradflow/tensors"
)

// newReady returns a strategy on a fake accelerator, already set up with a
// small module, plus the release-call counter for teardown checks.
func newReady(t *testing.T) (*Strategy, *strategies.HostModule, *int) {
	releaseCalls := 0
	s := New(strategies.Options{
		Device: devices.New(devices.CUDA, 0),
		Probe:  devices.FixedProbe(map[devices.Kind]int{devices.CPU: 1, devices.CUDA: 1}),
		CacheRelease: func(devices.Device) error {
			releaseCalls++
			return nil
		},
	})
	module := strategies.NewHostModule("test")
	module.SetParameter("w", tensors.FromFlat([]float32{1, 2, 3}, 3))
	require.NoError(t, s.Setup(context.Background(), module))
	return s, module, &releaseCalls
}

func TestIdentityCollectives(t *testing.T) {
	s, _, _ := newReady(t)
	value := tensors.FromFlat([]float32{1.5, 2.5}, 2)

	// Reduce is the identity for every operator: same instance, no copy.
	for _, op := range []strategies.ReduceOp{
		strategies.ReduceSum, strategies.ReduceMean, strategies.ReduceMax,
		strategies.ReduceMin, strategies.ReduceProd,
	} {
		got, err := s.Reduce(value, op)
		require.NoError(t, err, "Reduce(%s)", op)
		assert.Same(t, value, got, "Reduce(%s)", op)
	}

	got, err := s.AllGather(value, strategies.GatherOptions{SyncGrads: false})
	require.NoError(t, err)
	assert.Same(t, value, got)

	got, err = s.Broadcast(value, 0)
	require.NoError(t, err)
	assert.Same(t, value, got)

	require.NoError(t, s.Barrier(context.Background()))
}

func TestGlobalZeroAndTopology(t *testing.T) {
	s, _, _ := newReady(t)
	value := tensors.FromScalar(float32(1))

	// The invariants hold before and after every operation.
	for ii := 0; ii < 3; ii++ {
		assert.True(t, s.IsGlobalZero())
		topo := s.Topology()
		assert.Equal(t, 0, topo.GlobalRank)
		assert.Equal(t, 0, topo.LocalRank)
		assert.Equal(t, 1, topo.WorldSize)

		_, err := s.Reduce(value, strategies.ReduceMean)
		require.NoError(t, err)
		require.NoError(t, s.Barrier(context.Background()))
	}
}

func TestModelToDeviceIdempotent(t *testing.T) {
	s, module, _ := newReady(t)
	device := devices.New(devices.CUDA, 0)
	assert.Equal(t, device, module.Device())

	require.NoError(t, s.ModelToDevice())
	assert.Equal(t, device, module.Device())
	require.NoError(t, s.ModelToDevice())
	assert.Equal(t, device, module.Device())
}

func TestTeardown(t *testing.T) {
	s, module, releaseCalls := newReady(t)
	assert.Equal(t, devices.New(devices.CUDA, 0), module.Device())

	require.NoError(t, s.Teardown())
	assert.Equal(t, devices.NewAnyIndex(devices.CPU), module.Device(), "module must be back on host")
	assert.Equal(t, 1, *releaseCalls, "device cache must be released")

	// Safe to call again, and it doesn't release twice.
	require.NoError(t, s.Teardown())
	assert.Equal(t, 1, *releaseCalls)
}

func TestTeardownWithoutSetup(t *testing.T) {
	releaseCalls := 0
	s := New(strategies.Options{
		Device:       devices.New(devices.CUDA, 0),
		Probe:        devices.FixedProbe(map[devices.Kind]int{devices.CUDA: 1}),
		CacheRelease: func(devices.Device) error { releaseCalls++; return nil },
	})
	require.NoError(t, s.Teardown())
	assert.Zero(t, releaseCalls, "resources never acquired must not be released")
}

func TestLifecycleViolations(t *testing.T) {
	s := New(strategies.Options{
		Probe: devices.FixedProbe(map[devices.Kind]int{devices.CPU: 1}),
	})
	value := tensors.FromScalar(float32(1))

	var lifecycleErr *strategies.LifecycleError
	_, err := s.Reduce(value, strategies.ReduceSum)
	require.Error(t, err)
	assert.True(t, errors.As(err, &lifecycleErr))
	assert.Equal(t, strategies.Configured, lifecycleErr.State)

	err = s.ModelToDevice()
	assert.True(t, errors.As(err, &lifecycleErr))

	// After teardown collectives are violations too.
	module := strategies.NewHostModule("test")
	require.NoError(t, s.Setup(context.Background(), module))
	require.NoError(t, s.Teardown())
	_, err = s.AllGather(value, strategies.GatherOptions{})
	require.Error(t, err)
	assert.True(t, errors.As(err, &lifecycleErr))
	assert.Equal(t, strategies.TornDown, lifecycleErr.State)

	// Setup is once-only.
	err = s.Setup(context.Background(), module)
	assert.True(t, errors.As(err, &lifecycleErr))
}

func TestSetupUnavailableDevice(t *testing.T) {
	s := New(strategies.Options{
		Device: devices.New(devices.CUDA, 0),
		Probe:  devices.FixedProbe(map[devices.Kind]int{devices.CPU: 1}),
	})
	module := strategies.NewHostModule("test")
	err := s.Setup(context.Background(), module)
	require.Error(t, err)
	assert.True(t, errors.Is(err, devices.ErrUnavailable))
	// No fallback: the module stays on the host and the strategy never becomes Ready.
	assert.Equal(t, devices.NewAnyIndex(devices.CPU), module.Device())
	_, err = s.Reduce(tensors.FromScalar(float32(1)), strategies.ReduceSum)
	assert.Error(t, err)
}

func TestSetupIndexOutOfRange(t *testing.T) {
	s := New(strategies.Options{
		Device: devices.New(devices.CUDA, 2),
		Probe:  devices.FixedProbe(map[devices.Kind]int{devices.CUDA: 2}),
	})
	err := s.Setup(context.Background(), strategies.NewHostModule("test"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, devices.ErrUnavailable))
}

func TestAccessors(t *testing.T) {
	probe := devices.FixedProbe(map[devices.Kind]int{devices.CPU: 1, devices.CUDA: 1})
	onCUDA := New(strategies.Options{Device: devices.New(devices.CUDA, 0), Probe: probe})
	assert.True(t, onCUDA.OnCUDA())
	assert.True(t, onCUDA.OnAccelerator())
	assert.False(t, onCUDA.OnTPU())

	// A CUDA device with no CUDA runtime visible is not "on CUDA".
	noCUDA := New(strategies.Options{Device: devices.New(devices.CUDA, 0),
		Probe: devices.FixedProbe(map[devices.Kind]int{devices.CPU: 1})})
	assert.False(t, noCUDA.OnCUDA())

	onCPU := New(strategies.Options{Probe: probe})
	assert.False(t, onCPU.OnAccelerator())
	assert.False(t, onCPU.OnCUDA())
}
