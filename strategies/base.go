package strategies

import (
	"context"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gradflow/gradflow/devices"
	"github.com/gradflow/gradflow/tensors"
)

// CacheReleaseFn releases the device-side allocator/cache pools of a device,
// reclaiming device memory deterministically at Teardown. The default releases
// nothing: host memory is garbage collected.
type CacheReleaseFn func(device devices.Device) error

// Options carries the collaborators injected into a strategy at construction.
// The zero value is usable: host device, environment probe, discarding ports.
type Options struct {
	// Device the strategy's local unit owns. Defaults to the CPU.
	Device devices.Device

	// Probe answers hardware-availability queries. Defaults to devices.DefaultProbe.
	Probe devices.Probe

	// CheckpointIO port. Defaults to a no-op implementation.
	CheckpointIO CheckpointIO

	// Precision port. Defaults to the identity (full precision) policy.
	Precision Precision

	// CacheRelease releases device-side allocator pools at Teardown.
	// Defaults to a no-op.
	CacheRelease CacheReleaseFn
}

// Base is the generic strategy shell: it implements the whole Strategy contract
// given a topology-specific Comm backend, handling the lifecycle state machine,
// device binding, placement and teardown uniformly, and delegating the
// collectives to the backend. Variants embed it (or use it directly) and inject
// their Comm.
//
// Base is not safe for concurrent use: the contract is single orchestrator
// control thread (see package documentation), so no locking is done here.
type Base struct {
	name    string
	device  devices.Device
	probe   devices.Probe
	comm    Comm
	ckpt    CheckpointIO
	prec    Precision
	release CacheReleaseFn

	state  State
	module Module
}

var _ Strategy = (*Base)(nil)

// NewBase assembles a strategy shell from a variant name, its communication
// backend and the injected options.
func NewBase(name string, comm Comm, opts Options) *Base {
	if opts.Probe == nil {
		opts.Probe = devices.DefaultProbe
	}
	if opts.CheckpointIO == nil {
		opts.CheckpointIO = discardCheckpointIO{}
	}
	if opts.Precision == nil {
		opts.Precision = identityPrecision{}
	}
	if opts.CacheRelease == nil {
		opts.CacheRelease = func(devices.Device) error { return nil }
	}
	return &Base{
		name:    name,
		device:  opts.Device,
		probe:   opts.Probe,
		comm:    comm,
		ckpt:    opts.CheckpointIO,
		prec:    opts.Precision,
		release: opts.CacheRelease,
		state:   Configured,
	}
}

// Name implements Strategy.
func (b *Base) Name() string { return b.name }

// RootDevice implements Strategy.
func (b *Base) RootDevice() devices.Device { return b.device }

// Topology implements Strategy.
func (b *Base) Topology() Topology { return b.comm.Topology() }

// IsGlobalZero implements Strategy.
func (b *Base) IsGlobalZero() bool { return b.comm.Topology().GlobalRank == 0 }

// State returns the current lifecycle state.
func (b *Base) State() State { return b.state }

// Module returns the module bound at Setup, or nil before Setup.
func (b *Base) Module() Module { return b.module }

// CheckpointIO implements Strategy.
func (b *Base) CheckpointIO() CheckpointIO { return b.ckpt }

// Precision implements Strategy.
func (b *Base) Precision() Precision { return b.prec }

// OnAccelerator reports whether the root device is a non-CPU device that is
// actually available. Pure function of the root device and the injected probe.
func (b *Base) OnAccelerator() bool {
	return b.device.Kind.IsAccelerator() && b.probe(b.device.Kind) > 0
}

// OnCUDA reports whether the root device is an available CUDA device.
func (b *Base) OnCUDA() bool {
	return b.device.Kind == devices.CUDA && b.probe(devices.CUDA) > 0
}

// OnTPU reports whether the root device is an available TPU device.
func (b *Base) OnTPU() bool {
	return b.device.Kind == devices.TPU && b.probe(devices.TPU) > 0
}

// Setup implements Strategy: it verifies the root device is usable, binds the
// module, relocates it to the root device and transitions to Ready.
func (b *Base) Setup(ctx context.Context, module Module) error {
	if b.state != Configured {
		return &LifecycleError{Op: "Setup", State: b.state}
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "strategy Setup canceled")
	}
	if module == nil {
		return errors.New("strategy Setup requires a non-nil module")
	}
	if err := devices.Check(b.device, b.probe); err != nil {
		return errors.WithMessagef(err, "strategy %q cannot set up on device %s", b.name, b.device)
	}
	b.module = module
	if err := module.MoveTo(b.device); err != nil {
		b.module = nil
		return errors.WithMessagef(err, "strategy %q failed to move module to device %s", b.name, b.device)
	}
	b.state = Ready
	klog.V(1).Infof("strategy %q ready: device=%s topology=%s module=%s",
		b.name, b.device, b.Topology(), humanize.IBytes(uint64(module.Memory())))
	return nil
}

// ModelToDevice implements Strategy. Valid only in Ready; idempotent.
func (b *Base) ModelToDevice() error {
	if b.state != Ready {
		return &LifecycleError{Op: "ModelToDevice", State: b.state}
	}
	return b.module.MoveTo(b.device)
}

// Reduce implements Strategy.
func (b *Base) Reduce(t *tensors.Tensor, op ReduceOp) (*tensors.Tensor, error) {
	if b.state != Ready {
		return nil, &LifecycleError{Op: "Reduce", State: b.state}
	}
	return b.comm.Reduce(t, op)
}

// AllGather implements Strategy.
func (b *Base) AllGather(t *tensors.Tensor, opts GatherOptions) (*tensors.Tensor, error) {
	if b.state != Ready {
		return nil, &LifecycleError{Op: "AllGather", State: b.state}
	}
	return b.comm.AllGather(t, opts)
}

// Barrier implements Strategy.
func (b *Base) Barrier(ctx context.Context) error {
	if b.state != Ready {
		return &LifecycleError{Op: "Barrier", State: b.state}
	}
	return b.comm.Barrier(ctx)
}

// Broadcast implements Strategy.
func (b *Base) Broadcast(t *tensors.Tensor, srcRank int) (*tensors.Tensor, error) {
	if b.state != Ready {
		return nil, &LifecycleError{Op: "Broadcast", State: b.state}
	}
	return b.comm.Broadcast(t, srcRank)
}

// Teardown implements Strategy. Device-memory release is best-effort: failures
// are logged and shutdown continues. Resources never acquired are never
// released, so calling Teardown without (or after a failed) Setup is safe.
func (b *Base) Teardown() error {
	if b.state == TornDown {
		return nil
	}
	wasReady := b.state == Ready
	b.state = TornDown
	if !wasReady {
		return nil
	}
	if err := b.comm.Close(); err != nil {
		klog.Warningf("strategy %q: closing communication backend: %v", b.name, err)
	}
	if b.module != nil && b.device.Kind.IsAccelerator() {
		released := b.module.Memory()
		if err := b.module.MoveTo(devices.NewAnyIndex(devices.CPU)); err != nil {
			klog.Warningf("strategy %q: moving module off device %s: %v", b.name, b.device, err)
		} else {
			klog.V(1).Infof("strategy %q: moved %s of module state from %s to host",
				b.name, humanize.IBytes(uint64(released)), b.device)
		}
		if err := b.release(b.device); err != nil {
			klog.Warningf("strategy %q: releasing device cache on %s: %v", b.name, b.device, err)
		}
	}
	b.module = nil
	return nil
}

// discardCheckpointIO is the default checkpoint port: it persists nothing.
type discardCheckpointIO struct{}

func (discardCheckpointIO) Save(path string, state map[string]*tensors.Tensor) error { return nil }
func (discardCheckpointIO) Load(path string) (map[string]*tensors.Tensor, error) {
	return nil, errors.Errorf("no checkpoint port configured, cannot load %q", path)
}
func (discardCheckpointIO) Remove(path string) error { return nil }

// identityPrecision is the default precision port: full precision, no casting.
type identityPrecision struct{}

func (identityPrecision) Name() string                                             { return "32-true" }
func (identityPrecision) CastForCompute(t *tensors.Tensor) (*tensors.Tensor, error) { return t, nil }
func (identityPrecision) CastForStorage(t *tensors.Tensor) (*tensors.Tensor, error) { return t, nil }
