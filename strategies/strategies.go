// Package strategies defines the execution Strategy contract used by a training
// orchestrator to decouple model and training logic from the topology it runs on:
// one device, several devices on one host, or many hosts.
//
// A Strategy owns one root device, a rank/topology descriptor and two injected
// ports (checkpoint I/O and numeric precision). It exposes placement
// (ModelToDevice), collective communication (Reduce, AllGather, Barrier,
// Broadcast) and lifecycle management (Setup, Teardown). Calling code drives the
// same surface whether there is one execution unit or thousands; it never
// branches on topology.
//
// Variants are registered by name (see Register) and selected with a
// configuration string of the form "<strategy_name>:<strategy_config>", either
// passed to NewWithConfig or taken from the GRADFLOW_STRATEGY environment
// variable. The single-device variant lives in strategies/singledevice; an
// in-process multi-worker variant with real collectives lives in
// strategies/multiworker.
//
// Lifecycle: a strategy is constructed Configured, becomes Ready after Setup and
// terminal after Teardown. Collective and placement operations outside Ready
// return a *LifecycleError: that is a caller defect, never silently ignored.
package strategies

import (
	"context"

	"github.com/gradflow/gradflow/devices"
	"github.com/gradflow/gradflow/tensors"
)

// Strategy is the uniform surface every execution-topology variant implements.
//
// All operations are invoked synchronously by the orchestrator's single control
// thread. For multi-unit variants the collective operations block until every
// participating unit has issued the same operation, in the same program order,
// with compatible arguments; there is no partial-participation mode.
type Strategy interface {
	// Name is the registered name of the variant, e.g. "single".
	Name() string

	// RootDevice is the device this strategy's local unit owns. Pure, no side effects.
	RootDevice() devices.Device

	// Topology describes this unit's rank and the world size. Immutable for the
	// lifetime of the strategy.
	Topology() Topology

	// IsGlobalZero is true iff this unit is the designated coordinator, the one
	// that should write logs and checkpoints.
	IsGlobalZero() bool

	// ModelToDevice relocates the module's parameters onto RootDevice. Idempotent:
	// a second call leaves the module on the same device, no duplication, no error.
	ModelToDevice() error

	// Setup binds the module to the root device and transitions the strategy to
	// Ready. Must be called exactly once, before any collective operation. If the
	// root device is unavailable the error wraps devices.ErrUnavailable and the
	// strategy stays unusable: there is no silent fallback to another device.
	Setup(ctx context.Context, module Module) error

	// Reduce aggregates the tensor across all units under the given operator and
	// returns the result visible to this unit. On a single-unit topology this is
	// the identity, whatever the operator: there is nothing to aggregate across.
	Reduce(t *tensors.Tensor, op ReduceOp) (*tensors.Tensor, error)

	// AllGather collects the tensor from every unit and returns them stacked along
	// a new leading axis, ordered by ascending global rank, identical on every
	// unit. On a single-unit topology it returns the input unchanged.
	AllGather(t *tensors.Tensor, opts GatherOptions) (*tensors.Tensor, error)

	// Barrier blocks until every participating unit has reached the same barrier
	// call. A no-op on a single-unit topology.
	Barrier(ctx context.Context) error

	// Broadcast distributes the tensor held by srcRank to every unit, replacing
	// each receiver's local value bit-identically. On a single-unit topology it
	// returns the input unchanged.
	Broadcast(t *tensors.Tensor, srcRank int) (*tensors.Tensor, error)

	// Teardown releases device-resident state and transitions the strategy to its
	// terminal state. If the root device is an accelerator, the module is moved
	// back to host memory and the device cache released. Safe to call more than
	// once, and safe to call even if Setup never ran.
	Teardown() error

	// CheckpointIO is the injected checkpoint port, available to collaborators for
	// save/load delegation. Not invoked by the operations above.
	CheckpointIO() CheckpointIO

	// Precision is the injected numeric-precision port consulted by collaborators
	// for casting policy. Not invoked by the operations above.
	Precision() Precision
}

// Module is the orchestrator-owned model a strategy relocates between devices.
// The strategy holds a reference only; ownership stays with the orchestrator.
type Module interface {
	// Device the parameters currently reside on.
	Device() devices.Device

	// MoveTo relocates all parameters and buffers to the given device. Idempotent
	// when the module already resides there.
	MoveTo(device devices.Device) error

	// Parameters returns the module's parameter tensors, in a stable order.
	Parameters() []*tensors.Tensor

	// Memory is the number of bytes of parameter storage.
	Memory() uintptr
}

// CheckpointIO is the checkpoint port: persistence of named tensor state.
// See the checkpoints package for the file-based implementation.
type CheckpointIO interface {
	Save(path string, state map[string]*tensors.Tensor) error
	Load(path string) (map[string]*tensors.Tensor, error)
	Remove(path string) error
}

// Precision is the precision port: the numeric-casting policy collaborators
// consult when staging tensors for compute or storage. See the precision package.
type Precision interface {
	// Name of the policy, e.g. "32-true" or "16-mixed".
	Name() string

	// CastForCompute converts a tensor to the dtype used during computation.
	CastForCompute(t *tensors.Tensor) (*tensors.Tensor, error)

	// CastForStorage converts a tensor back to the dtype used at rest.
	CastForStorage(t *tensors.Tensor) (*tensors.Tensor, error)
}

// Comm is the topology-specific communication backend a generic strategy shell
// composes: it answers rank/topology queries and executes the collectives.
// The single-device variant injects the trivial identity backend; multi-unit
// variants inject one endpoint per participating unit.
type Comm interface {
	// Topology of this endpoint: its ranks and the world size.
	Topology() Topology

	Reduce(t *tensors.Tensor, op ReduceOp) (*tensors.Tensor, error)
	AllGather(t *tensors.Tensor, opts GatherOptions) (*tensors.Tensor, error)
	Barrier(ctx context.Context) error
	Broadcast(t *tensors.Tensor, srcRank int) (*tensors.Tensor, error)

	// Close detaches the endpoint from its topology. Called once at Teardown.
	Close() error
}
