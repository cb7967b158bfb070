// Package singledevice implements the strategy variant that handles execution
// on a single device.
//
// It is the degenerate base case of the strategy contract: with a world size of
// one, every collective is trivial. Reduce, AllGather and Broadcast are the
// identity (there is nothing to aggregate across, a gather of one is itself, and
// the only unit is both source and sole receiver), Barrier is a no-op and the
// unit is unconditionally the global coordinator.
package singledevice

import (
	"context"

	"github.com/pkg/errors"

	"github.com/gradflow/gradflow/devices"
	"github.com/gradflow/gradflow/strategies"
	"github.com/gradflow/gradflow/tensors"
)

// StrategyName to be used in GRADFLOW_STRATEGY to select this variant.
const StrategyName = "single"

// Registers New as the constructor for the "single" strategy variant.
func init() {
	strategies.Register(StrategyName, func(config string, opts strategies.Options) (strategies.Strategy, error) {
		if config != "" {
			device, err := devices.Parse(config)
			if err != nil {
				return nil, errors.WithMessagef(err, "configuring %q strategy", StrategyName)
			}
			opts.Device = device
		}
		return New(opts), nil
	})
}

// Strategy is the single-device variant. Its topology is fixed at rank 0, world
// size 1, regardless of any external configuration.
type Strategy struct {
	*strategies.Base
}

var _ strategies.Strategy = (*Strategy)(nil)

// New constructs the single-device strategy in the Configured state. The device
// comes from opts.Device (defaulting to the CPU); availability is checked at
// Setup, not here.
func New(opts strategies.Options) *Strategy {
	return &Strategy{
		Base: strategies.NewBase(StrategyName, comm{}, opts),
	}
}

// comm is the identity communication backend: world size 1, all collectives
// return their input unchanged, with no copy implied.
type comm struct{}

var _ strategies.Comm = comm{}

func (comm) Topology() strategies.Topology { return strategies.SingleUnit }

func (comm) Reduce(t *tensors.Tensor, op strategies.ReduceOp) (*tensors.Tensor, error) {
	return t, nil
}

func (comm) AllGather(t *tensors.Tensor, opts strategies.GatherOptions) (*tensors.Tensor, error) {
	return t, nil
}

func (comm) Barrier(ctx context.Context) error {
	return nil
}

func (comm) Broadcast(t *tensors.Tensor, srcRank int) (*tensors.Tensor, error) {
	return t, nil
}

func (comm) Close() error { return nil }
