package multiworker

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/gradflow/gradflow/devices"
	"github.com/gradflow/gradflow/strategies"
	"github.com/gradflow/gradflow/tensors"
)

// StrategyName to be used in GRADFLOW_STRATEGY to select this variant.
const StrategyName = "multiworker"

// Registers the constructor for the "multiworker" strategy variant.
//
// The configuration is "<world_size>" or "<world_size>,<device>", e.g.
// "multiworker:4,cuda". The registry returns the rank-0 strategy; the
// orchestrator reaches the sibling ranks through Strategy.Hub.
func init() {
	strategies.Register(StrategyName, func(config string, opts strategies.Options) (strategies.Strategy, error) {
		worldSize := 1
		if config != "" {
			sizePart := config
			if idx := strings.Index(config, ","); idx != -1 {
				sizePart = config[:idx]
				device, err := devices.Parse(config[idx+1:])
				if err != nil {
					return nil, errors.WithMessagef(err, "configuring %q strategy", StrategyName)
				}
				opts.Device = device
			}
			var err error
			worldSize, err = strconv.Atoi(sizePart)
			if err != nil {
				return nil, errors.Wrapf(err, "configuring %q strategy: invalid world size %q", StrategyName, sizePart)
			}
		}
		hub, err := NewHub(worldSize, opts)
		if err != nil {
			return nil, err
		}
		return hub.Strategy(0), nil
	})
}

// Strategy is one worker's endpoint into a multiworker topology.
type Strategy struct {
	*strategies.Base
	hub *Hub
}

var _ strategies.Strategy = (*Strategy)(nil)

// Hub returns the topology this worker belongs to.
func (s *Strategy) Hub() *Hub { return s.hub }

func newWorker(hub *Hub, rank int, opts strategies.Options) *Strategy {
	opts.Device = workerDevice(opts.Device, rank)
	c := &comm{hub: hub, rank: rank}
	return &Strategy{
		Base: strategies.NewBase(StrategyName, c, opts),
		hub:  hub,
	}
}

// workerDevice deals the configured device kind out by rank: accelerators are
// assigned one per worker, the CPU is shared by all workers.
func workerDevice(configured devices.Device, rank int) devices.Device {
	if !configured.Kind.IsAccelerator() {
		return devices.NewAnyIndex(devices.CPU)
	}
	return devices.New(configured.Kind, rank)
}

// comm is the hub-backed communication backend for one rank.
type comm struct {
	hub  *Hub
	rank int
}

var _ strategies.Comm = (*comm)(nil)

func (c *comm) Topology() strategies.Topology {
	// Single host: local and global ranks coincide.
	return strategies.Topology{
		GlobalRank: c.rank,
		LocalRank:  c.rank,
		WorldSize:  c.hub.worldSize,
	}
}

func (c *comm) Reduce(t *tensors.Tensor, op strategies.ReduceOp) (*tensors.Tensor, error) {
	if t == nil {
		return nil, &strategies.CollectiveError{Op: "Reduce", Rank: c.rank, Reason: "nil tensor"}
	}
	signature := "reduce:" + op.String()
	return c.hub.exchange(context.Background(), signature, c.rank, t,
		func(entries []*tensors.Tensor) ([]*tensors.Tensor, error) {
			if err := checkShapes("Reduce", entries); err != nil {
				return nil, err
			}
			reduced, err := reduceTensors(entries, op)
			if err != nil {
				return nil, err
			}
			return fanOut(reduced, len(entries)), nil
		})
}

func (c *comm) AllGather(t *tensors.Tensor, opts strategies.GatherOptions) (*tensors.Tensor, error) {
	if t == nil {
		return nil, &strategies.CollectiveError{Op: "AllGather", Rank: c.rank, Reason: "nil tensor"}
	}
	if len(opts.Group) > 0 {
		return nil, &strategies.CollectiveError{Op: "AllGather", Rank: c.rank,
			Reason: "process sub-groups are not supported by the multiworker topology"}
	}
	return c.hub.exchange(context.Background(), "allgather", c.rank, t,
		func(entries []*tensors.Tensor) ([]*tensors.Tensor, error) {
			if err := checkShapes("AllGather", entries); err != nil {
				return nil, err
			}
			// Stacked by ascending rank: entries are already rank-indexed.
			gathered, err := tensors.Stack(entries)
			if err != nil {
				return nil, &strategies.CollectiveError{Op: "AllGather", Rank: c.rank, Reason: err.Error()}
			}
			return fanOut(gathered, len(entries)), nil
		})
}

func (c *comm) Barrier(ctx context.Context) error {
	_, err := c.hub.exchange(ctx, "barrier", c.rank, nil,
		func(entries []*tensors.Tensor) ([]*tensors.Tensor, error) {
			return make([]*tensors.Tensor, len(entries)), nil
		})
	return err
}

func (c *comm) Broadcast(t *tensors.Tensor, srcRank int) (*tensors.Tensor, error) {
	if srcRank < 0 || srcRank >= c.hub.worldSize {
		return nil, &strategies.CollectiveError{Op: "Broadcast", Rank: c.rank,
			Reason: fmt.Sprintf("source rank %d out of range, world size is %d", srcRank, c.hub.worldSize)}
	}
	if c.rank == srcRank && t == nil {
		return nil, &strategies.CollectiveError{Op: "Broadcast", Rank: c.rank,
			Reason: "source rank must contribute a tensor"}
	}
	// The source rank is part of the signature: units disagreeing on the source
	// is a collective mismatch, not a silent wrong answer.
	signature := "broadcast:" + strconv.Itoa(srcRank)
	return c.hub.exchange(context.Background(), signature, c.rank, t,
		func(entries []*tensors.Tensor) ([]*tensors.Tensor, error) {
			source := entries[srcRank]
			if source == nil {
				return nil, &strategies.CollectiveError{Op: "Broadcast", Rank: srcRank,
					Reason: "source rank contributed no tensor"}
			}
			results := make([]*tensors.Tensor, len(entries))
			for rank := range results {
				if rank == srcRank {
					results[rank] = source
					continue
				}
				results[rank] = source.Clone()
			}
			return results, nil
		})
}

func (c *comm) Close() error {
	c.hub.detach(c.rank)
	return nil
}

// checkShapes verifies all contributions share dtype and dimensions.
func checkShapes(op string, entries []*tensors.Tensor) error {
	first := entries[0]
	for rank, entry := range entries {
		if entry == nil {
			return &strategies.CollectiveError{Op: op, Rank: rank, Reason: "nil tensor contributed"}
		}
		if !first.SameShape(entry) {
			return &strategies.CollectiveError{Op: op, Rank: rank,
				Reason: fmt.Sprintf("shape mismatch: rank 0 contributed %s, rank %d contributed %s",
					first, rank, entry)}
		}
	}
	return nil
}

// fanOut delivers the same value to every rank. Each non-zero rank receives its
// own clone so no two workers alias the same storage.
func fanOut(result *tensors.Tensor, worldSize int) []*tensors.Tensor {
	results := make([]*tensors.Tensor, worldSize)
	results[0] = result
	for rank := 1; rank < worldSize; rank++ {
		results[rank] = result.Clone()
	}
	return results
}
