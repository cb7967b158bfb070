// Package multiworker implements an in-process multi-unit strategy variant: N
// worker goroutines on one host, each driving its own Strategy instance, with
// the collective operations rendezvousing through a shared Hub.
//
// It implements the real collective contract: every participating unit must
// issue the same collective, in the same program order, with compatible
// arguments, or the step fails for all of them; no unit proceeds past a Barrier
// until all have arrived; AllGather results are ordered by rank and identical
// everywhere; Broadcast delivery is bit-identical. Cross-host transport is out
// of scope: this variant covers data parallelism within one process, and serves
// as the executable reference for what any networked variant must guarantee.
package multiworker

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/gradflow/gradflow/strategies"
	"github.com/gradflow/gradflow/tensors"
)

// Hub is the rendezvous point shared by all workers of one topology. It pairs
// up the collective calls issued by each worker's control thread: a round opens
// when the first worker arrives at a collective and completes when the last one
// does, delivering the result to every worker before any of them proceeds.
type Hub struct {
	worldSize int

	mu      sync.Mutex
	current *round
	left    map[int]bool // Ranks that closed their endpoint.
	workers []*Strategy
}

// round is one in-flight collective: contributions from each rank, and the
// completion channel every waiter blocks on.
type round struct {
	signature string
	entries   []*tensors.Tensor
	present   []bool
	arrived   int
	done      chan struct{}

	// Set before done is closed:
	results []*tensors.Tensor
	err     error
}

// NewHub creates the topology: worldSize worker strategies sharing one
// rendezvous. Worker strategies are retrieved with Hub.Strategy and each must
// be driven by its own control thread (the per-strategy single-caller rule
// still holds per worker).
//
// Each worker's root device takes its kind from opts.Device: accelerator kinds
// are dealt out by rank (worker r gets kind:r), the CPU is shared.
func NewHub(worldSize int, opts strategies.Options) (*Hub, error) {
	if worldSize < 1 {
		return nil, errors.Errorf("multiworker topology requires world size >= 1, got %d", worldSize)
	}
	h := &Hub{
		worldSize: worldSize,
		left:      make(map[int]bool),
	}
	h.workers = make([]*Strategy, worldSize)
	for rank := range h.workers {
		h.workers[rank] = newWorker(h, rank, opts)
	}
	return h, nil
}

// WorldSize of the topology.
func (h *Hub) WorldSize() int { return h.worldSize }

// Strategy returns the strategy instance for the given global rank.
func (h *Hub) Strategy(rank int) *Strategy {
	if rank < 0 || rank >= h.worldSize {
		panic(errors.Errorf("multiworker rank %d out of range, world size is %d", rank, h.worldSize))
	}
	return h.workers[rank]
}

// Strategies returns all worker strategies, ordered by rank.
func (h *Hub) Strategies() []*Strategy {
	return append([]*Strategy(nil), h.workers...)
}

// exchange runs one collective round for the calling rank: it contributes t
// (nil for Barrier and for non-source Broadcast ranks), blocks until all ranks
// have arrived at a collective with the same signature, and returns the result
// delivered to this rank.
//
// Failure of the round (signature mismatch, shape mismatch, a rank leaving, ctx
// cancellation at any rank) is delivered to every participant; no partial
// result is ever returned.
func (h *Hub) exchange(ctx context.Context, signature string, rank int, t *tensors.Tensor,
	fold func(entries []*tensors.Tensor) ([]*tensors.Tensor, error)) (*tensors.Tensor, error) {

	h.mu.Lock()
	if h.left[rank] {
		h.mu.Unlock()
		return nil, &strategies.CollectiveError{Op: signature, Rank: rank,
			Reason: "endpoint already closed"}
	}
	if len(h.left) > 0 {
		h.mu.Unlock()
		return nil, &strategies.CollectiveError{Op: signature, Rank: rank,
			Reason: fmt.Sprintf("%d rank(s) have left the topology", len(h.left))}
	}
	r := h.current
	if r == nil {
		r = &round{
			signature: signature,
			entries:   make([]*tensors.Tensor, h.worldSize),
			present:   make([]bool, h.worldSize),
			done:      make(chan struct{}),
		}
		h.current = r
	}
	if r.signature != signature {
		// Program-order divergence across units: this is the hard contract
		// violation every unit must observe.
		h.failLocked(r, &strategies.CollectiveError{Op: signature, Rank: rank,
			Reason: fmt.Sprintf("collective mismatch: this rank issued %q while the in-flight round is %q",
				signature, r.signature)})
		h.mu.Unlock()
		return nil, r.err
	}
	if r.present[rank] {
		h.failLocked(r, &strategies.CollectiveError{Op: signature, Rank: rank,
			Reason: "rank arrived twice at the same collective round"})
		h.mu.Unlock()
		return nil, r.err
	}
	r.entries[rank] = t
	r.present[rank] = true
	r.arrived++
	if r.arrived == h.worldSize {
		// Last to arrive computes and releases everyone.
		results, err := fold(r.entries)
		if err != nil {
			h.failLocked(r, err)
			h.mu.Unlock()
			return nil, r.err
		}
		r.results = results
		h.current = nil
		close(r.done)
		h.mu.Unlock()
		return results[rank], nil
	}
	h.mu.Unlock()

	select {
	case <-r.done:
	case <-ctx.Done():
		h.mu.Lock()
		// The round may have completed while we noticed the cancellation.
		select {
		case <-r.done:
		default:
			h.failLocked(r, &strategies.CollectiveError{Op: signature, Rank: rank,
				Reason: fmt.Sprintf("canceled while waiting for peers: %v", ctx.Err())})
		}
		h.mu.Unlock()
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.results[rank], nil
}

// failLocked marks the round failed and releases every waiter with the error.
// h.mu must be held.
func (h *Hub) failLocked(r *round, err error) {
	if r.err == nil {
		r.err = err
	}
	if h.current == r {
		h.current = nil
	}
	select {
	case <-r.done:
	default:
		close(r.done)
	}
}

// detach removes a rank from the topology. A collective left in flight fails
// for every waiting peer: a departed rank can never arrive.
func (h *Hub) detach(rank int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.left[rank] {
		return
	}
	h.left[rank] = true
	if r := h.current; r != nil {
		h.failLocked(r, &strategies.CollectiveError{Op: r.signature, Rank: rank,
			Reason: "rank left the topology during the collective"})
	}
}
