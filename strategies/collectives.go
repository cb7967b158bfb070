package strategies

import "strconv"

// ReduceOp selects among the basic reduction operators used by Strategy.Reduce.
// All of them are commutative and associative (Mean is Sum followed by division by
// the world size), so the result of a cross-unit reduction is independent of the
// order units are folded in.
type ReduceOp int

const (
	// ReduceUndefined is an undefined value.
	ReduceUndefined ReduceOp = iota

	// ReduceSum adds the contributions of every unit.
	ReduceSum

	// ReduceMean averages the contributions of every unit.
	ReduceMean

	// ReduceMax takes the element-wise maximum.
	ReduceMax

	// ReduceMin takes the element-wise minimum.
	ReduceMin

	// ReduceProd multiplies the contributions of every unit.
	ReduceProd
)

var reduceOpNames = [...]string{"undefined", "sum", "mean", "max", "min", "prod"}

func (op ReduceOp) String() string {
	if op < 0 || int(op) >= len(reduceOpNames) {
		return "invalid_reduce_op(" + strconv.Itoa(int(op)) + ")"
	}
	return reduceOpNames[op]
}

// GatherOptions configures Strategy.AllGather.
type GatherOptions struct {
	// Group restricts the gather to the listed global ranks. Empty means all units.
	// Single-unit variants accept and ignore it.
	Group []int

	// SyncGrads requests that gradients flow through the gathered result. Only
	// meaningful for runtimes with autograd; single-unit variants accept and
	// ignore it.
	SyncGrads bool
}
