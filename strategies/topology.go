package strategies

import "fmt"

// Topology describes one execution unit's identity within the set of units
// participating in training: its global rank across all units, its local rank
// within its host, and the world size (total number of units). Immutable for the
// lifetime of a strategy.
//
// For a single-unit topology GlobalRank == LocalRank == 0 and WorldSize == 1,
// always: this is a fixed property of that variant, not configuration.
type Topology struct {
	// GlobalRank of this unit across all participating units, in [0, WorldSize).
	GlobalRank int

	// LocalRank of this unit within its host.
	LocalRank int

	// WorldSize is the total number of participating units, >= 1.
	WorldSize int
}

// SingleUnit is the fixed topology of any single-unit variant.
var SingleUnit = Topology{GlobalRank: 0, LocalRank: 0, WorldSize: 1}

// IsSingleUnit reports whether this topology has exactly one participating unit.
func (t Topology) IsSingleUnit() bool { return t.WorldSize == 1 }

func (t Topology) String() string {
	return fmt.Sprintf("rank %d/%d (local %d)", t.GlobalRank, t.WorldSize, t.LocalRank)
}
