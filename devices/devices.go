// Package devices defines the Device descriptor used by the execution strategies to
// identify where a model's parameters and computations must reside, and the Probe
// capability used to query hardware availability.
//
// A Device is a (Kind, Index) pair: "cuda:1" is the second visible CUDA device, "cpu"
// is the host with no particular index. Devices are immutable value types.
//
// Hardware availability is never queried through a global: it is always a Probe
// injected by whoever constructs a strategy, so tests can substitute a fake answer
// without touching real devices. DefaultProbe gives the process-environment answer.
package devices

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Kind enumerates the supported device kinds.
type Kind int

const (
	// CPU is host memory and compute. Always available.
	CPU Kind = iota

	// CUDA is an Nvidia-style GPU device.
	CUDA

	// TPU is an XLA-addressed accelerator device.
	TPU
)

// kindNames must be kept in sync with the Kind constants.
var kindNames = [...]string{"cpu", "cuda", "tpu"}

// String returns the lower-case name of the kind, e.g. "cuda".
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "invalid_kind(" + strconv.Itoa(int(k)) + ")"
	}
	return kindNames[k]
}

// IsAccelerator returns whether the kind refers to a non-CPU device, for which
// device memory must be explicitly managed.
func (k Kind) IsAccelerator() bool {
	return k != CPU
}

// KindFromString converts a name ("cpu", "cuda", "tpu") back to a Kind.
func KindFromString(name string) (Kind, error) {
	for ii, kindName := range kindNames {
		if kindName == name {
			return Kind(ii), nil
		}
	}
	return 0, errors.Errorf("unknown device kind %q, valid values are %v", name, kindNames)
}

// Kinds returns all the known device kinds.
func Kinds() []Kind {
	all := make([]Kind, len(kindNames))
	for ii := range all {
		all[ii] = Kind(ii)
	}
	return all
}

// Index optionally selects one device among the visible devices of a Kind.
// The zero value is "no index": the device kind as a whole, with no particular unit
// selected (the usual case for "cpu"). Use NewIndex to select a concrete unit.
type Index struct {
	value int
	valid bool
}

// NoIndex is the absent index.
var NoIndex = Index{}

// NewIndex returns an Index selecting the device numbered idx (0-based).
func NewIndex(idx int) Index {
	return Index{value: idx, valid: true}
}

// HasValue reports whether a concrete device number was selected.
func (idx Index) HasValue() bool { return idx.valid }

// Value returns the selected device number. It is only meaningful if HasValue.
func (idx Index) Value() int { return idx.value }

// OrZero returns the selected device number, defaulting to 0 if no index was selected.
func (idx Index) OrZero() int {
	if !idx.valid {
		return 0
	}
	return idx.value
}

func (idx Index) String() string {
	if !idx.valid {
		return ""
	}
	return strconv.Itoa(idx.value)
}

// Device identifies one physical or logical execution unit: a kind plus an optional
// index among the visible devices of that kind. Immutable once constructed.
type Device struct {
	Kind  Kind
	Index Index
}

// New returns the device of the given kind and concrete index.
func New(kind Kind, idx int) Device {
	return Device{Kind: kind, Index: NewIndex(idx)}
}

// NewAnyIndex returns the device of the given kind with no particular index selected.
func NewAnyIndex(kind Kind) Device {
	return Device{Kind: kind, Index: NoIndex}
}

// String renders the device in the "kind:index" format parsed by Parse, e.g. "cuda:0",
// or just the kind name if no index was selected.
func (d Device) String() string {
	if !d.Index.HasValue() {
		return d.Kind.String()
	}
	return d.Kind.String() + ":" + d.Index.String()
}

// Parse converts a "kind" or "kind:index" string ("cpu", "cuda:1") to a Device.
func Parse(text string) (Device, error) {
	kindPart := text
	indexPart := ""
	if idx := strings.Index(text, ":"); idx != -1 {
		kindPart = text[:idx]
		indexPart = text[idx+1:]
	}
	kind, err := KindFromString(kindPart)
	if err != nil {
		return Device{}, errors.WithMessagef(err, "parsing device %q", text)
	}
	if indexPart == "" {
		return NewAnyIndex(kind), nil
	}
	value, err := strconv.Atoi(indexPart)
	if err != nil {
		return Device{}, errors.Wrapf(err, "parsing device %q: invalid index %q", text, indexPart)
	}
	if value < 0 {
		return Device{}, errors.Errorf("parsing device %q: index must be non-negative, got %d", text, value)
	}
	return New(kind, value), nil
}
