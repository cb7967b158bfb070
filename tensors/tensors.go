// Package tensors implements the host-resident tensor values moved around by the
// execution strategies: the values fed to the collective operations (reduce, gather,
// broadcast) and saved/loaded by the checkpoint port.
//
// These are deliberately host-only: device residency is the strategy's concern, not
// the tensor's. The DType enumeration comes from github.com/gomlx/gopjrt/dtypes, the
// same one used by the XLA-based runtimes, so values round-trip without conversion.
package tensors

import (
	"fmt"
	"reflect"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Tensor is an immutable-shape, host-backed n-dimensional array. The zero value is
// invalid; use FromFlat, FromScalar or FromShape.
//
// The flat data is owned by the Tensor. MutableFlatData hands it out for in-place
// initialization; after a tensor has been handed to a collective operation it must be
// treated as read-only.
type Tensor struct {
	dtype dtypes.DType
	dims  []int
	flat  any // Slice of the Go type corresponding to dtype, of length Size().
}

// FromShape returns a tensor of the given dtype and dimensions, zero-initialized.
// A tensor with no dimensions is a scalar.
func FromShape(dtype dtypes.DType, dims ...int) *Tensor {
	size := 1
	for _, dim := range dims {
		if dim <= 0 {
			panic(errors.Errorf("tensors.FromShape: invalid dimension %d in %v", dim, dims))
		}
		size *= dim
	}
	flatV := reflect.MakeSlice(reflect.SliceOf(dtype.GoType()), size, size)
	return &Tensor{
		dtype: dtype,
		dims:  append([]int(nil), dims...),
		flat:  flatV.Interface(),
	}
}

// FromFlat creates a tensor of the given dimensions from the flattened values, which
// are copied. The product of the dimensions must match len(flat).
func FromFlat[T dtypes.Supported](flat []T, dims ...int) *Tensor {
	t := FromShape(dtypes.FromGenericsType[T](), dims...)
	if len(flat) != t.Size() {
		panic(errors.Errorf("tensors.FromFlat: %d values given for dimensions %v (size %d)",
			len(flat), dims, t.Size()))
	}
	copy(t.flat.([]T), flat)
	return t
}

// FromScalar creates a scalar (rank-0) tensor holding the given value.
func FromScalar[T dtypes.Supported](value T) *Tensor {
	t := FromShape(dtypes.FromGenericsType[T]())
	t.flat.([]T)[0] = value
	return t
}

// DType of the tensor elements.
func (t *Tensor) DType() dtypes.DType { return t.dtype }

// Rank is the number of axes. Scalars are rank 0.
func (t *Tensor) Rank() int { return len(t.dims) }

// Dimensions returns a copy of the tensor dimensions.
func (t *Tensor) Dimensions() []int {
	return append([]int(nil), t.dims...)
}

// Size is the number of elements (1 for scalars).
func (t *Tensor) Size() int {
	size := 1
	for _, dim := range t.dims {
		size *= dim
	}
	return size
}

// Memory is the number of bytes used to store the tensor data.
func (t *Tensor) Memory() uintptr {
	return t.dtype.Memory() * uintptr(t.Size())
}

// SameShape reports whether other has the same dtype and dimensions.
func (t *Tensor) SameShape(other *Tensor) bool {
	if t.dtype != other.dtype || len(t.dims) != len(other.dims) {
		return false
	}
	for ii, dim := range t.dims {
		if other.dims[ii] != dim {
			return false
		}
	}
	return true
}

// ConstFlatData calls accessFn with the flattened data as a slice of the Go type
// corresponding to the DType. The slice is the tensor's own storage, not a copy, and
// must not be modified.
func (t *Tensor) ConstFlatData(accessFn func(flat any)) {
	accessFn(t.flat)
}

// MutableFlatData is like ConstFlatData but the data may be written to.
func (t *Tensor) MutableFlatData(accessFn func(flat any)) {
	accessFn(t.flat)
}

// ConstFlatData is the typed version of Tensor.ConstFlatData. It panics if T doesn't
// match the tensor's dtype.
func ConstFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	want := dtypes.FromGenericsType[T]()
	if t.dtype != want {
		panic(errors.Errorf("tensors.ConstFlatData[%s] called on %s tensor", want, t.dtype))
	}
	accessFn(t.flat.([]T))
}

// MutableFlatData is the typed version of Tensor.MutableFlatData. It panics if T
// doesn't match the tensor's dtype.
func MutableFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	want := dtypes.FromGenericsType[T]()
	if t.dtype != want {
		panic(errors.Errorf("tensors.MutableFlatData[%s] called on %s tensor", want, t.dtype))
	}
	accessFn(t.flat.([]T))
}

// ToScalar returns the value of a size-1 tensor. It panics on larger tensors or a
// dtype mismatch.
func ToScalar[T dtypes.Supported](t *Tensor) T {
	if t.Size() != 1 {
		panic(errors.Errorf("tensors.ToScalar called on tensor of size %d", t.Size()))
	}
	var value T
	ConstFlatData(t, func(flat []T) { value = flat[0] })
	return value
}

// Clone returns a deep copy: same dtype and dimensions, freshly owned storage.
func (t *Tensor) Clone() *Tensor {
	clone := FromShape(t.dtype, t.dims...)
	reflect.Copy(reflect.ValueOf(clone.flat), reflect.ValueOf(t.flat))
	return clone
}

// Equal reports whether both tensors have the same shape, dtype and element values.
// NaN elements compare by bit pattern, not IEEE semantics, so a tensor equals its clone.
func (t *Tensor) Equal(other *Tensor) bool {
	if other == nil {
		return false
	}
	if !t.SameShape(other) {
		return false
	}
	return reflect.DeepEqual(t.flat, other.flat)
}

// String renders the shape and, for small tensors, the values.
func (t *Tensor) String() string {
	if t.Size() <= 16 {
		return fmt.Sprintf("(%s)%v: %v", t.dtype, t.dims, t.flat)
	}
	return fmt.Sprintf("(%s)%v: (%d values)", t.dtype, t.dims, t.Size())
}

// Stack concatenates the given same-shaped tensors along a new leading axis: N
// tensors of dimensions [d...] become one tensor of dimensions [N, d...]. The inputs
// are copied, never aliased.
func Stack(parts []*Tensor) (*Tensor, error) {
	if len(parts) == 0 {
		return nil, errors.New("tensors.Stack: no tensors given")
	}
	first := parts[0]
	for ii, part := range parts[1:] {
		if !first.SameShape(part) {
			return nil, errors.Errorf("tensors.Stack: tensor %d has shape (%s)%v, want (%s)%v",
				ii+1, part.dtype, part.dims, first.dtype, first.dims)
		}
	}
	stacked := FromShape(first.dtype, append([]int{len(parts)}, first.dims...)...)
	stackedV := reflect.ValueOf(stacked.flat)
	partSize := first.Size()
	for ii, part := range parts {
		partV := reflect.ValueOf(part.flat)
		reflect.Copy(stackedV.Slice(ii*partSize, (ii+1)*partSize), partV)
	}
	return stacked, nil
}
