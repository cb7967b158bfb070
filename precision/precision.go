// Package precision implements the numeric-precision port consulted by
// training collaborators: the policy deciding which dtype tensors use during
// computation versus at rest.
//
// Two policies are provided: Full32 (no casting, the default) and Float16
// (mixed precision, float32 storage with float16 compute, converted through
// github.com/x448/float16). The strategies themselves never invoke the port;
// they carry it for the orchestrator and its collaborators.
package precision

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/gradflow/gradflow/strategies"
	"github.com/gradflow/gradflow/tensors"
)

// Full32 is the full-precision policy: both casts are the identity.
type Full32 struct{}

var _ strategies.Precision = Full32{}

// Name implements strategies.Precision.
func (Full32) Name() string { return "32-true" }

// CastForCompute implements strategies.Precision.
func (Full32) CastForCompute(t *tensors.Tensor) (*tensors.Tensor, error) { return t, nil }

// CastForStorage implements strategies.Precision.
func (Full32) CastForStorage(t *tensors.Tensor) (*tensors.Tensor, error) { return t, nil }

// Float16 is the mixed-precision policy: float32 tensors are computed on in
// float16 and stored in float32. Tensors of any other dtype pass through
// unchanged in both directions.
type Float16 struct{}

var _ strategies.Precision = Float16{}

// Name implements strategies.Precision.
func (Float16) Name() string { return "16-mixed" }

// CastForCompute implements strategies.Precision: float32 down to float16.
func (Float16) CastForCompute(t *tensors.Tensor) (*tensors.Tensor, error) {
	if t == nil {
		return nil, errors.New("cannot cast nil tensor")
	}
	if t.DType() != dtypes.Float32 {
		return t, nil
	}
	out := tensors.FromShape(dtypes.Float16, t.Dimensions()...)
	tensors.ConstFlatData(t, func(from []float32) {
		tensors.MutableFlatData(out, func(to []float16.Float16) {
			for ii, v := range from {
				to[ii] = float16.Fromfloat32(v)
			}
		})
	})
	return out, nil
}

// CastForStorage implements strategies.Precision: float16 back up to float32.
func (Float16) CastForStorage(t *tensors.Tensor) (*tensors.Tensor, error) {
	if t == nil {
		return nil, errors.New("cannot cast nil tensor")
	}
	if t.DType() != dtypes.Float16 {
		return t, nil
	}
	out := tensors.FromShape(dtypes.Float32, t.Dimensions()...)
	tensors.ConstFlatData(t, func(from []float16.Float16) {
		tensors.MutableFlatData(out, func(to []float32) {
			for ii, v := range from {
				to[ii] = v.Float32()
			}
		})
	})
	return out, nil
}
