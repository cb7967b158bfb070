package multiworker

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/gradflow/gradflow/strategies"
	"github.com/gradflow/gradflow/tensors"
)

// number constrains the dtypes the element-wise reductions operate on.
type number interface {
	~float32 | ~float64 | ~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

// reduceTensors folds the per-rank contributions element-wise under op. All
// entries have already been shape-checked. The operators are commutative and
// associative, so the rank-order fold used here yields the same result as any
// other order; Mean is Sum followed by division by the world size (in the
// integer domain for integer dtypes).
func reduceTensors(entries []*tensors.Tensor, op strategies.ReduceOp) (*tensors.Tensor, error) {
	switch entries[0].DType() {
	case dtypes.Float32:
		return reduceTyped[float32](entries, op)
	case dtypes.Float64:
		return reduceTyped[float64](entries, op)
	case dtypes.Int8:
		return reduceTyped[int8](entries, op)
	case dtypes.Int16:
		return reduceTyped[int16](entries, op)
	case dtypes.Int32:
		return reduceTyped[int32](entries, op)
	case dtypes.Int64:
		return reduceTyped[int64](entries, op)
	case dtypes.Uint8:
		return reduceTyped[uint8](entries, op)
	case dtypes.Uint16:
		return reduceTyped[uint16](entries, op)
	case dtypes.Uint32:
		return reduceTyped[uint32](entries, op)
	case dtypes.Uint64:
		return reduceTyped[uint64](entries, op)
	}
	return nil, errors.Errorf("reduce not supported for dtype %s", entries[0].DType())
}

func reduceTyped[T interface {
	number
	dtypes.Supported
}](entries []*tensors.Tensor, op strategies.ReduceOp) (*tensors.Tensor, error) {
	result := entries[0].Clone()
	var failure error
	tensors.MutableFlatData(result, func(acc []T) {
		for _, entry := range entries[1:] {
			tensors.ConstFlatData(entry, func(flat []T) {
				switch op {
				case strategies.ReduceSum, strategies.ReduceMean:
					for ii, v := range flat {
						acc[ii] += v
					}
				case strategies.ReduceProd:
					for ii, v := range flat {
						acc[ii] *= v
					}
				case strategies.ReduceMax:
					for ii, v := range flat {
						if v > acc[ii] {
							acc[ii] = v
						}
					}
				case strategies.ReduceMin:
					for ii, v := range flat {
						if v < acc[ii] {
							acc[ii] = v
						}
					}
				default:
					failure = errors.Errorf("unknown reduce operator %s", op)
				}
			})
			if failure != nil {
				return
			}
		}
		if op == strategies.ReduceMean {
			worldSize := T(len(entries))
			for ii := range acc {
				acc[ii] /= worldSize
			}
		}
	})
	if failure != nil {
		return nil, failure
	}
	return result, nil
}
