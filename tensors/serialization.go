package tensors

import (
	"encoding/gob"
	"reflect"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// gobHeader is the shape prefix written before the flat data.
type gobHeader struct {
	DType dtypes.DType
	Dims  []int
}

// GobSerialize writes the tensor (shape then flat data) to the encoder.
func (t *Tensor) GobSerialize(encoder *gob.Encoder) error {
	if t == nil {
		return errors.New("cannot serialize nil Tensor")
	}
	err := encoder.Encode(gobHeader{DType: t.dtype, Dims: t.dims})
	if err != nil {
		return errors.Wrap(err, "failed to serialize Tensor shape")
	}
	err = encoder.Encode(t.flat)
	if err != nil {
		return errors.Wrap(err, "failed to serialize Tensor data")
	}
	return nil
}

// GobDeserialize reads one tensor written by GobSerialize.
func GobDeserialize(decoder *gob.Decoder) (*Tensor, error) {
	var header gobHeader
	err := decoder.Decode(&header)
	if err != nil {
		return nil, errors.Wrap(err, "failed to deserialize Tensor shape")
	}
	flatPtrV := reflect.New(reflect.SliceOf(header.DType.GoType()))
	err = decoder.Decode(flatPtrV.Interface())
	if err != nil {
		return nil, errors.Wrap(err, "failed to deserialize Tensor data")
	}
	flat := flatPtrV.Elem()
	t := &Tensor{
		dtype: header.DType,
		dims:  header.Dims,
		flat:  flat.Interface(),
	}
	if flat.Len() != t.Size() {
		return nil, errors.Errorf("deserialized Tensor has %d values, dimensions %v require %d",
			flat.Len(), header.Dims, t.Size())
	}
	return t, nil
}
