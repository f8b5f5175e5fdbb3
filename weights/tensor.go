// Package weights stores quantized constants packed with fewer than 8 bits per element.
//
// A PackedTensor holds the packed bytes produced by model.PackElementsIntoBits along with
// the shape and bit width needed to restore them. Tensors are encoded with the protobuf wire
// format, so they can be embedded in other protobuf messages or collected in an Archive.
package weights

import (
	"math"

	"github.com/gomlx/go-coreml-milutil/model"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the PackedTensor message.
const (
	fieldSigned     protowire.Number = 1
	fieldDimensions protowire.Number = 2
	fieldNBits      protowire.Number = 3
	fieldData       protowire.Number = 4
)

// PackedTensor is a tensor of 8-bit integers stored with NBits bits per element.
//
// Shape.DType is dtypes.Int8 for signed values or dtypes.Uint8 for unsigned ones,
// and Shape.Size() is the number of packed elements.
type PackedTensor struct {
	Shape shapes.Shape
	NBits int
	Data  []byte
}

// Pack packs values, in row-major order, into a PackedTensor of the given shape.
// The shape DType must match T: dtypes.Int8 for int8 values, dtypes.Uint8 for uint8 values.
func Pack[T model.Element](shape shapes.Shape, values []T, nbits int) (*PackedTensor, error) {
	if want := dtypeFor[T](); shape.DType != want {
		return nil, errors.Errorf("cannot pack %s values into shape %s", want, shape)
	}
	if len(values) != shape.Size() {
		return nil, errors.Errorf("cannot pack %d values into shape %s (size %d)", len(values), shape, shape.Size())
	}
	data, err := model.PackElementsIntoBits(values, nbits)
	if err != nil {
		return nil, errors.WithMessagef(err, "packing %s", shape)
	}
	return &PackedTensor{Shape: shape, NBits: nbits, Data: data}, nil
}

// Unpack restores the values of t, in row-major order.
// T must match the tensor dtype.
func Unpack[T model.Element](t *PackedTensor) ([]T, error) {
	if want := dtypeFor[T](); t.Shape.DType != want {
		return nil, errors.Errorf("cannot unpack tensor %s as %s", t.Shape, want)
	}
	values, err := model.RestoreElementsFromPackedBits[T](t.Data, t.NBits, t.Shape.Size(), t.Signed())
	if err != nil {
		return nil, errors.WithMessagef(err, "unpacking %s", t.Shape)
	}
	return values, nil
}

// Signed reports whether the packed values are two's complement signed integers.
func (t *PackedTensor) Signed() bool {
	return t.Shape.DType == dtypes.Int8
}

// Validate checks that the dtype, bit width and data size are consistent.
func (t *PackedTensor) Validate() error {
	if t.Shape.DType != dtypes.Int8 && t.Shape.DType != dtypes.Uint8 {
		return errors.Errorf("packed tensor must have dtype Int8 or Uint8, got shape %s", t.Shape)
	}
	if t.NBits < 1 || t.NBits > model.MaxPackedBits {
		return errors.Errorf("packed tensor nbits must be between 1 and %d, got %d", model.MaxPackedBits, t.NBits)
	}
	size, err := elementCount(t.Shape)
	if err != nil {
		return err
	}
	if size > math.MaxInt/t.NBits {
		return errors.Errorf("packed tensor %s with %d bits per element is too large", t.Shape, t.NBits)
	}
	if want := model.PackedByteCount(size, t.NBits); len(t.Data) != want {
		return errors.Errorf("packed tensor %s with %d bits per element needs %d bytes, got %d",
			t.Shape, t.NBits, want, len(t.Data))
	}
	return nil
}

// MarshalBinary encodes t as a protobuf message:
//
//	message PackedTensor {
//	  bool signed = 1;
//	  repeated uint64 dimensions = 2;
//	  uint32 nbits = 3;
//	  bytes data = 4;
//	}
func (t *PackedTensor) MarshalBinary() ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t.appendWire(nil), nil
}

func (t *PackedTensor) appendWire(b []byte) []byte {
	if t.Signed() {
		b = protowire.AppendTag(b, fieldSigned, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if t.Shape.Rank() > 0 {
		var dims []byte
		for _, dim := range t.Shape.Dimensions {
			dims = protowire.AppendVarint(dims, uint64(dim))
		}
		b = protowire.AppendTag(b, fieldDimensions, protowire.BytesType)
		b = protowire.AppendBytes(b, dims)
	}
	b = protowire.AppendTag(b, fieldNBits, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(t.NBits))
	b = protowire.AppendTag(b, fieldData, protowire.BytesType)
	b = protowire.AppendBytes(b, t.Data)
	return b
}

// UnmarshalBinary decodes a PackedTensor encoded by MarshalBinary. Unknown fields are skipped.
func (t *PackedTensor) UnmarshalBinary(b []byte) error {
	var (
		signed bool
		dims   []int
		nbits  uint64
		data   []byte
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "decoding packed tensor tag")
		}
		b = b[n:]

		switch {
		case num == fieldSigned && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			signed = v != 0
		case num == fieldDimensions && typ == protowire.BytesType:
			var packed []byte
			packed, n = protowire.ConsumeBytes(b)
			for len(packed) > 0 && n >= 0 {
				dim, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					n = m
					break
				}
				dims = append(dims, int(dim))
				packed = packed[m:]
			}
		case num == fieldDimensions && typ == protowire.VarintType:
			var dim uint64
			dim, n = protowire.ConsumeVarint(b)
			dims = append(dims, int(dim))
		case num == fieldNBits && typ == protowire.VarintType:
			nbits, n = protowire.ConsumeVarint(b)
		case num == fieldData && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			data = append([]byte(nil), v...)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return errors.Wrapf(protowire.ParseError(n), "decoding packed tensor field %d", num)
		}
		b = b[n:]
	}

	if nbits < 1 || nbits > model.MaxPackedBits {
		return errors.Errorf("decoding packed tensor: nbits must be between 1 and %d, got %d", model.MaxPackedBits, nbits)
	}
	dtype := dtypes.Uint8
	if signed {
		dtype = dtypes.Int8
	}
	decoded := PackedTensor{Shape: shapes.Shape{DType: dtype, Dimensions: dims}, NBits: int(nbits), Data: data}
	if err := decoded.Validate(); err != nil {
		return errors.WithMessage(err, "decoding packed tensor")
	}
	*t = decoded
	return nil
}

// elementCount returns the number of elements of shape, or an error if a dimension is
// negative or the product of the dimensions overflows an int.
func elementCount(shape shapes.Shape) (int, error) {
	size := 1
	for _, dim := range shape.Dimensions {
		if dim < 0 {
			return 0, errors.Errorf("packed tensor has invalid dimensions %v", shape.Dimensions)
		}
		if dim > 0 && size > math.MaxInt/dim {
			return 0, errors.Errorf("packed tensor dimensions %v overflow the number of elements", shape.Dimensions)
		}
		size *= dim
	}
	return size, nil
}

// dtypeFor returns dtypes.Int8 for signed element types and dtypes.Uint8 for unsigned ones.
func dtypeFor[T model.Element]() dtypes.DType {
	var zero T
	if ^zero < zero {
		return dtypes.Int8
	}
	return dtypes.Uint8
}
