package model

import (
	"fmt"
)

// This file contains the padding and output shape arithmetic shared by the MIL
// convolution and pooling operations. Shapes cover only the spatial axes.
//
// The padding types follow the MIL ops reference:
// https://apple.github.io/coremltools/docs-guides/source/ops-reference.html

// ConvPadType represents convolution/pooling padding type.
type ConvPadType int

const (
	// ConvPadValid means no padding (only valid positions).
	ConvPadValid ConvPadType = iota
	// ConvPadSame pads so that the output size is ceil(input/stride).
	// When the total padding is odd, the extra element goes after.
	ConvPadSame
	// ConvPadCustom means custom padding specified as (before, after) pairs per axis.
	ConvPadCustom
	// ConvPadSameLower is like ConvPadSame, but the extra element goes before.
	ConvPadSameLower
)

var convPadTypeNames = map[ConvPadType]string{
	ConvPadValid:     "valid",
	ConvPadSame:      "same",
	ConvPadCustom:    "custom",
	ConvPadSameLower: "same_lower",
}

// String returns the MIL name of the padding type, e.g. "same".
func (p ConvPadType) String() string {
	if name, ok := convPadTypeNames[p]; ok {
		return name
	}
	return fmt.Sprintf("ConvPadType(%d)", int(p))
}

// ParseConvPadType converts a MIL pad_type string ("valid", "same", "same_lower" or "custom")
// to a ConvPadType.
func ParseConvPadType(name string) (ConvPadType, error) {
	for padType, padName := range convPadTypeNames {
		if padName == name {
			return padType, nil
		}
	}
	return ConvPadValid, validationErrorf("invalid padding pad_type %q, expected one of valid, same, same_lower or custom", name)
}

// EffectiveKernel returns the kernel extent along each spatial axis once dilation is applied:
//
//	effective[i] = dilations[i] * (kernelShape[i] - 1) + 1
func EffectiveKernel(kernelShape, dilations []int64) ([]int64, error) {
	if len(dilations) != len(kernelShape) {
		return nil, validationErrorf("kernel_shape and dilations must have the same length, got kernel_shape=%v (length %d) and dilations=%v (length %d)",
			kernelShape, len(kernelShape), dilations, len(dilations))
	}
	effective := make([]int64, len(kernelShape))
	for i, k := range kernelShape {
		effective[i] = dilations[i]*(k-1) + 1
	}
	return effective, nil
}

// AggregatedPad returns the total padding (before + after) for each spatial axis.
//
// A nil slice means the parameter was not given. Which parameters are required
// depends on padType:
//
//   - ConvPadValid: only kernelShape; the result is all zeros.
//   - ConvPadCustom: customPad, with 2 values (before, after) per axis.
//   - ConvPadSame, ConvPadSameLower: inputShape and strides. dilations defaults to all ones.
//
// If given, dilations must have the same rank as kernelShape for every padType.
func AggregatedPad(padType ConvPadType, kernelShape, inputShape, strides, dilations, customPad []int64) ([]int64, error) {
	rank := len(kernelShape)
	if dilations != nil && len(dilations) != rank {
		return nil, validationErrorf("dilations must have same length as kernel_shape (%d), got dilations=%v", rank, dilations)
	}

	switch padType {
	case ConvPadValid:
		return make([]int64, rank), nil

	case ConvPadCustom:
		if customPad == nil || len(customPad) != 2*rank {
			return nil, validationErrorf("invalid custom_pad %v: expected %d values, a (before, after) pair for each of the %d spatial axes",
				customPad, 2*rank, rank)
		}
		pad := make([]int64, rank)
		for i := range pad {
			pad[i] = customPad[2*i] + customPad[2*i+1]
		}
		return pad, nil

	case ConvPadSame, ConvPadSameLower:
		if err := requireRank("input_shape", inputShape, rank); err != nil {
			return nil, err
		}
		if err := requireRank("strides", strides, rank); err != nil {
			return nil, err
		}
		if err := requirePositive("strides", strides); err != nil {
			return nil, err
		}
		if dilations == nil {
			dilations = ones(rank)
		}
		effective, err := EffectiveKernel(kernelShape, dilations)
		if err != nil {
			return nil, err
		}
		pad := make([]int64, rank)
		for i := range pad {
			outSize := ceilDiv(inputShape[i], strides[i])
			pad[i] = max(0, (outSize-1)*strides[i]+effective[i]-inputShape[i])
		}
		return pad, nil

	default:
		return nil, validationErrorf("invalid padding pad_type %s", padType)
	}
}

// SpatialOutputShape returns the output size along each spatial axis of a convolution-like operation:
//
//	out[i] = floor((inputShape[i] + pad[i] - effectiveKernel[i]) / strides[i]) + 1
//
// where pad is given by AggregatedPad. inputShape and strides are required for every padType.
func SpatialOutputShape(padType ConvPadType, inputShape, kernelShape, strides, dilations, customPad []int64) ([]int64, error) {
	return spatialOutputShape(padType, inputShape, kernelShape, strides, dilations, customPad, false)
}

// SpatialOutputShapeCeil is SpatialOutputShape for pooling with ceil_mode enabled: the
// division is rounded up, as long as the last window still starts inside the input or
// the padding before it.
func SpatialOutputShapeCeil(padType ConvPadType, inputShape, kernelShape, strides, dilations, customPad []int64) ([]int64, error) {
	return spatialOutputShape(padType, inputShape, kernelShape, strides, dilations, customPad, true)
}

func spatialOutputShape(padType ConvPadType, inputShape, kernelShape, strides, dilations, customPad []int64, ceilMode bool) ([]int64, error) {
	pad, err := AggregatedPad(padType, kernelShape, inputShape, strides, dilations, customPad)
	if err != nil {
		return nil, err
	}
	rank := len(kernelShape)
	if err := requireRank("input_shape", inputShape, rank); err != nil {
		return nil, err
	}
	if err := requireRank("strides", strides, rank); err != nil {
		return nil, err
	}
	if err := requirePositive("strides", strides); err != nil {
		return nil, err
	}
	if dilations == nil {
		dilations = ones(rank)
	}
	effective, err := EffectiveKernel(kernelShape, dilations)
	if err != nil {
		return nil, err
	}

	var split []int64
	if ceilMode {
		split = splitAggregatedPad(padType, pad, customPad)
	}

	outShape := make([]int64, rank)
	for i := range outShape {
		span := inputShape[i] + pad[i] - effective[i]
		if !ceilMode {
			outShape[i] = floorDiv(span, strides[i]) + 1
			continue
		}
		outShape[i] = ceilDiv(span, strides[i]) + 1
		// The last window must not start in the padding after the input.
		if (outShape[i]-1)*strides[i] >= inputShape[i]+split[2*i] {
			outShape[i]--
		}
	}
	return outShape, nil
}

// SplitPad returns the explicit padding of each spatial axis, in the MIL "pad" layout
// [before_0, after_0, before_1, after_1, ...]. Parameters are as in AggregatedPad.
func SplitPad(padType ConvPadType, kernelShape, inputShape, strides, dilations, customPad []int64) ([]int64, error) {
	pad, err := AggregatedPad(padType, kernelShape, inputShape, strides, dilations, customPad)
	if err != nil {
		return nil, err
	}
	return splitAggregatedPad(padType, pad, customPad), nil
}

// splitAggregatedPad distributes the total padding of each axis. padType must already be validated.
func splitAggregatedPad(padType ConvPadType, pad, customPad []int64) []int64 {
	split := make([]int64, 2*len(pad))
	switch padType {
	case ConvPadCustom:
		copy(split, customPad)
	case ConvPadSame:
		for i, total := range pad {
			split[2*i] = total / 2
			split[2*i+1] = total - total/2
		}
	case ConvPadSameLower:
		for i, total := range pad {
			split[2*i] = total - total/2
			split[2*i+1] = total / 2
		}
	}
	return split
}

// InterleavePad flattens per-axis padding into the MIL "pad" layout
// [before_0, after_0, before_1, after_1, ...], as used for ConvPadCustom.
func InterleavePad(padBefore, padAfter []int64) ([]int64, error) {
	if len(padBefore) != len(padAfter) {
		return nil, validationErrorf("pad_before and pad_after must have the same length, got %v and %v", padBefore, padAfter)
	}
	pad := make([]int64, 2*len(padBefore))
	for i := range padBefore {
		pad[2*i] = padBefore[i]
		pad[2*i+1] = padAfter[i]
	}
	return pad, nil
}

func requireRank(name string, shape []int64, rank int) error {
	if shape == nil {
		return validationErrorf("%s cannot be nil", name)
	}
	if len(shape) != rank {
		return validationErrorf("%s must have same length as kernel_shape (%d), got %s=%v", name, rank, name, shape)
	}
	return nil
}

func requirePositive(name string, values []int64) error {
	for i, v := range values {
		if v <= 0 {
			return validationErrorf("%s must be positive, got %s[%d]=%d", name, name, i, v)
		}
	}
	return nil
}

func ones(rank int) []int64 {
	s := make([]int64, rank)
	for i := range s {
		s[i] = 1
	}
	return s
}

// floorDiv rounds towards negative infinity. d must be positive.
func floorDiv(n, d int64) int64 {
	q := n / d
	if n%d != 0 && n < 0 {
		q--
	}
	return q
}

// ceilDiv rounds towards positive infinity. d must be positive.
func ceilDiv(n, d int64) int64 {
	return -floorDiv(-n, d)
}
