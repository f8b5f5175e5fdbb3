package model

import (
	"testing"
)

// Spatial output shapes of common conv and pooling configurations, for NCHW inputs.

func TestConv2DOutputShape(t *testing.T) {
	// Input [1, 3, 32, 32], weight [16, 3, 3, 3], stride 1, valid padding.
	// Output size: (32 - 3) / 1 + 1 = 30
	outShape, err := SpatialOutputShape(ConvPadValid, []int64{32, 32}, []int64{3, 3}, []int64{1, 1}, []int64{1, 1}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkShape(t, outShape, []int64{30, 30})
}

func TestConv2DSamePaddingOutputShape(t *testing.T) {
	// With SAME padding and stride 1, output shape should equal input spatial dims.
	outShape, err := SpatialOutputShape(ConvPadSame, []int64{32, 32}, []int64{3, 3}, []int64{1, 1}, []int64{1, 1}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkShape(t, outShape, []int64{32, 32})

	pad, err := SplitPad(ConvPadSame, []int64{3, 3}, []int64{32, 32}, []int64{1, 1}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkShape(t, pad, []int64{1, 1, 1, 1})
}

func TestConv2DCustomPaddingOutputShape(t *testing.T) {
	// Weight [16, 3, 5, 5] with 2 pixels of padding on each side.
	// Output size: (32 + 2 + 2 - 5) / 1 + 1 = 32
	customPad, err := InterleavePad([]int64{2, 2}, []int64{2, 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	outShape, err := SpatialOutputShape(ConvPadCustom, []int64{32, 32}, []int64{5, 5}, []int64{1, 1}, nil, customPad)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkShape(t, outShape, []int64{32, 32})
}

func TestConv2DDilationOutputShape(t *testing.T) {
	// 3x3 kernel with dilation 2 has an effective size of 5.
	// Output size: (32 - 5) / 1 + 1 = 28
	outShape, err := SpatialOutputShape(ConvPadValid, []int64{32, 32}, []int64{3, 3}, []int64{1, 1}, []int64{2, 2}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkShape(t, outShape, []int64{28, 28})
}

func TestPoolOutputShape(t *testing.T) {
	testCases := []struct {
		name                     string
		padType                  ConvPadType
		kernel, strides, padding []int64
		input, expected          []int64
	}{
		{"max pool 2x2", ConvPadValid, []int64{2, 2}, []int64{2, 2}, nil, []int64{8, 8}, []int64{4, 4}},
		// Output: (8 + 1 + 1 - 3) / 1 + 1 = 8
		{"max pool custom padding", ConvPadCustom, []int64{3, 3}, []int64{1, 1}, []int64{1, 1, 1, 1}, []int64{8, 8}, []int64{8, 8}},
		// Output: (7 + 2 - 3) / 1 + 1 = 7
		{"max pool same padding", ConvPadSame, []int64{3, 3}, []int64{1, 1}, nil, []int64{7, 7}, []int64{7, 7}},
		// Global pooling is a window over the whole input.
		{"global pool", ConvPadValid, []int64{7, 7}, []int64{1, 1}, nil, []int64{7, 7}, []int64{1, 1}},
		{"same padding stride 2", ConvPadSame, []int64{3, 3}, []int64{2, 2}, nil, []int64{7, 8}, []int64{4, 4}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			outShape, err := SpatialOutputShape(tc.padType, tc.input, tc.kernel, tc.strides, nil, tc.padding)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			checkShape(t, outShape, tc.expected)
		})
	}
}
