package main

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseInts(t *testing.T) {
	values, err := parseInts("input", "5, 6,7")
	require.NoError(t, err)
	require.Equal(t, []int64{5, 6, 7}, values)

	values, err = parseInts("input", " ")
	require.NoError(t, err)
	require.Nil(t, values)

	_, err = parseInts("input", "5,x")
	require.Error(t, err)
}

func TestParseValues(t *testing.T) {
	signed, err := parseValues[int8]([]string{"-8", "7", "-128", "0x0f"})
	require.NoError(t, err)
	require.Equal(t, []int8{-8, 7, -128, 15}, signed)

	unsigned, err := parseValues[uint8]([]string{"0", "255", "0b101"})
	require.NoError(t, err)
	require.Equal(t, []uint8{0, 255, 5}, unsigned)

	for _, arg := range []string{"128", "-129", "x"} {
		_, err = parseValues[int8]([]string{arg})
		require.Error(t, err, "int8 value %q", arg)
	}
	for _, arg := range []string{"256", "-1"} {
		_, err = parseValues[uint8]([]string{arg})
		require.Error(t, err, "uint8 value %q", arg)
	}
}

func TestCommands(t *testing.T) {
	testCases := []struct {
		name     string
		run      func(w io.Writer, args []string) error
		args     []string
		expected string
	}{
		{
			name: "outshape same",
			run:  runOutShape,
			args: []string{"-pad", "same", "-input", "5,5", "-kernel", "2,2", "-strides", "2,2"},
			expected: "pad_type:     same\n" +
				"pad:          [0 1 0 1]\n" +
				"total pad:    [1 1]\n" +
				"output shape: [3 3]\n",
		},
		{
			name: "outshape default strides",
			run:  runOutShape,
			args: []string{"-input", "7,7", "-kernel", "3,3"},
			expected: "pad_type:     valid\n" +
				"pad:          [0 0 0 0]\n" +
				"total pad:    [0 0]\n" +
				"output shape: [5 5]\n",
		},
		{
			name: "outshape custom dilated",
			run:  runOutShape,
			args: []string{"-pad", "custom", "-input", "32", "-kernel", "3", "-dilations", "2", "-custom", "1,2"},
			expected: "pad_type:     custom\n" +
				"pad:          [1 2]\n" +
				"total pad:    [3]\n" +
				"output shape: [31]\n",
		},
		{
			name: "pack signed",
			run:  runPack,
			args: []string{"-nbits", "4", "-signed", "--", "-8", "7", "3", "4", "-2"},
			expected: "[120 67 14]\n" +
				"[01111000 01000011 00001110]\n",
		},
		{
			name: "pack unsigned",
			run:  runPack,
			args: []string{"-nbits", "4", "1", "2", "3", "4", "5"},
			expected: "[33 67 5]\n" +
				"[00100001 01000011 00000101]\n",
		},
		{
			name:     "unpack signed",
			run:      runUnpack,
			args:     []string{"-nbits", "4", "-n", "5", "-signed", "120", "67", "14"},
			expected: "[-8 7 3 4 -2]\n",
		},
		{
			name:     "unpack default count",
			run:      runUnpack,
			args:     []string{"-nbits", "4", "120", "67", "14"},
			expected: "[8 7 3 4 14 0]\n",
		},
		{
			name:     "unpack default count 3 bits",
			run:      runUnpack,
			args:     []string{"-nbits", "3", "0xff", "0xff"},
			expected: "[7 7 7 7 7]\n",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			require.NoError(t, tc.run(&out, tc.args))
			require.Equal(t, tc.expected, out.String())
		})
	}
}

func TestCommandsInvalid(t *testing.T) {
	testCases := []struct {
		name string
		run  func(w io.Writer, args []string) error
		args []string
	}{
		{"outshape missing kernel", runOutShape, []string{"-input", "5,5"}},
		{"outshape invalid pad", runOutShape, []string{"-pad", "bananas", "-kernel", "3"}},
		{"outshape same without input", runOutShape, []string{"-pad", "same", "-kernel", "3"}},
		{"pack negative without signed", runPack, []string{"-nbits", "4", "--", "-8"}},
		{"pack invalid nbits", runPack, []string{"-nbits", "9", "1"}},
		{"unpack too short", runUnpack, []string{"-nbits", "4", "-n", "5", "120"}},
		{"unpack invalid byte", runUnpack, []string{"256"}},
		{"unknown flag", runPack, []string{"-bananas"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			require.Error(t, tc.run(&out, tc.args))
			require.Zero(t, out.Len())
		})
	}
}
