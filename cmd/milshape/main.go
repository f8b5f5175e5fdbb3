// Command milshape prints padding and output shapes of MIL convolution/pooling ops,
// and packs or unpacks sub-byte quantized values.
//
// Usage:
//
//	milshape outshape -pad same -input 5,5 -kernel 2,2 -strides 2,2 [-dilations 1,1] [-custom 0,1,0,1] [-ceil]
//	milshape pack -nbits 4 -signed -- -8 7 3 4 -2
//	milshape unpack -nbits 4 -n 5 -signed 120 67 14
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/gomlx/go-coreml-milutil/model"
	"github.com/pkg/errors"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("milshape: ")
	if len(os.Args) < 2 {
		usage()
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "outshape":
		err = runOutShape(os.Stdout, args)
	case "pack":
		err = runPack(os.Stdout, args)
	case "unpack":
		err = runUnpack(os.Stdout, args)
	default:
		usage()
	}
	if err != nil {
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: milshape outshape|pack|unpack [flags] [values...]")
	os.Exit(2)
}

func runOutShape(w io.Writer, args []string) error {
	fs := flag.NewFlagSet("outshape", flag.ContinueOnError)
	var (
		padName   = fs.String("pad", "valid", "Padding type: valid, same, same_lower or custom")
		input     = fs.String("input", "", "Comma separated input spatial shape")
		kernel    = fs.String("kernel", "", "Comma separated kernel spatial shape")
		strides   = fs.String("strides", "", "Comma separated strides, defaults to 1 per axis")
		dilations = fs.String("dilations", "", "Comma separated dilations, defaults to 1 per axis")
		custom    = fs.String("custom", "", "Comma separated custom padding: before_0,after_0,before_1,after_1,...")
		ceilMode  = fs.Bool("ceil", false, "Use pooling ceil_mode when computing the output shape")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	padType, err := model.ParseConvPadType(*padName)
	if err != nil {
		return err
	}
	inputShape, err := parseInts("input", *input)
	if err != nil {
		return err
	}
	kernelShape, err := parseInts("kernel", *kernel)
	if err != nil {
		return err
	}
	if kernelShape == nil {
		return errors.New("-kernel is required")
	}
	stridesShape, err := parseInts("strides", *strides)
	if err != nil {
		return err
	}
	if stridesShape == nil {
		stridesShape = make([]int64, len(kernelShape))
		for i := range stridesShape {
			stridesShape[i] = 1
		}
	}
	dilationsShape, err := parseInts("dilations", *dilations)
	if err != nil {
		return err
	}
	customPad, err := parseInts("custom", *custom)
	if err != nil {
		return err
	}

	pad, err := model.SplitPad(padType, kernelShape, inputShape, stridesShape, dilationsShape, customPad)
	if err != nil {
		return err
	}
	total, err := model.AggregatedPad(padType, kernelShape, inputShape, stridesShape, dilationsShape, customPad)
	if err != nil {
		return err
	}
	outShapeFn := model.SpatialOutputShape
	if *ceilMode {
		outShapeFn = model.SpatialOutputShapeCeil
	}
	outShape, err := outShapeFn(padType, inputShape, kernelShape, stridesShape, dilationsShape, customPad)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "pad_type:     %s\n", padType)
	fmt.Fprintf(w, "pad:          %v\n", pad)
	fmt.Fprintf(w, "total pad:    %v\n", total)
	fmt.Fprintf(w, "output shape: %v\n", outShape)
	return nil
}

func runPack(w io.Writer, args []string) error {
	fs := flag.NewFlagSet("pack", flag.ContinueOnError)
	var (
		nbits  = fs.Int("nbits", 8, "Number of bits per element (1 to 8)")
		signed = fs.Bool("signed", false, "Values are signed, packed as two's complement")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		packed []byte
		err    error
	)
	if *signed {
		var values []int8
		if values, err = parseValues[int8](fs.Args()); err == nil {
			packed, err = model.PackElementsIntoBits(values, *nbits)
		}
	} else {
		var values []uint8
		if values, err = parseValues[uint8](fs.Args()); err == nil {
			packed, err = model.PackElementsIntoBits(values, *nbits)
		}
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%v\n", packed)
	fmt.Fprintf(w, "%08b\n", packed)
	return nil
}

func runUnpack(w io.Writer, args []string) error {
	fs := flag.NewFlagSet("unpack", flag.ContinueOnError)
	var (
		nbits  = fs.Int("nbits", 8, "Number of bits per element (1 to 8)")
		count  = fs.Int("n", -1, "Number of elements to restore, defaults to as many as fit in the given bytes")
		signed = fs.Bool("signed", false, "Restore values as signed (two's complement) integers")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	packed, err := parseValues[uint8](fs.Args())
	if err != nil {
		return err
	}
	if *count < 0 && *nbits > 0 {
		*count = len(packed) * 8 / *nbits
	}

	if *signed {
		values, err := model.RestoreElementsFromPackedBits[int8](packed, *nbits, *count, true)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, values)
		return nil
	}
	values, err := model.RestoreElementsFromPackedBits[uint8](packed, *nbits, *count, false)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, values)
	return nil
}

// parseInts parses a comma separated list of integers. An empty string returns nil.
func parseInts(name, s string) ([]int64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	values := make([]int64, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid -%s value %q", name, s)
		}
		values[i] = v
	}
	return values, nil
}

// parseValues parses 8-bit integers, in decimal or with a 0x, 0o or 0b prefix.
// The accepted range is [-128, 127] for int8 and [0, 255] for uint8.
func parseValues[T model.Element](args []string) ([]T, error) {
	var zero T
	signed := ^zero < zero
	values := make([]T, len(args))
	for i, arg := range args {
		if signed {
			v, err := strconv.ParseInt(arg, 0, 8)
			if err != nil {
				return nil, errors.Errorf("invalid value %q, expected an integer in [-128, 127]", arg)
			}
			values[i] = T(v)
		} else {
			v, err := strconv.ParseUint(arg, 0, 8)
			if err != nil {
				return nil, errors.Errorf("invalid value %q, expected an integer in [0, 255]", arg)
			}
			values[i] = T(v)
		}
	}
	return values, nil
}
