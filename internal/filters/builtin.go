package filters

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strconv"

	"github.com/ivmfnal/metacat-sub001/internal/engine"
	"github.com/ivmfnal/metacat-sub001/internal/ir"
)

// Sample keeps about fraction of its input files: sample(fraction,
// seed=0). The choice depends only on the FID and seed, so a file is kept
// or dropped the same way in every run.
func Sample(ctx context.Context, inputs []engine.Stream, args []ir.Value, kwargs map[string]ir.Value) (engine.Stream, error) {
	fraction, seed, err := sampleArgs(args, kwargs)
	if err != nil {
		closeAll(inputs)
		return nil, err
	}

	files, err := gather(ctx, inputs)
	if err != nil {
		return nil, err
	}
	var out []ir.File
	for _, f := range files {
		if unit(seed, f.FID) < fraction {
			out = append(out, f)
		}
	}
	return engine.NewSliceStream(out), nil
}

func sampleArgs(args []ir.Value, kwargs map[string]ir.Value) (float64, int64, error) {
	if len(args) != 1 {
		return 0, 0, fmt.Errorf("sample takes one argument, got %d", len(args))
	}
	fraction, ok := number(args[0])
	if !ok || fraction < 0 || fraction > 1 {
		return 0, 0, fmt.Errorf("sample fraction must be a number in [0, 1], got %s", args[0].Literal())
	}
	seed, err := intKwarg(kwargs, "seed", 0)
	return fraction, seed, err
}

// unit hashes (seed, fid) to [0, 1).
func unit(seed int64, fid string) float64 {
	h := fnv.New64a()
	h.Write([]byte(strconv.FormatInt(seed, 10)))
	h.Write([]byte{0})
	h.Write([]byte(fid))
	return float64(h.Sum64()>>11) / (1 << 53)
}

// EveryNth keeps every n-th input file starting at offset:
// every_nth(n, offset=0).
func EveryNth(ctx context.Context, inputs []engine.Stream, args []ir.Value, kwargs map[string]ir.Value) (engine.Stream, error) {
	n, offset, err := everyNthArgs(args, kwargs)
	if err != nil {
		closeAll(inputs)
		return nil, err
	}

	files, err := gather(ctx, inputs)
	if err != nil {
		return nil, err
	}
	var out []ir.File
	for i, f := range files {
		if int64(i)%n == offset {
			out = append(out, f)
		}
	}
	return engine.NewSliceStream(out), nil
}

func everyNthArgs(args []ir.Value, kwargs map[string]ir.Value) (int64, int64, error) {
	if len(args) != 1 {
		return 0, 0, fmt.Errorf("every_nth takes one argument, got %d", len(args))
	}
	n, ok := args[0].(ir.Int)
	if !ok || n <= 0 {
		return 0, 0, fmt.Errorf("every_nth step must be a positive integer, got %s", args[0].Literal())
	}
	offset, err := intKwarg(kwargs, "offset", 0)
	if err != nil {
		return 0, 0, err
	}
	if offset < 0 || offset >= int64(n) {
		return 0, 0, fmt.Errorf("every_nth offset must be in [0, %d), got %d", n, offset)
	}
	return int64(n), offset, nil
}

func number(v ir.Value) (float64, bool) {
	switch x := v.(type) {
	case ir.Int:
		return float64(x), true
	case ir.Float:
		f := float64(x)
		return f, !math.IsNaN(f)
	}
	return 0, false
}

func intKwarg(kwargs map[string]ir.Value, name string, def int64) (int64, error) {
	v, ok := kwargs[name]
	if !ok {
		return def, nil
	}
	i, ok := v.(ir.Int)
	if !ok {
		return 0, fmt.Errorf("%s must be an integer, got %s", name, v.Literal())
	}
	return int64(i), nil
}
