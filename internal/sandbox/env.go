package sandbox

import (
	"fmt"
	"math"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	starlarkjson "go.starlark.net/lib/json"
	starlarkmath "go.starlark.net/lib/math"
)

// predeclared returns the extra global environment exposed to strategy code
// on top of starlark.Universe (which already supplies abs, min, max, len,
// range, sorted, zip, enumerate, any, all — the bulk of §4.4's whitelisted
// builtins). Only pure-computation helpers are bound here: no filesystem,
// network, subprocess, environment, or reflection surface is reachable
// because the host never binds it, which makes "forbidden import"/
// "forbidden attribute access" structural rather than enforced by an AST
// walk.
func predeclared() starlark.StringDict {
	return starlark.StringDict{
		"math":   starlarkmath.Module,
		"json":   starlarkjson.Module,
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"stats":  statsModule(),
		"sum":    starlark.NewBuiltin("sum", builtinSum),
		"round":  starlark.NewBuiltin("round", builtinRound),
	}
}

// statsModule offers a small set of statistics helpers (mean/stdev/median)
// over a list of numbers — the "statistics" entry in the whitelisted
// module set (§4.4).
func statsModule() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: "stats",
		Members: starlark.StringDict{
			"mean":   starlark.NewBuiltin("stats.mean", statsMean),
			"stdev":  starlark.NewBuiltin("stats.stdev", statsStdev),
			"median": starlark.NewBuiltin("stats.median", statsMedian),
		},
	}
}

func floatsFromIterable(v starlark.Value) ([]float64, error) {
	iterable, ok := v.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("%w: expected an iterable of numbers", ErrRuntime)
	}
	iter := iterable.Iterate()
	defer iter.Done()
	var out []float64
	var x starlark.Value
	for iter.Next(&x) {
		f, err := toFloat(x)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func toFloat(v starlark.Value) (float64, error) {
	switch n := v.(type) {
	case starlark.Float:
		return float64(n), nil
	case starlark.Int:
		return float64(n.Float()), nil
	default:
		return 0, fmt.Errorf("%w: expected a number, got %s", ErrRuntime, v.Type())
	}
}

func statsMean(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var values starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "values", &values); err != nil {
		return nil, err
	}
	xs, err := floatsFromIterable(values)
	if err != nil {
		return nil, err
	}
	if len(xs) == 0 {
		return nil, fmt.Errorf("%w: mean of empty sequence", ErrRuntime)
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return starlark.Float(sum / float64(len(xs))), nil
}

func statsStdev(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var values starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "values", &values); err != nil {
		return nil, err
	}
	xs, err := floatsFromIterable(values)
	if err != nil {
		return nil, err
	}
	if len(xs) < 2 {
		return nil, fmt.Errorf("%w: stdev requires at least 2 values", ErrRuntime)
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}
	return starlark.Float(math.Sqrt(sq / float64(len(xs)-1))), nil
}

func statsMedian(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var values starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "values", &values); err != nil {
		return nil, err
	}
	xs, err := floatsFromIterable(values)
	if err != nil {
		return nil, err
	}
	if len(xs) == 0 {
		return nil, fmt.Errorf("%w: median of empty sequence", ErrRuntime)
	}
	sorted := append([]float64(nil), xs...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	n := len(sorted)
	if n%2 == 1 {
		return starlark.Float(sorted[n/2]), nil
	}
	return starlark.Float((sorted[n/2-1] + sorted[n/2]) / 2), nil
}

func builtinSum(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var iterable starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "iterable", &iterable); err != nil {
		return nil, err
	}
	xs, err := floatsFromIterable(iterable)
	if err != nil {
		return nil, err
	}
	var total float64
	for _, x := range xs {
		total += x
	}
	return starlark.Float(total), nil
}

func builtinRound(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "x", &x); err != nil {
		return nil, err
	}
	f, err := toFloat(x)
	if err != nil {
		return nil, err
	}
	return starlark.Float(math.Round(f)), nil
}
