package strategy

import (
	"fmt"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"finchcore/internal/platform"
	"finchcore/internal/sandbox"
)

// positionToStarlark converts a reported position into the position
// argument passed to exit(ctx, position) strategy code. The now argument is
// not used here: the clock reaches exit() as ctx.now, built by
// ctxToStarlark (§4.4 point 4: no implicit clock access).
func positionToStarlark(p platform.Position, now time.Time) *starlarkstruct.Struct {
	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"id":        starlark.String(p.ID),
		"market_id": starlark.String(p.MarketID),
		"side":      starlark.String(string(p.Side)),
		"size":      starlark.Float(p.Size),
		"entry_at":  starlark.String(p.EntryAt.UTC().Format(time.RFC3339)),
	})
}

func ctxToStarlark(now time.Time, params map[string]any) (*starlarkstruct.Struct, error) {
	fields := starlark.StringDict{"now": starlark.String(now.UTC().Format(time.RFC3339))}
	for k, v := range params {
		sv, err := toStarlarkValue(v)
		if err != nil {
			return nil, fmt.Errorf("%w: parameter %q: %v", sandbox.ErrBadReturn, k, err)
		}
		fields[k] = sv
	}
	return starlarkstruct.FromStringDict(starlarkstruct.Default, fields), nil
}

func toStarlarkValue(v any) (starlark.Value, error) {
	switch x := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(x), nil
	case string:
		return starlark.String(x), nil
	case int:
		return starlark.MakeInt(x), nil
	case int64:
		return starlark.MakeInt64(x), nil
	case float64:
		return starlark.Float(x), nil
	case []any:
		elems := make([]starlark.Value, 0, len(x))
		for _, e := range x {
			sv, err := toStarlarkValue(e)
			if err != nil {
				return nil, err
			}
			elems = append(elems, sv)
		}
		return starlark.NewList(elems), nil
	case map[string]any:
		d := starlark.NewDict(len(x))
		for k, e := range x {
			sv, err := toStarlarkValue(e)
			if err != nil {
				return nil, err
			}
			if err := d.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unsupported parameter type %T", v)
	}
}

// entrySignalsFromStarlark decodes the list returned by entry(ctx) into
// []EntrySignal, enforcing return-type policing (§4.4 point 5): any element
// missing a required field or holding the wrong type fails as ErrBadReturn.
func entrySignalsFromStarlark(v starlark.Value) ([]EntrySignal, error) {
	list, ok := v.(*starlark.List)
	if !ok {
		return nil, fmt.Errorf("%w: entry() must return a list, got %s", sandbox.ErrBadReturn, v.Type())
	}
	out := make([]EntrySignal, 0, list.Len())
	iter := list.Iterate()
	defer iter.Done()
	var item starlark.Value
	for iter.Next(&item) {
		sig, err := entrySignalFromStarlark(item)
		if err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, nil
}

func entrySignalFromStarlark(v starlark.Value) (EntrySignal, error) {
	st, ok := v.(*starlarkstruct.Struct)
	if !ok {
		return EntrySignal{}, fmt.Errorf("%w: entry signal must be a struct, got %s", sandbox.ErrBadReturn, v.Type())
	}
	marketID, err := structString(st, "market_id", true)
	if err != nil {
		return EntrySignal{}, err
	}
	side, err := structString(st, "side", true)
	if err != nil {
		return EntrySignal{}, err
	}
	reason, err := structString(st, "reason", false)
	if err != nil {
		return EntrySignal{}, err
	}
	confidence, err := structFloat(st, "confidence", true)
	if err != nil {
		return EntrySignal{}, err
	}
	return EntrySignal{MarketID: marketID, Side: side, Reason: reason, Confidence: confidence}, nil
}

// exitSignalFromStarlark decodes the optional ExitSignal returned by
// exit(ctx, position): None means "no exit", a struct must carry
// position_id (reason is optional).
func exitSignalFromStarlark(v starlark.Value) (*ExitSignal, error) {
	if v == nil || v == starlark.None {
		return nil, nil
	}
	st, ok := v.(*starlarkstruct.Struct)
	if !ok {
		return nil, fmt.Errorf("%w: exit() must return a struct or None, got %s", sandbox.ErrBadReturn, v.Type())
	}
	positionID, err := structString(st, "position_id", true)
	if err != nil {
		return nil, err
	}
	reason, err := structString(st, "reason", false)
	if err != nil {
		return nil, err
	}
	return &ExitSignal{PositionID: positionID, Reason: reason}, nil
}

func structString(st *starlarkstruct.Struct, field string, required bool) (string, error) {
	v, err := st.Attr(field)
	if err != nil {
		if required {
			return "", fmt.Errorf("%w: missing required field %q", sandbox.ErrBadReturn, field)
		}
		return "", nil
	}
	s, ok := starlark.AsString(v)
	if !ok {
		return "", fmt.Errorf("%w: field %q must be a string", sandbox.ErrBadReturn, field)
	}
	return s, nil
}

func structFloat(st *starlarkstruct.Struct, field string, required bool) (float64, error) {
	v, err := st.Attr(field)
	if err != nil {
		if required {
			return 0, fmt.Errorf("%w: missing required field %q", sandbox.ErrBadReturn, field)
		}
		return 0, nil
	}
	switch n := v.(type) {
	case starlark.Float:
		return float64(n), nil
	case starlark.Int:
		return float64(n.Float()), nil
	default:
		return 0, fmt.Errorf("%w: field %q must be a number", sandbox.ErrBadReturn, field)
	}
}
