package params

import (
	"fmt"

	"pspec/domain/core"
)

// Set is the canonical name->value representation consumed by every model
// and prior callable. It is produced only by Normalize.
type Set map[string]float64

// Get returns the value for name, defaulting to zero when absent.
func (s Set) Get(name string) float64 {
	return s[name]
}

// Clone returns an independent copy of the set.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Input is the tagged union of the two accepted parameter representations:
// a direct name->value mapping, or an ordered value sequence whose names
// come from the container's configured params_list. Exactly one
// representation is populated.
type Input struct {
	byName     Set
	byPosition []float64
	positional bool
}

// ByName wraps a name->value mapping.
func ByName(m map[string]float64) Input {
	return Input{byName: m}
}

// ByPosition wraps an ordered value sequence.
func ByPosition(values []float64) Input {
	return Input{byPosition: values, positional: true}
}

// Normalize resolves an Input against the configured parameter name list
// into a canonical Set. It must run before any model or prior callable is
// invoked.
//
// Rules:
//   - a mapping with a nil name list is copied through as-is
//   - a value sequence zips positionally with an equal-length name list
//   - every other combination is a precondition failure
//
// The returned Set is always an independent copy; callers may mutate their
// input afterwards without affecting an evaluation in flight.
func Normalize(in Input, paramsList []string) (Set, error) {
	if !in.positional {
		if in.byName == nil {
			return nil, fmt.Errorf("%w: params mapping is nil and no value sequence was given", core.ErrInvalidParameterFormat)
		}
		if len(paramsList) != 0 {
			return nil, fmt.Errorf("%w: params is a mapping but params_list was also configured; leave params_list unset for mapping-form calls", core.ErrInvalidParameterFormat)
		}
		return in.byName.Clone(), nil
	}

	if len(paramsList) == 0 {
		return nil, fmt.Errorf("%w: params is a value sequence but no params_list was configured", core.ErrInvalidParameterFormat)
	}
	if len(in.byPosition) != len(paramsList) {
		return nil, fmt.Errorf("%w: got %d values for %d parameter names", core.ErrInvalidParameterFormat, len(in.byPosition), len(paramsList))
	}
	seen := make(map[string]struct{}, len(paramsList))
	set := make(Set, len(paramsList))
	for i, name := range paramsList {
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: duplicate parameter name %q", core.ErrInvalidParameterFormat, name)
		}
		seen[name] = struct{}{}
		set[name] = in.byPosition[i]
	}
	return set, nil
}
