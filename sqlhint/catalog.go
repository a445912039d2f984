package sqlhint

import (
	"math"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// GlobalPrefix selects the statement-wide variant of a dual hint
const GlobalPrefix = "g_"

// Entry is one row of the hint catalog
type Entry struct {
	Kind   Kind
	Name   string
	Scope  ScopeClass
	Shape  ArgShape
	Effect Effect

	// ConflictsWith names the kind this one cancels against, if any
	ConflictsWith Kind

	valid     func(v float64) bool
	redundant func(d Defaults) bool
}

// catalog is the fixed table of known hints, indexed by Kind. Adding a hint
// means adding a row here.
var catalog = [numKinds]Entry{
	CPUMode: {
		Kind: CPUMode, Name: "cpu_mode", Scope: Dual, Shape: ArgFlag, Effect: EffectDevice,
	},
	ColumnarOutput: {
		Kind: ColumnarOutput, Name: "columnar_output", Scope: Dual, Shape: ArgFlag, Effect: EffectLayout,
		ConflictsWith: RowwiseOutput,
		redundant:     layoutIsDefault(ColumnarOutput),
	},
	RowwiseOutput: {
		Kind: RowwiseOutput, Name: "rowwise_output", Scope: Dual, Shape: ArgFlag, Effect: EffectLayout,
		ConflictsWith: ColumnarOutput,
		redundant:     layoutIsDefault(RowwiseOutput),
	},
	OverlapsBucketThreshold: {
		Kind: OverlapsBucketThreshold, Name: "overlaps_bucket_threshold", Scope: Dual, Shape: ArgFloat, Effect: EffectShape,
		valid: func(v float64) bool { return v > 0 && v <= 90 },
	},
	OverlapsMaxSize: {
		Kind: OverlapsMaxSize, Name: "overlaps_max_size", Scope: Dual, Shape: ArgInteger, Effect: EffectShape,
		valid: func(v float64) bool { return v > 0 },
	},
	OverlapsKeysPerBin: {
		Kind: OverlapsKeysPerBin, Name: "overlaps_keys_per_bin", Scope: Dual, Shape: ArgFloat, Effect: EffectShape,
		// The largest finite double is treated as an overflow sentinel.
		valid: func(v float64) bool { return v > 0 && v < math.MaxFloat64 },
	},
	OverlapsAllowGPUBuild: {
		Kind: OverlapsAllowGPUBuild, Name: "overlaps_allow_gpu_build", Scope: Dual, Shape: ArgFlag, Effect: EffectPolicy,
	},
	OverlapsNoCache: {
		Kind: OverlapsNoCache, Name: "overlaps_no_cache", Scope: Dual, Shape: ArgFlag, Effect: EffectPolicy,
	},
	KeepResult: {
		Kind: KeepResult, Name: "keep_result", Scope: LocalOnly, Shape: ArgFlag, Effect: EffectResult,
	},
	CudaBlockSize: {
		Kind: CudaBlockSize, Name: "cuda_block_size", Scope: GlobalOnly, Shape: ArgInteger, Effect: EffectLaunch,
		valid: func(v float64) bool { return v > 0 && v <= 1024 },
	},
	CudaGridSizeMultiplier: {
		Kind: CudaGridSizeMultiplier, Name: "cuda_grid_size_multiplier", Scope: GlobalOnly, Shape: ArgFloat, Effect: EffectLaunch,
		valid: func(v float64) bool { return v > 0 && v < math.MaxFloat64 },
	},
}

var byName = func() map[string]Kind {
	m := make(map[string]Kind, len(catalog))
	for k := Kind(1); k < numKinds; k++ {
		m[catalog[k].Name] = k
	}
	return m
}()

func layoutIsDefault(k Kind) func(Defaults) bool {
	return func(d Defaults) bool {
		l, _ := layoutOf(k)
		return l == d.Layout
	}
}

// Kinds returns every known kind in declaration order
func Kinds() []Kind {
	kinds := make([]Kind, 0, numKinds-1)
	for k := Kind(1); k < numKinds; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// Describe returns the catalog row of a kind
func Describe(k Kind) (Entry, bool) {
	if k == KindUnknown || k >= numKinds {
		return Entry{}, false
	}
	return catalog[k], true
}

// Lookup maps a directive name to its kind and requested scope. Names are
// case-insensitive. A "g_" prefix asks for the global variant; on a
// local-only kind that yields ScopeInvalid. Global-only kinds are global with
// or without the prefix.
func Lookup(name string) (Kind, Scope, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if k, ok := byName[name]; ok {
		if catalog[k].Scope == GlobalOnly {
			return k, ScopeGlobal, true
		}
		return k, ScopeLocal, true
	}
	base, found := strings.CutPrefix(name, GlobalPrefix)
	if !found {
		return KindUnknown, ScopeInvalid, false
	}
	k, ok := byName[base]
	if !ok {
		return KindUnknown, ScopeInvalid, false
	}
	if catalog[k].Scope == LocalOnly {
		return k, ScopeInvalid, true
	}
	return k, ScopeGlobal, true
}

// Validate checks raw argument text against the argument shape and range of
// a kind and returns the parsed argument.
func Validate(k Kind, args []string) (Argument, error) {
	e, ok := Describe(k)
	if !ok {
		return Argument{}, errors.Newf("unknown hint kind %d", uint8(k))
	}

	if e.Shape == ArgFlag {
		if len(args) != 0 {
			return Argument{}, errors.Newf("%s takes no argument, got %d", e.Name, len(args))
		}
		return Flag(), nil
	}

	if len(args) != 1 {
		return Argument{}, errors.Newf("%s takes exactly one argument, got %d", e.Name, len(args))
	}
	raw := strings.TrimSpace(args[0])

	var v float64
	switch e.Shape {
	case ArgInteger:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Argument{}, errors.Wrapf(err, "%s needs an integer argument", e.Name)
		}
		v = float64(n)
	case ArgFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Argument{}, errors.Wrapf(err, "%s needs a numeric argument", e.Name)
		}
		v = f
	}

	if e.valid != nil && !e.valid(v) {
		return Argument{}, errors.Newf("%s argument %s out of range", e.Name, raw)
	}
	return Value(v), nil
}

// IsRedundant reports whether registering k would be a no-op under d
func IsRedundant(k Kind, d Defaults) bool {
	e, ok := Describe(k)
	if !ok || e.redundant == nil {
		return false
	}
	return e.redundant(d)
}
