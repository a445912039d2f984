// Package sqlhint holds the core types of the query hint layer: hint kinds,
// the static hint catalog, candidates produced by the parser and the
// registered hint sets produced by resolution.
//
// File organization:
//   - kind.go: Kind, ScopeClass, ArgShape, Effect and Scope enums
//   - catalog.go: the fixed catalog table and name lookup
//   - argument.go: Argument and Candidate
//   - set.go: Set (a registered hint set) and Merge
//   - layout.go: result layouts and the ambient Defaults
//
// Start with the catalog table in catalog.go to see every known hint.
package sqlhint

import "fmt"

// Kind identifies a query hint
type Kind uint8

const (
	KindUnknown Kind = iota
	CPUMode
	ColumnarOutput
	RowwiseOutput
	OverlapsBucketThreshold
	OverlapsMaxSize
	OverlapsKeysPerBin
	OverlapsAllowGPUBuild
	OverlapsNoCache
	KeepResult
	CudaBlockSize
	CudaGridSizeMultiplier

	numKinds
)

// String returns the directive name of the kind
func (k Kind) String() string {
	if k == KindUnknown || k >= numKinds {
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
	return catalog[k].Name
}

// ScopeClass says which scopes a kind may be registered in
type ScopeClass uint8

const (
	// LocalOnly kinds only affect their host query block
	LocalOnly ScopeClass = iota
	// GlobalOnly kinds only make sense for the whole statement
	GlobalOnly
	// Dual kinds exist in both forms; the global form carries a "g_" prefix
	Dual
)

func (c ScopeClass) String() string {
	switch c {
	case LocalOnly:
		return "local-only"
	case GlobalOnly:
		return "global-only"
	case Dual:
		return "dual"
	default:
		return fmt.Sprintf("ScopeClass(%d)", uint8(c))
	}
}

// Scope is the scope a single directive occurrence asks for
type Scope uint8

const (
	ScopeLocal Scope = iota
	ScopeGlobal
	// ScopeInvalid marks a directive whose requested scope its kind cannot
	// take, e.g. "g_" on a local-only kind
	ScopeInvalid
)

func (s Scope) String() string {
	switch s {
	case ScopeLocal:
		return "local"
	case ScopeGlobal:
		return "global"
	default:
		return "invalid"
	}
}

// ArgShape is the argument form a kind accepts
type ArgShape uint8

const (
	// ArgFlag takes no argument
	ArgFlag ArgShape = iota
	// ArgFloat takes one floating point argument
	ArgFloat
	// ArgInteger takes one integral argument
	ArgInteger
)

// Effect classifies what a hint changes downstream
type Effect uint8

const (
	// EffectDevice steers device selection
	EffectDevice Effect = iota
	// EffectLayout steers result set layout
	EffectLayout
	// EffectShape changes how a join hash table is built and so its identity
	EffectShape
	// EffectPolicy only changes caching or placement policy
	EffectPolicy
	// EffectResult changes result recycling of a block
	EffectResult
	// EffectLaunch changes GPU kernel launch parameters
	EffectLaunch
)
