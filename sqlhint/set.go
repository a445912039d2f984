package sqlhint

import (
	"sort"
	"strings"
)

// Set is a registered hint set: the validated, conflict-free and
// redundancy-free hints of one scope instance (a query block or a whole
// statement). The zero value is an empty set ready to use; a nil *Set reads
// as empty.
type Set struct {
	hints map[Kind]Argument
}

// NewSet creates an empty hint set
func NewSet() *Set {
	return &Set{hints: make(map[Kind]Argument)}
}

// Register records kind k with argument arg. The first registration of a
// kind wins; later ones return false.
func (s *Set) Register(k Kind, arg Argument) bool {
	if s.hints == nil {
		s.hints = make(map[Kind]Argument)
	}
	if _, ok := s.hints[k]; ok {
		return false
	}
	s.hints[k] = arg
	return true
}

// Unregister removes kind k
func (s *Set) Unregister(k Kind) {
	if s == nil {
		return
	}
	delete(s.hints, k)
}

// IsRegistered reports whether kind k is registered
func (s *Set) IsRegistered(k Kind) bool {
	if s == nil {
		return false
	}
	_, ok := s.hints[k]
	return ok
}

// IsAnyRegistered reports whether the set holds any hint
func (s *Set) IsAnyRegistered() bool {
	return s.Len() > 0
}

// Len returns the number of registered hints
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.hints)
}

// Get returns the argument registered for k
func (s *Set) Get(k Kind) (Argument, bool) {
	if s == nil {
		return Argument{}, false
	}
	arg, ok := s.hints[k]
	return arg, ok
}

// Kinds returns the registered kinds in catalog order
func (s *Set) Kinds() []Kind {
	if s == nil {
		return nil
	}
	kinds := make([]Kind, 0, len(s.hints))
	for k := range s.hints {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Clone returns an independent copy
func (s *Set) Clone() *Set {
	c := NewSet()
	if s == nil {
		return c
	}
	for k, v := range s.hints {
		c.hints[k] = v
	}
	return c
}

// Equal reports whether both sets register the same kinds with the same
// arguments
func (s *Set) Equal(o *Set) bool {
	if s.Len() != o.Len() {
		return false
	}
	for _, k := range s.Kinds() {
		a, _ := s.Get(k)
		b, ok := o.Get(k)
		if !ok || a != b {
			return false
		}
	}
	return true
}

// String renders the set canonically, e.g. "cpu_mode, overlaps_max_size(2021)"
func (s *Set) String() string {
	hints := s.Strings()
	if len(hints) == 0 {
		return "{}"
	}
	return strings.Join(hints, ", ")
}

// Strings renders each registered hint in kind order
func (s *Set) Strings() []string {
	kinds := s.Kinds()
	out := make([]string, len(kinds))
	for i, k := range kinds {
		arg, _ := s.Get(k)
		if v := arg.format(catalog[k].Shape); v != "" {
			out[i] = k.String() + "(" + v + ")"
		} else {
			out[i] = k.String()
		}
	}
	return out
}

// OverlapsBucketThreshold returns the registered bucket threshold
func (s *Set) OverlapsBucketThreshold() (float64, bool) {
	arg, ok := s.Get(OverlapsBucketThreshold)
	return arg.Float(), ok
}

// OverlapsMaxSize returns the registered maximum hash table size
func (s *Set) OverlapsMaxSize() (int64, bool) {
	arg, ok := s.Get(OverlapsMaxSize)
	return arg.Int(), ok
}

// OverlapsKeysPerBin returns the registered keys-per-bin target
func (s *Set) OverlapsKeysPerBin() (float64, bool) {
	arg, ok := s.Get(OverlapsKeysPerBin)
	return arg.Float(), ok
}

// CudaBlockSize returns the registered CUDA block size
func (s *Set) CudaBlockSize() (int64, bool) {
	arg, ok := s.Get(CudaBlockSize)
	return arg.Int(), ok
}

// CudaGridSizeMultiplier returns the registered CUDA grid size multiplier
func (s *Set) CudaGridSizeMultiplier() (float64, bool) {
	arg, ok := s.Get(CudaGridSizeMultiplier)
	return arg.Float(), ok
}

// Merge combines a block's local set with the statement's global set into the
// hints in effect for that block. Local arguments take precedence; a local
// layout hint also masks the opposite global one.
func Merge(local, global *Set) *Set {
	merged := local.Clone()
	for _, k := range global.Kinds() {
		if e := catalog[k]; e.ConflictsWith != KindUnknown && merged.IsRegistered(e.ConflictsWith) {
			continue
		}
		arg, _ := global.Get(k)
		merged.Register(k, arg)
	}
	return merged
}
