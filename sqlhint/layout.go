package sqlhint

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Layout is a result set layout
type Layout uint8

const (
	Rowwise Layout = iota
	Columnar
)

func (l Layout) String() string {
	if l == Columnar {
		return "columnar"
	}
	return "rowwise"
}

// ParseLayout parses "rowwise" or "columnar"
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rowwise", "row", "":
		return Rowwise, nil
	case "columnar", "column":
		return Columnar, nil
	default:
		return Rowwise, errors.Newf("unknown result layout %q", s)
	}
}

// Defaults are the session values a hint is compared against to decide
// whether it would change anything. Resolution never reads process globals;
// callers thread Defaults through explicitly.
type Defaults struct {
	Layout Layout
}

// layoutOf returns the layout a layout hint requests
func layoutOf(k Kind) (Layout, bool) {
	switch k {
	case ColumnarOutput:
		return Columnar, true
	case RowwiseOutput:
		return Rowwise, true
	}
	return Rowwise, false
}
