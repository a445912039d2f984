package sqlhint

import (
	"strconv"
	"strings"
)

// Argument is the validated argument of a registered hint. Flag hints carry
// no value.
type Argument struct {
	value float64
	set   bool
}

// Flag returns the empty argument of a flag hint
func Flag() Argument {
	return Argument{}
}

// Value returns a numeric argument
func Value(v float64) Argument {
	return Argument{value: v, set: true}
}

// HasValue reports whether the argument carries a number
func (a Argument) HasValue() bool {
	return a.set
}

// Float returns the numeric value (0 for flags)
func (a Argument) Float() float64 {
	return a.value
}

// Int returns the numeric value truncated to an integer
func (a Argument) Int() int64 {
	return int64(a.value)
}

func (a Argument) format(shape ArgShape) string {
	if !a.set {
		return ""
	}
	if shape == ArgInteger {
		return strconv.FormatInt(a.Int(), 10)
	}
	return strconv.FormatFloat(a.value, 'g', -1, 64)
}

// Candidate is one directive occurrence as written in the query, before any
// validation. The parser produces candidates in source order and keeps
// duplicates.
type Candidate struct {
	Kind   Kind
	Scope  Scope
	Name   string   // directive name as written, lowercased
	Args   []string // raw argument text
	Offset int      // byte offset of the name in the directive text
}

// String renders the candidate the way it was written
func (c Candidate) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + "(" + strings.Join(c.Args, ", ") + ")"
}
