// Package target resolves abstract targets, an exact package or a filter
// pattern, into concrete package names on a device, and decides whether an
// ambiguous resolution may proceed.
package target

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidSpec is returned when neither a package nor a pattern is given.
var ErrInvalidSpec = errors.New("either package or pattern must be given")

// Spec selects packages on a device: exactly one of an exact package name
// or a filter pattern. The zero Spec is invalid.
type Spec struct {
	pkg     string
	raw     string
	pattern *regexp.Regexp
}

// NewExact builds a spec naming one package outright.
func NewExact(pkg string) (Spec, error) {
	if pkg == "" {
		return Spec{}, ErrInvalidSpec
	}
	return Spec{pkg: pkg}, nil
}

// NewPattern builds a spec matching installed packages by unanchored
// regexp search. The pattern is compiled once, eagerly.
func NewPattern(expr string) (Spec, error) {
	if expr == "" {
		return Spec{}, ErrInvalidSpec
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return Spec{}, fmt.Errorf("bad pattern %q: %w", expr, err)
	}
	return Spec{raw: expr, pattern: re}, nil
}

// New builds a spec from optional package and pattern arguments, the way
// the CLI collects them. An exact package wins when both are set.
func New(pkg, pattern string) (Spec, error) {
	if pkg != "" {
		return NewExact(pkg)
	}
	return NewPattern(pattern)
}

func (s Spec) Valid() bool   { return s.pkg != "" || s.pattern != nil }
func (s Spec) IsExact() bool { return s.pkg != "" }

// Package returns the exact package name, empty for pattern specs.
func (s Spec) Package() string { return s.pkg }

// Pattern returns the raw pattern expression, empty for exact specs.
func (s Spec) Pattern() string { return s.raw }

func (s Spec) String() string {
	if s.IsExact() {
		return s.pkg
	}
	return s.raw
}
