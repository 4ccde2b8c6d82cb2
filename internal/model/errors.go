package model

import (
	"errors"
	"fmt"
)

// ErrAllFilesFailed is returned when no source file could be parsed.
var ErrAllFilesFailed = errors.New("no source file could be parsed")

// ParseError reports one unparsable file. It is recovered locally.
type ParseError struct {
	Path   string
	Line   int
	Column int
	Msg    string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse %s:%d:%d: %s", e.Path, e.Line, e.Column, e.Msg)
	}
	return fmt.Sprintf("parse %s: %s", e.Path, e.Msg)
}

// UnresolvedReferenceError reports a router or tool name used in graph wiring
// that has no definition anywhere in the global index.
type UnresolvedReferenceError struct {
	Kind     string // "router", "tool", "node"
	Name     string
	Location string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("unresolved %s %q at %s", e.Kind, e.Name, e.Location)
}

// EscalationFailure reports a pending item the adapter could not convert.
type EscalationFailure struct {
	ItemID string
	Err    error
}

func (e *EscalationFailure) Error() string {
	return fmt.Sprintf("escalation %s: %v", e.ItemID, e.Err)
}

func (e *EscalationFailure) Unwrap() error {
	return e.Err
}

// IRIntegrityError reports a dangling reference found while building the IR.
type IRIntegrityError struct {
	Node   string
	Kind   string // "field", "tool", "edge"
	Symbol string
}

func (e *IRIntegrityError) Error() string {
	return fmt.Sprintf("ir integrity: node %q references unknown %s %q", e.Node, e.Kind, e.Symbol)
}

// IsIntegrity reports whether err is or wraps an IRIntegrityError.
func IsIntegrity(err error) bool {
	var ie *IRIntegrityError
	return errors.As(err, &ie)
}

// IsParse reports whether err is or wraps a ParseError.
func IsParse(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
