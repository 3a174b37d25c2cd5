package plugins

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrResolution is matched by every dependency resolution failure
	ErrResolution = errors.New("resolution failed")

	// ErrDuplicateSymbol is returned when two plugins publish the same symbol
	ErrDuplicateSymbol = errors.New("duplicate symbol")

	// ErrSignatureMismatch is returned when a hook is invoked with an
	// argument type its handlers do not accept
	ErrSignatureMismatch = errors.New("hook signature mismatch")

	// ErrDispatch is matched by failures raised inside a hook chain
	ErrDispatch = errors.New("hook dispatch failed")

	// ErrLifecycle is matched by collected lifecycle hook failures
	ErrLifecycle = errors.New("lifecycle hook failed")

	// ErrConfiguration is returned for invalid assembled type contributions
	ErrConfiguration = errors.New("invalid configuration")

	// ErrNotFound is returned when a symbol or kind is not present
	ErrNotFound = errors.New("not found")

	// ErrUnknownHook is returned when a hook name was not part of the cache
	ErrUnknownHook = errors.New("unknown hook")
)

// ResolutionError reports a cycle, a missing dependency or an ambiguous
// abstract dependency.
type ResolutionError struct {
	Kind        string   // kind whose dependency failed
	Requirement string   // failing requirement, if any
	Candidates  []string // tied candidates for ambiguous requirements
	Cycle       []string // kind IDs forming a cycle
	Reason      string
}

func (e *ResolutionError) Error() string {
	var b strings.Builder
	b.WriteString("resolution failed")
	if e.Kind != "" {
		fmt.Fprintf(&b, " for %s", e.Kind)
	}
	if e.Requirement != "" {
		fmt.Fprintf(&b, " (requirement %s)", e.Requirement)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	if len(e.Candidates) > 0 {
		fmt.Fprintf(&b, " [candidates: %s]", strings.Join(e.Candidates, ", "))
	}
	if len(e.Cycle) > 0 {
		fmt.Fprintf(&b, " [cycle: %s]", strings.Join(e.Cycle, " -> "))
	}
	return b.String()
}

func (e *ResolutionError) Is(target error) bool { return target == ErrResolution }

// DuplicateSymbolError reports two instances publishing the same symbol.
type DuplicateSymbolError struct {
	Symbol Symbol
	First  string
	Second string
}

func (e *DuplicateSymbolError) Error() string {
	return fmt.Sprintf("duplicate symbol %q published by %s and %s", e.Symbol, e.First, e.Second)
}

func (e *DuplicateSymbolError) Is(target error) bool { return target == ErrDuplicateSymbol }

// SignatureMismatchError reports a hook invoked with the wrong argument type.
type SignatureMismatchError struct {
	Hook string
	Want string
	Got  string
}

func (e *SignatureMismatchError) Error() string {
	return fmt.Sprintf("hook %s: handlers accept %s, called with %s", e.Hook, e.Want, e.Got)
}

func (e *SignatureMismatchError) Is(target error) bool { return target == ErrSignatureMismatch }

// DispatchError is a failure raised by one handler of a hook chain. The chain
// stops at the failing plugin.
type DispatchError struct {
	Hook   string
	Plugin string
	Index  int
	Err    error
	// Panic holds the recovered value when the handler panicked.
	Panic any
}

func (e *DispatchError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("hook %s: plugin %s panicked: %v", e.Hook, e.Plugin, e.Panic)
	}
	return fmt.Sprintf("hook %s: plugin %s failed: %v", e.Hook, e.Plugin, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

func (e *DispatchError) Is(target error) bool { return target == ErrDispatch }

// LifecycleError records one plugin's failure during a collected lifecycle
// dispatch.
type LifecycleError struct {
	Hook   string
	Plugin string
	Err    error
	Panic  any
}

func (e *LifecycleError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("lifecycle %s: plugin %s panicked: %v", e.Hook, e.Plugin, e.Panic)
	}
	return fmt.Sprintf("lifecycle %s: plugin %s: %v", e.Hook, e.Plugin, e.Err)
}

func (e *LifecycleError) Unwrap() error { return e.Err }

func (e *LifecycleError) Is(target error) bool { return target == ErrLifecycle }

// LifecycleErrors aggregates the failures of a collected dispatch.
type LifecycleErrors []*LifecycleError

func (es LifecycleErrors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%d lifecycle failure(s): %s", len(es), strings.Join(msgs, "; "))
}

func (es LifecycleErrors) Unwrap() []error {
	out := make([]error, len(es))
	for i, e := range es {
		out[i] = e
	}
	return out
}

// ConfigurationError reports an invalid contribution to an assembled type.
type ConfigurationError struct {
	Type   string
	Field  string
	Plugin string
	Reason string
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("assembled type %s", e.Type)
	if e.Field != "" {
		msg += fmt.Sprintf(" field %q", e.Field)
	}
	if e.Plugin != "" {
		msg += fmt.Sprintf(" from %s", e.Plugin)
	}
	return msg + ": " + e.Reason
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }
