// Package rerror defines the error kinds used across the rewriter.
//
// The four kinds mirror the spec's error-handling design: user-input
// errors and parse diagnostics are recoverable (the caller reports and
// moves on, or the pass swallows it and falls back to a heuristic),
// while transformation failures and programmer errors unwind the
// entire rewrite.
package rerror

import "fmt"

// Kind classifies a RewriteError.
type Kind int

const (
	// UserInput covers missing arguments, unreadable files, and
	// malformed ELF input. Reported on stderr; exit non-zero.
	UserInput Kind = iota
	// ParseDiagnostic covers recoverable anomalies in the input, such
	// as an unknown relocation type or overlapping jump tables. Logged
	// and a heuristic fallback is applied; the rewrite proceeds.
	ParseDiagnostic
	// Transformation covers a pass that cannot complete, such as
	// PromoteJumps failing to converge or a deferred resolve failing
	// to reach a fixed point. Fatal; the rewrite aborts.
	Transformation
	// ProgrammerError covers an IR invariant violation (I1-I5).
	// Fatal; terminates the rewrite.
	ProgrammerError
)

func (k Kind) String() string {
	switch k {
	case UserInput:
		return "user-input error"
	case ParseDiagnostic:
		return "parse diagnostic"
	case Transformation:
		return "transformation failure"
	case ProgrammerError:
		return "programmer error"
	default:
		return "unknown error"
	}
}

// RewriteError is the single error type threaded through the rewriter.
type RewriteError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *RewriteError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *RewriteError) Unwrap() error { return e.Cause }

// Fatal reports whether errors of this kind unwind the whole rewrite.
func (k Kind) Fatal() bool {
	return k == Transformation || k == ProgrammerError
}

// New builds a RewriteError of the given kind.
func New(kind Kind, message string) *RewriteError {
	return &RewriteError{Kind: kind, Message: message}
}

// Wrap builds a RewriteError of the given kind around a cause.
func Wrap(kind Kind, message string, cause error) *RewriteError {
	return &RewriteError{Kind: kind, Message: message, Cause: cause}
}
