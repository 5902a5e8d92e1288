// Package errs defines the closed error-kind taxonomy shared by every
// component of the controller, so callers can branch on category without
// parsing error strings.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is a closed set of error categories. Callers match on Kind, never
// on error text.
type Kind string

const (
	ConfigValidation  Kind = "ConfigValidation"
	StrategyParse     Kind = "StrategyParse"
	FirewallSetup     Kind = "FirewallSetup"
	ProcessManagement Kind = "ProcessManagement"
	ServiceOperation  Kind = "ServiceOperation"
	NotFound          Kind = "NotFound"
	PermissionDenied  Kind = "PermissionDenied"
	Timeout           Kind = "Timeout"
	SessionState      Kind = "SessionState"
)

// Error carries a Kind alongside the usual wrapped cause. When taxonomy
// errors are nested, the package-level KindOf reports the innermost Kind
// instead of the outer one.
type Error struct {
	kind    Kind
	cause   error
	fields  map[string]any
}

func (e *Error) Error() string {
	if e.cause == nil {
		return string(e.kind)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.cause.Error())
}

func (e *Error) Unwrap() error { return e.cause }

// KindOf returns this error's own category, without looking at its
// cause chain.
func (e *Error) KindOf() Kind { return e.kind }

// Fields returns the structured context attached at construction time
// (backend, operation, queue, pid, file, line, ...).
func (e *Error) Fields() map[string]any { return e.fields }

// New builds a taxonomy error wrapping cause with kind and optional
// structured fields (passed as alternating key/value pairs).
func New(kind Kind, cause error, kv ...any) *Error {
	return &Error{kind: kind, cause: errors.WithStack(cause), fields: fieldsFrom(kv)}
}

// Wrapf builds a taxonomy error from a formatted message, preserving kind.
func Wrapf(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, cause: errors.Errorf(format, args...)}
}

func fieldsFrom(kv []any) map[string]any {
	if len(kv) == 0 {
		return nil
	}
	m := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		m[key] = kv[i+1]
	}
	return m
}

// KindOf walks err's Unwrap chain looking for the innermost *Error and
// returns its Kind, or "" if err carries none of this taxonomy.
func KindOf(err error) Kind {
	var last Kind
	for err != nil {
		if te, ok := err.(*Error); ok {
			last = te.kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return last
}

// Is reports whether err's taxonomy Kind equals kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
