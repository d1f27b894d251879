// Package apperr defines the error kinds every core operation reports to its caller.
package apperr

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Kind sentinels. Wrap them with the constructors below so eris.Is keeps matching.
var (
	ErrValidation = eris.New("validation failed")
	ErrForbidden  = eris.New("access denied")
	ErrNotFound   = eris.New("not found")
	ErrConflict   = eris.New("conflict")
	ErrDependency = eris.New("dependency unavailable")
)

// Kind names an error category.
type Kind string

const (
	KindUnknown    Kind = ""
	KindValidation Kind = "validation"
	KindForbidden  Kind = "forbidden"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindDependency Kind = "dependency"
)

var kinds = []struct {
	kind     Kind
	sentinel error
}{
	{KindValidation, ErrValidation},
	{KindForbidden, ErrForbidden},
	{KindNotFound, ErrNotFound},
	{KindConflict, ErrConflict},
	{KindDependency, ErrDependency},
}

func Validation(format string, args ...any) error {
	return eris.Wrap(ErrValidation, fmt.Sprintf(format, args...))
}

func Forbidden(format string, args ...any) error {
	return eris.Wrap(ErrForbidden, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) error {
	return eris.Wrap(ErrNotFound, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...any) error {
	return eris.Wrap(ErrConflict, fmt.Sprintf(format, args...))
}

// Dependency marks a store or collaborator failure. The cause text is kept in the message.
func Dependency(cause error, message string) error {
	if cause == nil {
		return eris.Wrap(ErrDependency, message)
	}
	return eris.Wrapf(ErrDependency, "%s: %v", message, cause)
}

// KindOf classifies err. Unknown errors report KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, candidate := range kinds {
		if eris.Is(err, candidate.sentinel) {
			return candidate.kind
		}
	}
	return KindUnknown
}

// Is reports whether err belongs to kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the caller facing text of err with the kind suffix removed.
func Message(err error) string {
	if err == nil {
		return ""
	}

	text := err.Error()
	for _, candidate := range kinds {
		sentinel := candidate.sentinel.Error()
		if trimmed, ok := strings.CutSuffix(text, ": "+sentinel); ok {
			return trimmed
		}
		if trimmed, ok := strings.CutPrefix(text, sentinel+": "); ok {
			return trimmed
		}
	}
	return text
}
