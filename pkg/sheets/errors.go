package sheets

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
)

// Kind classifies store errors by how callers should react to them.
type Kind int

const (
	// KindPermanent covers authorization and malformed-request failures.
	KindPermanent Kind = iota
	// KindTransient is a rate-limit or server-side failure worth retrying.
	KindTransient
	// KindConfiguration means credentials or identifiers are missing.
	KindConfiguration
	// KindSchema means an expected header row or column is absent.
	KindSchema
	// KindStructural means the grid of a sheet could not be resolved.
	KindStructural
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindConfiguration:
		return "configuration"
	case KindSchema:
		return "schema"
	case KindStructural:
		return "structural"
	default:
		return "permanent"
	}
}

// Error is returned by every layer that talks to the tabular store.
type Error struct {
	Kind  Kind
	Op    string
	Sheet string
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(" error")
	if e.Op != "" {
		b.WriteString(" in ")
		b.WriteString(e.Op)
	}
	if e.Sheet != "" {
		fmt.Fprintf(&b, " (sheet %q)", e.Sheet)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds an Error of the given kind with a formatted cause.
func Errorf(kind Kind, op, sheet, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Sheet: sheet, Err: fmt.Errorf(format, args...)}
}

func kindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

func IsTransient(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindTransient
}

func IsSchema(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindSchema
}

func IsConfiguration(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindConfiguration
}

func IsStructural(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindStructural
}

var rateLimitReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"quotaExceeded":         true,
}

// Classify wraps a raw API error into an Error of kind transient or permanent.
// Errors that are already classified pass through untouched.
func Classify(op, sheet string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := kindOf(err); ok {
		return err
	}
	kind := KindPermanent
	if transient(err) {
		kind = KindTransient
	}
	return &Error{Kind: kind, Op: op, Sheet: sheet, Err: err}
}

func transient(err error) bool {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		switch gErr.Code {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		case http.StatusForbidden:
			for _, item := range gErr.Errors {
				if rateLimitReasons[item.Reason] {
					return true
				}
			}
			return false
		}
		return false
	}
	msg := err.Error()
	for _, marker := range []string{"429", "rateLimit", "503", "500"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
