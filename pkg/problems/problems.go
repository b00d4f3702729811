package problems

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// Kind classifies an error for callers and for HTTP mapping.
type Kind int

const (
	KindInvalidArgument Kind = iota
	KindNotFound
	KindAuthentication
	KindProtocol
	KindTransientIO
)

func (k Kind) slug() string {
	switch k {
	case KindInvalidArgument:
		return "invalid-argument"
	case KindNotFound:
		return "not-found"
	case KindAuthentication:
		return "authentication"
	case KindProtocol:
		return "protocol"
	case KindTransientIO:
		return "transient-io"
	}
	return "unknown"
}

func (k Kind) status() int {
	switch k {
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindProtocol:
		return http.StatusBadGateway
	case KindTransientIO:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Error is the taxonomy error carried across package boundaries.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two taxonomy errors by kind, so callers can write
// errors.Is(err, problems.NotFound("")).
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

func InvalidArgument(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidArgument, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func Authentication(format string, args ...any) *Error {
	return &Error{Kind: KindAuthentication, Msg: fmt.Sprintf(format, args...)}
}

func Protocol(format string, args ...any) *Error {
	return &Error{Kind: KindProtocol, Msg: fmt.Sprintf(format, args...)}
}

func TransientIO(msg string, err error) *Error {
	return &Error{Kind: KindTransientIO, Msg: msg, Err: err}
}

// FromStatus classifies a non-2xx remote response into the taxonomy.
func FromStatus(status int, op string, body []byte) *Error {
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return Authentication("%s failed %d: %s", op, status, msg)
	case http.StatusNotFound:
		return NotFound("%s failed %d: %s", op, status, msg)
	default:
		return Protocol("%s failed %d: %s", op, status, msg)
	}
}

// Base returns the base URL for problem type identifiers.
// Order of precedence:
// 1. PROBLEM_BASE_URL (exact base, e.g. https://mydomain.com/problems)
// 2. BASE_PUBLIC_URL + "/problems" (if set)
// 3. https://example.com/problems (fallback)
func Base() string {
	if b := os.Getenv("PROBLEM_BASE_URL"); b != "" {
		return strings.TrimRight(b, "/")
	}
	if b := os.Getenv("BASE_PUBLIC_URL"); b != "" {
		return strings.TrimRight(b, "/") + "/problems"
	}
	return "https://example.com/problems"
}

// Type builds a full problem type URL for the given slug.
func Type(slug string) string { return Base() + "/" + slug }

// WriteHTTP renders err as an application/problem+json response. Taxonomy
// errors map to their status; anything else becomes a 500 with no detail.
func WriteHTTP(w http.ResponseWriter, err error) {
	var pe *Error
	status := http.StatusInternalServerError
	body := map[string]any{
		"type":   Type("internal"),
		"title":  "internal error",
		"status": status,
	}
	if errors.As(err, &pe) {
		status = pe.Kind.status()
		body = map[string]any{
			"type":   Type(pe.Kind.slug()),
			"title":  pe.Msg,
			"status": status,
		}
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
