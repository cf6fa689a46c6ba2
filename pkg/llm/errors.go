package llm

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrorKind classifies adapter and gateway failures. Only Overflow and
// ModelUnavailable are recoverable; everything else propagates
// immediately.
type ErrorKind string

const (
	KindConfig           ErrorKind = "config"
	KindAuth             ErrorKind = "auth"
	KindQuota            ErrorKind = "quota"
	KindOverflow         ErrorKind = "overflow"
	KindModelUnavailable ErrorKind = "model_unavailable"
	KindTransient        ErrorKind = "transient"
)

// Error is the single typed error value carried across the gateway.
// Provider is the backend key the message should be attributed to.
// Requested holds the token figure a backend reported for an overflow
// rejection, or 0 when none was present.
type Error struct {
	Kind      ErrorKind
	Provider  string
	Message   string
	Requested int
}

func (e *Error) Error() string {
	if e.Provider == "" {
		return e.Message
	}
	return e.Provider + ": " + e.Message
}

// Errf builds an Error with a formatted message.
func Errf(kind ErrorKind, provider, format string, args ...any) *Error {
	return &Error{Kind: kind, Provider: provider, Message: fmt.Sprintf(format, args...)}
}

// AsError unwraps err into *Error if one is present in its chain.
func AsError(err error) (*Error, bool) {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr, true
	}
	return nil, false
}

// IsKind reports whether err carries an Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	lerr, ok := AsError(err)
	return ok && lerr.Kind == kind
}

// wrapTransient coerces an arbitrary transport error into the taxonomy
// without retrying it.
func wrapTransient(provider string, err error) *Error {
	if lerr, ok := AsError(err); ok {
		return lerr
	}
	return &Error{Kind: KindTransient, Provider: provider, Message: err.Error()}
}

var requestedRe = regexp.MustCompile(`Requested\D*(\d+)`)

// ParseRequested extracts the first integer following the word
// "Requested" from a backend error message. Returns 0 when absent.
func ParseRequested(msg string) int {
	m := requestedRe.FindStringSubmatch(msg)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// Classify maps a backend HTTP status and response body onto the error
// taxonomy. The body is kept in the message so operators can see the
// backend's own wording.
func Classify(provider string, status int, body string) *Error {
	msg := strings.TrimSpace(body)
	if msg == "" {
		msg = fmt.Sprintf("request failed with status %d", status)
	}
	lower := strings.ToLower(msg)
	requested := ParseRequested(msg)

	switch {
	case status == 401 || status == 403:
		return &Error{Kind: KindAuth, Provider: provider, Message: msg}
	case status == 413:
		return &Error{Kind: KindOverflow, Provider: provider, Message: msg, Requested: requested}
	case status == 429 && containsAny(lower, "quota", "billing", "insufficient_quota"):
		return &Error{Kind: KindQuota, Provider: provider, Message: msg}
	case status == 429 && (requested > 0 || containsAny(lower, "token", "request too large")):
		return &Error{Kind: KindOverflow, Provider: provider, Message: msg, Requested: requested}
	case status == 402:
		return &Error{Kind: KindQuota, Provider: provider, Message: msg}
	case (status == 404 || status == 400) && strings.Contains(lower, "model") &&
		containsAny(lower, "not found", "not supported", "does not exist", "unsupported"):
		return &Error{Kind: KindModelUnavailable, Provider: provider, Message: msg}
	case status == 400 && containsAny(lower, "context length", "too long", "maximum context", "token"):
		return &Error{Kind: KindOverflow, Provider: provider, Message: msg, Requested: requested}
	default:
		return &Error{Kind: KindTransient, Provider: provider, Message: msg}
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
