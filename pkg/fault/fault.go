// Package fault defines the failure kinds shared by the signer, the token
// broker and the proxy, and maps them to HTTP statuses.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure so callers can branch on its class instead of
// inspecting messages.
type Kind string

const (
	KindUnknown             Kind = "Unknown"
	KindConfiguration       Kind = "ConfigurationError"
	KindSigning             Kind = "SigningError"
	KindUpstreamUnreachable Kind = "UpstreamUnreachable"
	KindUpstreamUnavailable Kind = "UpstreamUnavailable"
	KindCredentialRejected  Kind = "CredentialRejected"
	KindMalformedResponse   Kind = "MalformedUpstreamResponse"
	KindUpstreamRejected    Kind = "UpstreamRejected"
	KindBadRequest          Kind = "BadRequest"
)

// Error is a classified failure. Status and Body are only set for failures
// that came back from an upstream HTTP call.
type Error struct {
	Kind   Kind
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns a classified error with a plain message cause.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Upstream builds a classified error for an unsuccessful upstream response.
func Upstream(kind Kind, op string, status int, body []byte) *Error {
	return &Error{
		Kind:   kind,
		Op:     op,
		Status: status,
		Body:   string(body),
		Err:    fmt.Errorf("upstream returned status %d", status),
	}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a kind to the status returned to downstream callers.
// Only caller mistakes surface as 4xx; every upstream or internal failure is
// a 500.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ClassifyStatus maps an upstream HTTP status to a failure kind. clientKind
// is used for 4xx so the token endpoint and resource server can differ.
func ClassifyStatus(status int, clientKind Kind) Kind {
	switch {
	case status >= 500:
		return KindUpstreamUnavailable
	case status >= 400:
		return clientKind
	default:
		return KindMalformedResponse
	}
}
