package events

import "errors"

// ErrNotFound is returned by stores when no event has the requested id.
var ErrNotFound = errors.New("event not found")

// Kind classifies service failures for the transport layer.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Error is a classified failure with a client-visible message. Err holds
// the cause for server-side logging only.
type Error struct {
	Kind    Kind
	Message string
	// Details lists individual field failures for validation errors.
	Details []string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the kind of err. Unclassified errors are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	return KindInternal
}

// withPrefix returns a copy of err with prefix prepended to its message,
// classifying unknown errors with fallback.
func withPrefix(prefix string, err error, fallback Kind) *Error {
	var e *Error
	if errors.As(err, &e) {
		return &Error{Kind: e.Kind, Message: prefix + e.Message, Details: e.Details, Err: err}
	}
	return &Error{Kind: fallback, Message: prefix + err.Error(), Err: err}
}
