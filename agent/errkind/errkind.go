// Package errkind defines the error-kind taxonomy from spec section 7 and a
// small wrapper type so every layer of the pipeline can classify a failure
// without re-deriving its retry/fatality policy at the call site.
package errkind

import "errors"

// Kind tags an error with its handling policy.
type Kind string

const (
	// ConfigError is fatal at startup.
	ConfigError Kind = "config_error"
	// ChainError is retryable with backoff; surfaces as failed_transient
	// then a Notifier alert once the retry budget is exhausted.
	ChainError Kind = "chain_error"
	// DecodeError is non-retryable; it routes to an Unsupported action.
	DecodeError Kind = "decode_error"
	// FetchError is retryable within a budget; becomes a blocking finding
	// on exhaustion.
	FetchError Kind = "fetch_error"
	// LLMError is retryable across providers; becomes a blocking finding
	// when every configured provider fails.
	LLMError Kind = "llm_error"
	// PreflightError is non-fatal; the proposal transitions to skipped
	// with a reason.
	PreflightError Kind = "preflight_error"
	// SignerError is fatal for the affected tick only.
	SignerError Kind = "signer_error"
	// StorageError is fatal — data integrity cannot be compromised.
	StorageError Kind = "storage_error"
)

// Error pairs a Kind with an underlying cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with kind. Returns nil if err is nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Retryable reports whether the kind is ever locally retried with backoff,
// per the policy in spec section 7.
func (k Kind) Retryable() bool {
	switch k {
	case ChainError, FetchError, LLMError:
		return true
	default:
		return false
	}
}
