// Package orcherrors classifies failures raised anywhere in the deployment
// flow. Go has no equivalent of an error thrown with arbitrary bag-of-properties
// attached, so classification is a closed set of Kind values and the dseq/
// provider context a failed step needs to hand to the next attempt is carried
// as explicit struct fields instead.
package orcherrors

import (
	"errors"
	"fmt"
)

type Kind int

const (
	InvalidArgument Kind = iota
	Unauthorized
	Timeout
	ExternalProtocol
	ExternalMalformed
	ProviderUnavailable
	AllProvidersFailed
	CertificateIssue
	CacheError
	MeteringError
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid_argument"
	case Unauthorized:
		return "unauthorized"
	case Timeout:
		return "timeout"
	case ExternalProtocol:
		return "external_protocol"
	case ExternalMalformed:
		return "external_malformed"
	case ProviderUnavailable:
		return "provider_unavailable"
	case AllProvidersFailed:
		return "all_providers_failed"
	case CertificateIssue:
		return "certificate_issue"
	case CacheError:
		return "cache_error"
	case MeteringError:
		return "metering_error"
	default:
		return "unknown"
	}
}

// Error is the one error type the core raises. Dseq and Provider are set
// only where a caller further up the chain needs them (a failed deploy-bot
// step surfaces Dseq so the next attempt's cleanup step can close it).
type Error struct {
	Kind     Kind
	Dseq     string
	Provider string
	// FailedProviders is populated only on AllProvidersFailed.
	FailedProviders []string
	Err             error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind.String(), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Err: errors.New(msg)}
}

func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func WithDseq(kind Kind, dseq string, err error) *Error {
	return &Error{Kind: kind, Dseq: dseq, Err: err}
}

func AllFailed(failedProviders []string, last error) *Error {
	return &Error{Kind: AllProvidersFailed, FailedProviders: failedProviders, Err: last}
}

// KindOf reports the Kind of err, or false if err is not (or does not wrap)
// an *Error.
func KindOf(err error) (Kind, bool) {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind, true
	}
	return 0, false
}

// IsRetryable reports whether the failure should be retried by the caller's
// own attempt ceiling (Timeout and ExternalMalformed) or by exponential
// backoff at the transport level (ExternalProtocol, which callers only ever
// construct for the 429/503/504 status codes per spec — see
// internal/marketplace).
func IsRetryable(err error) bool {
	k, ok := KindOf(err)
	if !ok {
		return false
	}
	switch k {
	case Timeout, ExternalProtocol, ExternalMalformed:
		return true
	default:
		return false
	}
}

func IsProviderUnavailable(err error) bool {
	k, ok := KindOf(err)
	return ok && k == ProviderUnavailable
}

// Fatal reports whether err should abort the whole bid iteration rather
// than move on to the next bid (spec.md §4.3 step 3f).
func Fatal(err error) bool {
	if err == nil {
		return false
	}
	k, ok := KindOf(err)
	if !ok {
		return true // unclassified errors are never locally recoverable
	}
	switch k {
	case ProviderUnavailable, Timeout, ExternalProtocol, ExternalMalformed:
		return false
	default:
		return true
	}
}
