package domain

import (
	"errors"
	"fmt"
)

// FailureKind is a machine-readable classification of session failures.
type FailureKind string

const (
	KindPermissionDenied   FailureKind = "permission_denied"
	KindBackendUnavailable FailureKind = "backend_unavailable"
	KindCaptureDevice      FailureKind = "capture_device"
	KindTransport          FailureKind = "transport"
	KindRateLimited        FailureKind = "rate_limited"
	KindOversizedAudio     FailureKind = "oversized_audio"
	KindNotConfigured      FailureKind = "not_configured"
)

// Failure wraps an underlying error with a classification the controller
// and the presentation layer can branch on.
type Failure struct {
	Kind    FailureKind
	Message string
	Cause   error
}

func (f *Failure) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Cause)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error { return f.Cause }

// NewFailure builds a classified failure.
func NewFailure(kind FailureKind, message string, cause error) *Failure {
	return &Failure{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the failure kind of err, or "" when err is unclassified.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// IsKind reports whether err carries the given failure kind.
func IsKind(err error, kind FailureKind) bool {
	return KindOf(err) == kind
}

// IsRateLimited reports whether err is a rate-limit transport failure.
func IsRateLimited(err error) bool {
	return IsKind(err, KindRateLimited)
}
