package upstream

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailureKind classifies a non-success upstream outcome.
type FailureKind string

const (
	// FailureUnauthenticated means the credential is missing, expired or refused.
	FailureUnauthenticated FailureKind = "unauthenticated"
	// FailureRejected covers permission and not-found responses for one resource.
	FailureRejected FailureKind = "upstream-rejected"
	// FailureUnavailable covers quota, server and transport failures.
	FailureUnavailable FailureKind = "upstream-unavailable"
)

// Failure is the only error type returned by Client methods.
type Failure struct {
	Kind     FailureKind
	Resource string
	Status   int
	Err      error
}

func (f *Failure) Error() string {
	if f == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s %s", f.Resource, f.Kind)
	if f.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, f.Status)
	}
	if f.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, f.Err)
	}
	return msg
}

func (f *Failure) Unwrap() error {
	if f == nil {
		return nil
	}
	return f.Err
}

// KindOf returns the failure kind of err, defaulting to FailureUnavailable for
// foreign errors.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return FailureUnavailable
}

// IsUnauthenticated reports whether err is an authentication failure.
func IsUnauthenticated(err error) bool {
	return err != nil && KindOf(err) == FailureUnauthenticated
}

func newFailure(resource string, kind FailureKind, status int, err error) *Failure {
	return &Failure{Kind: kind, Resource: resource, Status: status, Err: err}
}

// classifyStatus maps an HTTP status (and body hints for quota errors served
// as 403) to a failure kind.
func classifyStatus(status int, body string) FailureKind {
	switch {
	case status == http.StatusUnauthorized:
		return FailureUnauthenticated
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return FailureUnavailable
	case status == http.StatusForbidden && isQuotaBody(body):
		return FailureUnavailable
	case status == http.StatusBadRequest || status == http.StatusForbidden || status == http.StatusNotFound:
		return FailureRejected
	default:
		return FailureUnavailable
	}
}

func isQuotaBody(body string) bool {
	lowered := strings.ToLower(body)
	return strings.Contains(lowered, "ratelimitexceeded") ||
		strings.Contains(lowered, "rate_limit_exceeded") ||
		strings.Contains(lowered, "quota")
}
