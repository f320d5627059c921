package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/casualjim/relay/messages"
)

// StatusOverloaded is the non-standard status a provider uses when it sheds load.
const StatusOverloaded = 529

// ServerError is a failure on the provider side or in the transport to it.
// It is the only class of error that triggers a fallback.
type ServerError struct {
	Provider   messages.Provider
	StatusCode int
	Message    string
	Err        error
}

func (e *ServerError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: transport failure: %s", e.Provider, e.describe())
	}
	return fmt.Sprintf("%s: server error %d: %s", e.Provider, e.StatusCode, e.describe())
}

func (e *ServerError) describe() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return http.StatusText(e.StatusCode)
}

func (e *ServerError) Unwrap() error { return e.Err }

// ClientError is a failure caused by the request itself. It is surfaced
// immediately and never retried against another provider.
type ClientError struct {
	Provider   messages.Provider
	StatusCode int
	Message    string
	Err        error
}

func (e *ClientError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: invalid request: %s", e.Provider, msg)
	}
	return fmt.Sprintf("%s: client error %d: %s", e.Provider, e.StatusCode, msg)
}

func (e *ClientError) Unwrap() error { return e.Err }

// BothProvidersFailedError aggregates the failures of the primary and the
// fallback provider.
type BothProvidersFailedError struct {
	Primary     messages.Provider
	Fallback    messages.Provider
	PrimaryErr  error
	FallbackErr error
}

func (e *BothProvidersFailedError) Error() string {
	return fmt.Sprintf("both providers failed: %s: %v; %s: %v", e.Primary, e.PrimaryErr, e.Fallback, e.FallbackErr)
}

func (e *BothProvidersFailedError) Unwrap() []error {
	return []error{e.PrimaryErr, e.FallbackErr}
}

// FromStatus classifies an HTTP failure by status code.
func FromStatus(provider messages.Provider, status int, message string, cause error) error {
	if IsServerStatus(status) {
		return &ServerError{Provider: provider, StatusCode: status, Message: message, Err: cause}
	}
	return &ClientError{Provider: provider, StatusCode: status, Message: message, Err: cause}
}

// IsServerStatus reports whether status is a server-class status.
func IsServerStatus(status int) bool {
	return status >= http.StatusInternalServerError || status == StatusOverloaded
}

// Transport wraps a failure to reach the provider. Context cancellation is
// kept as is so it is never mistaken for a provider outage.
func Transport(provider messages.Provider, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &ServerError{Provider: provider, Err: err}
}

// IsServerError reports whether err should trigger a fallback.
func IsServerError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *ServerError
	return errors.As(err, &se)
}
