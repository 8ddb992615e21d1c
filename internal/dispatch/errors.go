package dispatch

import (
	"errors"
	"net/http"

	"github.com/wolfman30/medspa-consent-intake/internal/channels/whatsapp"
)

// Kind classifies a failed send.
type Kind string

const (
	TransientNetworkError Kind = "transient"
	AuthError             Kind = "auth"
	RejectedByProvider    Kind = "rejected"
)

// DispatchError reports why a notification could not be delivered.
type DispatchError struct {
	Kind Kind
	Err  error
}

func (e *DispatchError) Error() string {
	if e.Err == nil {
		return "dispatch: " + string(e.Kind)
	}
	return "dispatch: " + string(e.Kind) + ": " + e.Err.Error()
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt may succeed.
func (e *DispatchError) Retryable() bool {
	return e != nil && e.Kind == TransientNetworkError
}

// Graph API error codes. See the WhatsApp Cloud API error code reference.
var (
	transientCodes = map[int]bool{
		1:      true, // unknown API error
		2:      true, // service temporarily unavailable
		4:      true, // application rate limit
		80007:  true, // WABA rate limit
		130429: true, // throughput limit
		131000: true, // something went wrong
		131016: true, // service unavailable
	}
	authCodes = map[int]bool{
		10:  true, // permission denied
		190: true, // access token expired or invalid
	}
)

// Classify maps a send error onto a Kind. Errors that are not API responses
// (transport failures, timeouts) are treated as transient.
func Classify(err error) Kind {
	var dispatchErr *DispatchError
	if errors.As(err, &dispatchErr) {
		return dispatchErr.Kind
	}
	var apiErr *whatsapp.APIError
	if !errors.As(err, &apiErr) {
		return TransientNetworkError
	}

	switch {
	case authCodes[apiErr.Code], apiErr.Code >= 200 && apiErr.Code <= 299:
		return AuthError
	case transientCodes[apiErr.Code]:
		return TransientNetworkError
	case apiErr.StatusCode == http.StatusUnauthorized, apiErr.StatusCode == http.StatusForbidden:
		return AuthError
	case apiErr.StatusCode == http.StatusTooManyRequests, apiErr.StatusCode >= 500:
		return TransientNetworkError
	}
	return RejectedByProvider
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	return err != nil && Classify(err) == TransientNetworkError
}
