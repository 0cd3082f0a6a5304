package model

import (
	"errors"
	"fmt"
)

// SDKError is the base error type for model invocation errors.
type SDKError struct {
	Message string
	Cause   error
}

func (e *SDKError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SDKError) Unwrap() error {
	return e.Cause
}

// ProviderError is an error returned by a model provider.
type ProviderError struct {
	SDKError
	Provider   string
	StatusCode int
	Retryable  bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
}

// Concrete provider error kinds.

type AuthenticationError struct{ ProviderError }
type AccessDeniedError struct{ ProviderError }
type NotFoundError struct{ ProviderError }
type InvalidRequestError struct{ ProviderError }
type RateLimitError struct{ ProviderError }
type ServerError struct{ ProviderError }
type ContentFilterError struct{ ProviderError }
type ContextLengthError struct{ ProviderError }

// Non-provider errors.

type RequestTimeoutError struct{ SDKError }
type NetworkError struct{ SDKError }
type StreamInterruptedError struct{ SDKError }
type ConfigurationError struct{ SDKError }

// AbortError reports that the caller's context ended the invocation.
type AbortError struct{ SDKError }

// ErrorFromStatusCode maps an HTTP status code to the matching error kind.
func ErrorFromStatusCode(statusCode int, message, provider string) error {
	pe := ProviderError{
		SDKError:   SDKError{Message: message},
		Provider:   provider,
		StatusCode: statusCode,
	}

	switch statusCode {
	case 400, 422:
		return &InvalidRequestError{ProviderError: pe}
	case 401:
		return &AuthenticationError{ProviderError: pe}
	case 403:
		return &AccessDeniedError{ProviderError: pe}
	case 404:
		return &NotFoundError{ProviderError: pe}
	case 408:
		return &RequestTimeoutError{SDKError: SDKError{Message: message}}
	case 413:
		return &ContextLengthError{ProviderError: pe}
	case 429:
		pe.Retryable = true
		return &RateLimitError{ProviderError: pe}
	case 500, 502, 503, 504:
		pe.Retryable = true
		return &ServerError{ProviderError: pe}
	default:
		pe.Retryable = true
		return &pe
	}
}

// IsRetryable reports whether err is safe to retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var (
		auth       *AuthenticationError
		denied     *AccessDeniedError
		notFound   *NotFoundError
		invalid    *InvalidRequestError
		ctxLen     *ContextLengthError
		filtered   *ContentFilterError
		configErr  *ConfigurationError
		abort      *AbortError
		interrupt  *StreamInterruptedError
		rateLimit  *RateLimitError
		server     *ServerError
		network    *NetworkError
		timeout    *RequestTimeoutError
		providerEr *ProviderError
	)
	switch {
	case errors.As(err, &auth), errors.As(err, &denied), errors.As(err, &notFound),
		errors.As(err, &invalid), errors.As(err, &ctxLen), errors.As(err, &filtered),
		errors.As(err, &configErr), errors.As(err, &abort), errors.As(err, &interrupt):
		return false
	case errors.As(err, &rateLimit), errors.As(err, &server), errors.As(err, &network),
		errors.As(err, &timeout):
		return true
	case errors.As(err, &providerEr):
		return providerEr.Retryable
	default:
		// Unknown errors default to retryable.
		return true
	}
}
