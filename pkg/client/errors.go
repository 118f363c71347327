package client

import (
	"fmt"
	"net/http"
)

// ErrorClass represents a classification of failed requests.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors (typically a malformed $filter).
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents transport and timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode represents bodies that are not a JSON object.
	ErrorClassDecode ErrorClass = "decode"
)

// APIError is returned for any page request that cannot be turned into a Page.
// The crawler treats every APIError as fatal for the run.
type APIError struct {
	StatusCode int
	ErrorClass ErrorClass
	Skip       int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("retail prices %s error (status %d, skip %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Skip, e.Message, e.Err)
	}
	return fmt.Sprintf("retail prices %s error (status %d, skip %d): %s",
		e.ErrorClass, e.StatusCode, e.Skip, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status onto an ErrorClass. Success codes map to "".
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}
