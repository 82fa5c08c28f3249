package convert

import (
	"errors"
	"fmt"
)

// ErrNoResponse marks failures where the service never answered.
var ErrNoResponse = errors.New("no response from conversion service")

// ServiceError is a non-2xx answer carrying a structured {"error": "..."} body.
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("conversion service returned HTTP %d: %s", e.StatusCode, e.Message)
}

// TransportError is a failed exchange with no structured service message:
// a non-2xx without a JSON error, an unreadable success body, or a timeout.
// StatusCode is 0 when no response arrived.
type TransportError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
