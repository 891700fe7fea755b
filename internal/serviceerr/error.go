// Package serviceerr carries the dotted error codes services expose to transports.
package serviceerr

import (
	"errors"
	"fmt"
)

// ServiceError pairs a stable code ("<operation>.<reason>") with its cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the dotted error code.
func (e *ServiceError) Code() string {
	return e.code
}

// New builds a ServiceError for operation and reason.
func New(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// CodeOf extracts the code of the first ServiceError in err's chain.
func CodeOf(err error) (string, bool) {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code(), true
	}
	return "", false
}
