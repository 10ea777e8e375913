// Package errors provides standardized error types for the mtlsctl CLI tool.
//
// The errors package defines the failure taxonomy of the certificate
// lifecycle so callers can branch on a category instead of matching
// error strings.
//
// # Error Types
//
// CertError is the primary error type, containing:
//   - Code: Categorizes the error (DNS_RESOLUTION, CA_NOT_INITIALIZED, etc.)
//   - Message: Human-readable error description
//   - Subject: The domain or identity involved (if applicable)
//   - Err: The underlying wrapped error (if any)
//
// # Sentinel Errors
//
// Every category has a pre-defined sentinel:
//
//	errors.ErrDNSResolution       // domain has no A or AAAA record
//	errors.ErrPortUnreachable     // challenge port could not be reached
//	errors.ErrRateLimited         // ACME service throttled the request
//	errors.ErrRemoteRejected      // ACME service refused the order
//	errors.ErrCANotInitialized    // no root CA in the store
//	errors.ErrSerialConflict      // CA serial counter changed underneath us
//	errors.ErrConfigValidation    // rendered proxy config failed validation
//	errors.ErrPermissionDenied    // filesystem or privilege failure
//
// # Usage
//
//	return errors.New(errors.ErrCodeDNSResolution, "example.org", "no address records", err)
//
// Comparison is by code, so any CertError with the same code matches its
// sentinel:
//
//	if errors.Is(err, errors.ErrDNSResolution) {
//	    // Handle DNS failure
//	}
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes errors for programmatic handling.
type ErrorCode string

// Error codes for different error categories.
const (
	ErrCodeDNSResolution    ErrorCode = "DNS_RESOLUTION"     // Domain does not resolve
	ErrCodePortUnreachable  ErrorCode = "PORT_UNREACHABLE"   // Challenge port probe failed
	ErrCodeRateLimited      ErrorCode = "RATE_LIMITED"       // Remote issuer throttled
	ErrCodeRemoteRejected   ErrorCode = "REMOTE_REJECTED"    // Remote issuer refused
	ErrCodeCANotInitialized ErrorCode = "CA_NOT_INITIALIZED" // Root CA missing
	ErrCodeSerialConflict   ErrorCode = "SERIAL_CONFLICT"    // Serial counter raced
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"  // Proxy config invalid
	ErrCodePermission       ErrorCode = "PERMISSION"         // Permission denied
	ErrCodeValidation       ErrorCode = "VALIDATION"         // Input validation failed
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"          // Certificate or entry not found
	ErrCodeExpired          ErrorCode = "EXPIRED"            // Certificate already expired
	ErrCodeInternal         ErrorCode = "INTERNAL"           // Internal/unexpected error
)

// CertError represents a structured error with context about the operation.
type CertError struct {
	Code    ErrorCode // Error category
	Message string    // Human-readable message
	Subject string    // Domain or identity name (if applicable)
	Err     error     // Underlying error (if any)
}

// Error implements the error interface.
func (e *CertError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Subject != "" && e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Subject, msg, e.Err)
	}
	if e.Subject != "" {
		return fmt.Sprintf("%s: %s", e.Subject, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error for error chain traversal.
func (e *CertError) Unwrap() error {
	return e.Err
}

// Is reports whether target matches this error.
// Comparison is based on error code.
func (e *CertError) Is(target error) bool {
	t, ok := target.(*CertError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Sentinel errors for common error scenarios.
// Use these with errors.Is() for error checking.
var (
	// ErrDNSResolution indicates the domain resolved on neither address family.
	ErrDNSResolution = &CertError{Code: ErrCodeDNSResolution, Message: "dns resolution failed"}

	// ErrPortUnreachable indicates the challenge port never accepted a connection.
	ErrPortUnreachable = &CertError{Code: ErrCodePortUnreachable, Message: "challenge port unreachable"}

	// ErrRateLimited indicates the ACME service rate-limited the request.
	ErrRateLimited = &CertError{Code: ErrCodeRateLimited, Message: "remote issuer rate limited"}

	// ErrRemoteRejected indicates the ACME service rejected the order or challenge.
	ErrRemoteRejected = &CertError{Code: ErrCodeRemoteRejected, Message: "remote issuer rejected request"}

	// ErrCANotInitialized indicates an operation needed a CA that does not exist yet.
	ErrCANotInitialized = &CertError{Code: ErrCodeCANotInitialized, Message: "certificate authority not initialized"}

	// ErrSerialConflict indicates the serial counter was modified concurrently.
	ErrSerialConflict = &CertError{Code: ErrCodeSerialConflict, Message: "serial counter conflict"}

	// ErrConfigValidation indicates a rendered configuration was rejected.
	ErrConfigValidation = &CertError{Code: ErrCodeConfigValidation, Message: "configuration validation failed"}

	// ErrPermissionDenied indicates insufficient privileges for the operation.
	ErrPermissionDenied = &CertError{Code: ErrCodePermission, Message: "permission denied"}

	// ErrRootRequired indicates root privileges are required.
	ErrRootRequired = &CertError{Code: ErrCodePermission, Message: "root privileges required"}

	// ErrInvalidInput indicates a caller-supplied value failed validation.
	ErrInvalidInput = &CertError{Code: ErrCodeValidation, Message: "invalid input"}

	// ErrNotFound indicates the named certificate or inventory entry is unknown.
	ErrNotFound = &CertError{Code: ErrCodeNotFound, Message: "not found"}

	// ErrCertificateExpired indicates a managed certificate is past its not-after.
	ErrCertificateExpired = &CertError{Code: ErrCodeExpired, Message: "certificate expired"}
)

// New creates an error with code, subject, message and optional cause.
func New(code ErrorCode, subject, msg string, err error) error {
	return &CertError{
		Code:    code,
		Message: msg,
		Subject: subject,
		Err:     err,
	}
}

// Validation creates a validation error with a custom message.
func Validation(msg string) error {
	return &CertError{
		Code:    ErrCodeValidation,
		Message: msg,
	}
}

// Validationf creates a validation error from a format string.
func Validationf(format string, args ...interface{}) error {
	return Validation(fmt.Sprintf(format, args...))
}

// NotFound creates an error for an unknown certificate, identity or domain.
func NotFound(subject string) error {
	return &CertError{
		Code:    ErrCodeNotFound,
		Message: "not found",
		Subject: subject,
	}
}

// Wrap creates an error with the specified code, message, and underlying error.
func Wrap(code ErrorCode, msg string, err error) error {
	return &CertError{
		Code:    code,
		Message: msg,
		Err:     err,
	}
}

// CodeOf returns the code of the first CertError in err's chain.
// INTERNAL is returned for foreign errors and "" for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var ce *CertError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ErrCodeInternal
}

// Is reports whether any error in err's chain matches target.
// This is a re-export of errors.Is for convenience.
var Is = errors.Is

// As finds the first error in err's chain that matches target.
// This is a re-export of errors.As for convenience.
var As = errors.As

// Join is a re-export of errors.Join for convenience.
var Join = errors.Join
