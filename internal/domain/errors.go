package domain

import (
	"errors"
	"fmt"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "get", "pin", "query")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ValidationError is returned before any network call when input is malformed.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError builds a ValidationError from a formatted message.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Err: fmt.Errorf(format, args...)}
}

// ServiceError labels a failure of an external collaborator (ledger, database,
// storage gateway, mirror node) with the service and operation that failed.
type ServiceError struct {
	Service string
	Op      string
	Err     error
}

func (e *ServiceError) Error() string {
	return e.Service + " " + e.Op + " failed: " + e.Err.Error()
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// IsRetriable defers to the wrapped error.
func (e *ServiceError) IsRetriable() bool {
	return IsRetriable(e.Err)
}

// WrapService wraps err as a ServiceError. A nil err stays nil.
func WrapService(service, op string, err error) error {
	if err == nil {
		return nil
	}
	return &ServiceError{Service: service, Op: op, Err: err}
}

// TransactionStatusError is returned when the ledger reports anything but SUCCESS.
type TransactionStatusError struct {
	Op     string
	Status string
}

func (e *TransactionStatusError) Error() string {
	return e.Op + " failed with status: " + e.Status
}

var (
	// ErrWalletNotConnected is returned when an operation needs a wallet and none is attached.
	ErrWalletNotConnected = errors.New("wallet not connected")

	// ErrTokenNotAssociated is returned when the account has not associated the token yet.
	ErrTokenNotAssociated = errors.New("token not associated with account")

	// ErrUnsupportedWallet is returned for operations a wallet variant cannot perform.
	ErrUnsupportedWallet = errors.New("operation not supported for wallet type")

	// ErrInvalidSide is returned when a trade direction is neither buy nor sell.
	ErrInvalidSide = errors.New("invalid trade side")

	// ErrNotFound is returned by lookups that found no row.
	ErrNotFound = errors.New("not found")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
