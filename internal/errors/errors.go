package errors

import (
	"errors"
	"fmt"
	"time"
)

// Base error types
var (
	ErrNotFound         = errors.New("not found")
	ErrTimeout          = errors.New("timeout")
	ErrConnectionFailed = errors.New("connection failed")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrVerification     = errors.New("signature verification failed")
	ErrNoData           = errors.New("no data available")
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeTransient   ErrorType = "transient"   // connection/network failures, retried
	ErrorTypeTransaction ErrorType = "transaction" // purchase submission/result failures, never retried
	ErrorTypeIntegrity   ErrorType = "integrity"   // signature verification failures
	ErrorTypeContract    ErrorType = "contract"    // engine misconfiguration, fails fast
	ErrorTypeMalformed   ErrorType = "malformed"   // unparsable backend data, degraded not fatal
)

// SyncError is a structured error for sync and purchase operations
type SyncError struct {
	Type      ErrorType
	Op        string // Operation that failed (e.g., "fetch_offers", "submit_purchase")
	ProductID string // Product involved, if applicable
	Attempt   int    // Attempt number for retried operations
	Code      int    // Backend response code if applicable
	Err       error  // Underlying error
	Timestamp time.Time
	Retryable bool
}

func (e *SyncError) Error() string {
	if e.ProductID != "" {
		return fmt.Sprintf("%s failed for %s: %v", e.Op, e.ProductID, e.Err)
	}
	if e.Attempt > 0 {
		return fmt.Sprintf("%s failed (attempt %d): %v", e.Op, e.Attempt, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *SyncError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrConnectionFailed:
		return e.Type == ErrorTypeTransient
	case ErrVerification:
		return e.Type == ErrorTypeIntegrity
	case ErrInvalidConfig:
		return e.Type == ErrorTypeContract
	}

	return errors.Is(e.Err, target)
}

// New creates a new SyncError
func New(errorType ErrorType, op string, err error) *SyncError {
	return &SyncError{
		Type:      errorType,
		Op:        op,
		Err:       err,
		Timestamp: time.Now(),
		Retryable: errorType == ErrorTypeTransient,
	}
}

// WithProduct adds product information to the error
func (e *SyncError) WithProduct(productID string) *SyncError {
	e.ProductID = productID
	return e
}

// WithAttempt adds the attempt number to the error
func (e *SyncError) WithAttempt(attempt int) *SyncError {
	e.Attempt = attempt
	return e
}

// WithCode adds the backend response code to the error
func (e *SyncError) WithCode(code int) *SyncError {
	e.Code = code
	return e
}

// Helper functions

// WrapTransient wraps a network/connection error with context
func WrapTransient(op string, err error) error {
	return New(ErrorTypeTransient, op, err)
}

// WrapTransaction wraps a purchase transaction error with context
func WrapTransaction(op, productID string, err error) error {
	return New(ErrorTypeTransaction, op, err).WithProduct(productID)
}

// WrapContract wraps a configuration/contract error with context
func WrapContract(op string, err error) error {
	return New(ErrorTypeContract, op, err)
}

// IsRetryable checks if an error should be retried
func IsRetryable(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Retryable
	}

	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnectionFailed)
}
