package errors

import (
	"fmt"
)

// ErrorCode represents different categories of errors
type ErrorCode string

const (
	// ErrCodeMalformedEvent indicates a log that failed normalization. It is dropped, never retried.
	ErrCodeMalformedEvent ErrorCode = "MALFORMED_EVENT"

	// ErrCodeMissingParent indicates the event depends on a game that is not mirrored yet
	ErrCodeMissingParent ErrorCode = "MISSING_PARENT"

	// ErrCodeStateConflict indicates the mirror already holds incompatible state
	ErrCodeStateConflict ErrorCode = "STATE_CONFLICT"

	// ErrCodeTransientStore indicates connection, timeout or lock contention in the store
	ErrCodeTransientStore ErrorCode = "TRANSIENT_STORE"

	// ErrCodeValidation indicates input validation errors
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeNetwork indicates network-related errors
	ErrCodeNetwork ErrorCode = "NETWORK"

	// ErrCodeRPC indicates RPC-related errors
	ErrCodeRPC ErrorCode = "RPC"

	// ErrCodeConfig indicates configuration errors
	ErrCodeConfig ErrorCode = "CONFIG"

	// ErrCodeTimeout indicates timeout errors
	ErrCodeTimeout ErrorCode = "TIMEOUT"

	// ErrCodeInternal indicates internal system errors
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// Severity represents the severity level of an error
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// ReconcileError is the error type shared by the ingestion pipeline. TxHash is
// empty for errors that are not tied to one transaction.
type ReconcileError struct {
	Code     ErrorCode              `json:"code"`
	Message  string                 `json:"message"`
	TxHash   string                 `json:"tx_hash,omitempty"`
	Severity Severity               `json:"severity"`
	Cause    error                  `json:"-"`
	Context  map[string]interface{} `json:"context,omitempty"`
}

// NewReconcileError creates a new ReconcileError
func NewReconcileError(code ErrorCode, txHash, message string, cause error) *ReconcileError {
	return &ReconcileError{
		Code:     code,
		Message:  message,
		TxHash:   txHash,
		Severity: determineSeverity(code),
		Cause:    cause,
		Context:  make(map[string]interface{}),
	}
}

// Error implements the error interface. The cause is included because the
// rendered text is what ends up in the ledger's errorMessage column.
func (e *ReconcileError) Error() string {
	msg := fmt.Sprintf("[%s] %s: %s", e.Code, e.Severity, e.Message)
	if e.TxHash != "" {
		msg = fmt.Sprintf("[%s:%s] %s: %s", e.TxHash, e.Code, e.Severity, e.Message)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *ReconcileError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *ReconcileError) WithContext(key string, value interface{}) *ReconcileError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// IsRetryable returns true if the error is retryable
func (e *ReconcileError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeMissingParent, ErrCodeTransientStore,
		ErrCodeNetwork, ErrCodeRPC, ErrCodeTimeout:
		return true
	default:
		return false
	}
}

func determineSeverity(code ErrorCode) Severity {
	switch code {
	case ErrCodeInternal:
		return SeverityCritical
	case ErrCodeStateConflict, ErrCodeTransientStore:
		return SeverityHigh
	case ErrCodeMissingParent, ErrCodeNetwork, ErrCodeRPC, ErrCodeTimeout:
		return SeverityMedium
	case ErrCodeMalformedEvent, ErrCodeValidation, ErrCodeConfig:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// Common error constructors

// NewMalformedEvent creates a normalization error
func NewMalformedEvent(txHash, message string) *ReconcileError {
	return NewReconcileError(ErrCodeMalformedEvent, txHash, message, nil)
}

// NewMissingParent creates an ordering error for events that reference an unknown game
func NewMissingParent(txHash, gameAddress string) *ReconcileError {
	return NewReconcileError(ErrCodeMissingParent, txHash, "game not mirrored yet", nil).
		WithContext("game_address", gameAddress)
}

// NewStateConflict creates a non-retryable conflict error
func NewStateConflict(txHash, message string, cause error) *ReconcileError {
	return NewReconcileError(ErrCodeStateConflict, txHash, message, cause)
}

// NewTransientStore creates a retryable store error
func NewTransientStore(txHash, message string, cause error) *ReconcileError {
	return NewReconcileError(ErrCodeTransientStore, txHash, message, cause)
}

// NewValidationError creates a validation error
func NewValidationError(message string) *ReconcileError {
	return NewReconcileError(ErrCodeValidation, "", message, nil)
}

// NewNetworkError creates a network error
func NewNetworkError(message string, cause error) *ReconcileError {
	return NewReconcileError(ErrCodeNetwork, "", message, cause)
}

// NewRPCError creates an RPC error
func NewRPCError(message string, cause error) *ReconcileError {
	return NewReconcileError(ErrCodeRPC, "", message, cause)
}

// NewConfigError creates a configuration error
func NewConfigError(message string) *ReconcileError {
	return NewReconcileError(ErrCodeConfig, "", message, nil)
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(txHash, message string, cause error) *ReconcileError {
	return NewReconcileError(ErrCodeTimeout, txHash, message, cause)
}

// NewInternalError creates an internal error
func NewInternalError(message string, cause error) *ReconcileError {
	return NewReconcileError(ErrCodeInternal, "", message, cause)
}
