package errors

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

// WrapReconcileError wraps an error as a ReconcileError if it isn't already one
func WrapReconcileError(err error, code ErrorCode, txHash, message string) *ReconcileError {
	if err == nil {
		return nil
	}

	var recErr *ReconcileError
	if errors.As(err, &recErr) {
		recErr.WithContext("wrapped_message", message)
		if txHash != "" && recErr.TxHash == "" {
			recErr.TxHash = txHash
		}
		return recErr
	}

	return NewReconcileError(code, txHash, message, err)
}

// HasCode checks if an error is a ReconcileError with the given code
func HasCode(err error, code ErrorCode) bool {
	var recErr *ReconcileError
	if errors.As(err, &recErr) {
		return recErr.Code == code
	}
	return false
}

// CodeOf returns the code of a ReconcileError, or ErrCodeInternal for anything else
func CodeOf(err error) ErrorCode {
	var recErr *ReconcileError
	if errors.As(err, &recErr) {
		return recErr.Code
	}
	return ErrCodeInternal
}

const contextFailureRecorded = "failure_recorded"

// NewUnrecordedFailure reports an apply failure that could not be written to
// the ledger. The hash has no failed entry for the sweeper to pick up.
func NewUnrecordedFailure(txHash string, applyErr, recordErr error) *ReconcileError {
	return NewTransientStore(txHash, "failure not recorded", recordErr).
		WithContext(contextFailureRecorded, false).
		WithContext("apply_error", applyErr.Error())
}

// IsUnrecordedFailure reports whether err is a failure the ledger does not know about
func IsUnrecordedFailure(err error) bool {
	var recErr *ReconcileError
	if !errors.As(err, &recErr) {
		return false
	}
	recorded, ok := recErr.Context[contextFailureRecorded].(bool)
	return ok && !recorded
}

var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"timed out",
	"temporary failure",
	"too many requests",
	"rate limit",
	"database is locked",
	"database table is locked",
	"busy",
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var recErr *ReconcileError
	if errors.As(err, &recErr) {
		return recErr.IsRetryable()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return containsAny(strings.ToLower(err.Error()), retryablePatterns)
}

var conflictPatterns = []string{
	"unique constraint failed",
	"constraint failed",
	"duplicate key",
	"foreign key constraint",
}

// ClassifyStoreError maps an error returned by the mirror store onto the
// reconciliation taxonomy. ReconcileErrors pass through untouched, constraint
// violations become STATE_CONFLICT and everything else is TRANSIENT_STORE,
// including timeouts.
func ClassifyStoreError(txHash string, err error) *ReconcileError {
	if err == nil {
		return nil
	}

	var recErr *ReconcileError
	if errors.As(err, &recErr) {
		if recErr.TxHash == "" {
			recErr.TxHash = txHash
		}
		return recErr
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) ||
		errors.Is(err, gorm.ErrForeignKeyViolated) ||
		errors.Is(err, gorm.ErrCheckConstraintViolated) {
		return NewStateConflict(txHash, "constraint violation", err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewTransientStore(txHash, "store operation timed out", err)
	}

	if errors.Is(err, context.Canceled) {
		return NewTransientStore(txHash, "store operation cancelled", err)
	}

	if containsAny(strings.ToLower(err.Error()), conflictPatterns) {
		return NewStateConflict(txHash, "constraint violation", err)
	}

	return NewTransientStore(txHash, "store operation failed", err)
}

func containsAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}
