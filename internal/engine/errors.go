package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/tandem/internal/ir"
)

// ErrStopped is returned when the engine loop is not running.
var ErrStopped = errors.New("engine: stopped")

// SyncErrorCode categorizes engine errors.
type SyncErrorCode string

const (
	// ErrCodeFetchFailed: a load could not be completed. The store is
	// unchanged and a refetch may succeed.
	ErrCodeFetchFailed SyncErrorCode = "FETCH_FAILED"

	// ErrCodeMutateFailed: the remote source rejected a mutation. The
	// optimistic write has been rolled back.
	ErrCodeMutateFailed SyncErrorCode = "MUTATE_FAILED"

	// ErrCodeSubscriptionDropped: the push channel could not be opened or
	// was lost. The store may be stale until the next refetch.
	ErrCodeSubscriptionDropped SyncErrorCode = "SUBSCRIPTION_DROPPED"

	// ErrCodeScopeChanged: a newer bind or load superseded the operation
	// while it was in flight and its result was discarded.
	ErrCodeScopeChanged SyncErrorCode = "SCOPE_CHANGED"

	// ErrCodeUnbound: no scope is bound.
	ErrCodeUnbound SyncErrorCode = "UNBOUND"

	// ErrCodeNotFound: the key is not in the store.
	ErrCodeNotFound SyncErrorCode = "NOT_FOUND"

	// ErrCodePendingKey: the key belongs to an unacknowledged create.
	ErrCodePendingKey SyncErrorCode = "PENDING_KEY"

	// ErrCodeInvalidRecord: a draft or patch produced an unusable record.
	ErrCodeInvalidRecord SyncErrorCode = "INVALID_RECORD"
)

// SyncError is the error type returned by engine operations.
type SyncError struct {
	Code    SyncErrorCode
	Message string
	Kind    string
	Scope   string
	Key     string
	Op      ir.Operation
	Err     error
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Key != "" {
		msg += fmt.Sprintf(" (kind=%s, scope=%s, key=%s)", e.Kind, e.Scope, e.Key)
	} else if e.Scope != "" {
		msg += fmt.Sprintf(" (kind=%s, scope=%s)", e.Kind, e.Scope)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the operation may succeed.
func (e *SyncError) Retryable() bool {
	switch e.Code {
	case ErrCodeFetchFailed, ErrCodeMutateFailed, ErrCodeSubscriptionDropped:
		return true
	}
	return false
}

// CodeOf returns the SyncErrorCode in err's chain, or "" if there is none.
func CodeOf(err error) SyncErrorCode {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsFetchError reports whether err is a failed load.
func IsFetchError(err error) bool {
	return CodeOf(err) == ErrCodeFetchFailed
}

// IsMutateError reports whether err is a rejected mutation.
func IsMutateError(err error) bool {
	return CodeOf(err) == ErrCodeMutateFailed
}

// IsSubscriptionError reports whether err is a lost or refused subscription.
func IsSubscriptionError(err error) bool {
	return CodeOf(err) == ErrCodeSubscriptionDropped
}

// IsScopeChanged reports whether err means a result was discarded because
// the scope moved on.
func IsScopeChanged(err error) bool {
	return CodeOf(err) == ErrCodeScopeChanged
}

func newFetchError(kind, scope string, cause error) *SyncError {
	return &SyncError{
		Code:    ErrCodeFetchFailed,
		Message: "load failed",
		Kind:    kind,
		Scope:   scope,
		Err:     cause,
	}
}

func newMutateError(kind, scope, key string, op ir.Operation, cause error) *SyncError {
	return &SyncError{
		Code:    ErrCodeMutateFailed,
		Message: fmt.Sprintf("remote %s rejected", op),
		Kind:    kind,
		Scope:   scope,
		Key:     key,
		Op:      op,
		Err:     cause,
	}
}

func newSubscriptionError(kind, scope string, cause error) *SyncError {
	return &SyncError{
		Code:    ErrCodeSubscriptionDropped,
		Message: "push subscription lost",
		Kind:    kind,
		Scope:   scope,
		Err:     cause,
	}
}

func newScopeChangedError(kind, scope string) *SyncError {
	return &SyncError{
		Code:    ErrCodeScopeChanged,
		Message: "superseded by a newer bind or load",
		Kind:    kind,
		Scope:   scope,
	}
}

func newUnboundError(kind string, op ir.Operation) *SyncError {
	return &SyncError{
		Code:    ErrCodeUnbound,
		Message: fmt.Sprintf("cannot %s without a bound scope", op),
		Kind:    kind,
		Op:      op,
	}
}

func newNotFoundError(kind, scope, key string, op ir.Operation) *SyncError {
	return &SyncError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("cannot %s a missing record", op),
		Kind:    kind,
		Scope:   scope,
		Key:     key,
		Op:      op,
	}
}

func newPendingKeyError(kind, scope, key string, op ir.Operation) *SyncError {
	return &SyncError{
		Code:    ErrCodePendingKey,
		Message: fmt.Sprintf("cannot %s a record before its create is acknowledged", op),
		Kind:    kind,
		Scope:   scope,
		Key:     key,
		Op:      op,
	}
}

func newInvalidRecordError(kind, scope, key string, op ir.Operation, cause error) *SyncError {
	return &SyncError{
		Code:    ErrCodeInvalidRecord,
		Message: fmt.Sprintf("%s produced an invalid record", op),
		Kind:    kind,
		Scope:   scope,
		Key:     key,
		Op:      op,
		Err:     cause,
	}
}
