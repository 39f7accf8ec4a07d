package domain

import "errors"

var (
	// ErrInvalidInput marks a malformed request that is rejected at the boundary.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned when an identity does not exist in the store.
	ErrNotFound = errors.New("record not found")
	// ErrProtectedColumn is returned for edits targeting identity or timestamp columns.
	ErrProtectedColumn = errors.New("protected column")
	// ErrInvalidColumn is returned for column names outside [A-Za-z0-9_].
	ErrInvalidColumn = errors.New("invalid column name")
	// ErrUnknownColumn is returned when an edit names a column the table does not have.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrPartialReconcile is returned when some prune operations failed.
	ErrPartialReconcile = errors.New("reconcile partially failed")
	// ErrQueueClosed is returned when enqueueing after shutdown.
	ErrQueueClosed = errors.New("queue closed")
	// ErrBusy is returned when an exclusive operation is already running.
	ErrBusy = errors.New("operation already running")
)
