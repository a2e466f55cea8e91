package driver

import "errors"

var (
	// ErrConnection is returned when the sequencer cannot be opened
	ErrConnection = errors.New("cannot connect to sequencer")
	// ErrThreadLifecycle is returned when the listener fails to start or stop
	ErrThreadLifecycle = errors.New("listener lifecycle failure")
	// ErrOperationFailed is returned when the sequencer rejects a subscription change
	ErrOperationFailed = errors.New("sequencer operation failed")
	// ErrProtocolViolation describes a notification inconsistent with the model.
	// It is logged and never returned to callers.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrNotAttached is returned by operations that need an open sequencer
	ErrNotAttached = errors.New("driver not attached")
	// ErrUnknownPort is returned for port identities or addresses that are not known
	ErrUnknownPort = errors.New("unknown port")
	// ErrIgnored is returned when a port view is requested for an ignored address
	ErrIgnored = errors.New("address is ignored")
)
