package inventory

import "github.com/pkg/errors"

var (
	// ErrUnknownInstance is returned when removing a handle the service never issued
	ErrUnknownInstance = errors.New("inventory: unknown instance")
	// ErrClosed is returned by Dispatcher after Close
	ErrClosed = errors.New("inventory: dispatcher closed")
	// ErrRemote is returned when a remote service rejects a request
	ErrRemote = errors.New("inventory: remote error")
)
