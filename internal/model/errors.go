package model

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError rejects a request before any side effect has happened.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// ChannelTransientError marks a delivery-channel failure that is expected to
// clear on its own (timeout, temporary unavailability) and is eligible for
// retry or queueing.
type ChannelTransientError struct {
	Channel string
	Err     error
}

func (e *ChannelTransientError) Error() string {
	return fmt.Sprintf("channel %s transient failure: %v", e.Channel, e.Err)
}

func (e *ChannelTransientError) Unwrap() error { return e.Err }

// ChannelCircuitError marks a channel whose breaker is open; callers must not
// attempt the channel again until RetryAfter has elapsed.
type ChannelCircuitError struct {
	Channel    string
	RetryAfter time.Duration
}

func (e *ChannelCircuitError) Error() string {
	return fmt.Sprintf("channel %s circuit open, retry after %s", e.Channel, e.RetryAfter)
}

// StorageError marks a failed store operation. Storage failures during record
// creation are never swallowed: they abort the surrounding orchestration.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ConfigValidationError marks a rejected configuration update; the live
// configuration is left untouched.
type ConfigValidationError struct {
	Path   string
	Reason string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("config update rejected for %s: %s", e.Path, e.Reason)
}

// ErrNotFound is returned when a message id resolves to no active record.
var ErrNotFound = errors.New("message not found")

// ErrRecipientNotTargeted is returned when a recipient has no state entry on
// a message; the recipient was never part of its audience.
var ErrRecipientNotTargeted = errors.New("recipient was not targeted by this message")

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTransient reports whether err is a ChannelTransientError.
func IsTransient(err error) bool {
	var te *ChannelTransientError
	return errors.As(err, &te)
}

// IsStorage reports whether err is a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
