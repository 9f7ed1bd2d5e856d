package dbrouter

import (
	"errors"
	"fmt"
)

var (
	ErrClosed            = errors.New("connector is closed")
	ErrNotConnected      = errors.New("connector is not connected")
	ErrAlreadyConnecting = errors.New("connect has already been called")
	ErrDoubleRelease     = errors.New("connection has already been released")
	ErrLeakedLease       = errors.New("connection was never released")
	ErrEmptyGroups       = errors.New("connection groups should not be empty")
	ErrGroupOutOfRange   = errors.New("connection group index is out of range")
	ErrShardOutOfRange   = errors.New("resolved shard is out of range")
	ErrInvalidPage       = errors.New("page size and page number must be greater than 0")
	ErrEmptyCollection   = errors.New("collection name should not be empty")
	ErrPoolExhausted     = errors.New("pool has no free connections")
)

// ConfigError is returned when a pool registration is malformed or
// duplicates an existing one.
type ConfigError struct {
	Group int
	Role  string
	Msg   string
}

// Error converts a ConfigError to a string.
func (e *ConfigError) Error() string {
	if e.Role == "" {
		return fmt.Sprintf("group %d: %s", e.Group, e.Msg)
	}
	return fmt.Sprintf("group %d, role %s: %s", e.Group, e.Role, e.Msg)
}

// UnknownRoleError is returned when nothing registered in a group matches
// the requested role key.
type UnknownRoleError struct {
	Group int
	Role  string
}

// Error converts an UnknownRoleError to a string.
func (e *UnknownRoleError) Error() string {
	return fmt.Sprintf("unknown role %q in group %d", e.Role, e.Group)
}

// NoHealthyNodeError is returned when every pool matching a role is
// unhealthy, exhausted or failed to hand out a connection. Cause holds the
// driver errors collected while trying the candidates, if any.
type NoHealthyNodeError struct {
	Group int
	Role  string
	Cause error
}

// Error converts a NoHealthyNodeError to a string.
func (e *NoHealthyNodeError) Error() string {
	msg := fmt.Sprintf("no healthy node for role %q in group %d", e.Role, e.Group)
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *NoHealthyNodeError) Unwrap() error {
	return e.Cause
}

// AmbiguousUpdateError is returned by an update without a primary identity
// and without the multi flag when no document matches the condition.
type AmbiguousUpdateError struct {
	Collection string
	Condition  interface{}
}

// Error converts an AmbiguousUpdateError to a string.
func (e *AmbiguousUpdateError) Error() string {
	return fmt.Sprintf("invalid condition for update in %s: no document matches %v",
		e.Collection, e.Condition)
}
