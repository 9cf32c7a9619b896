package ethmonitor

import (
	"errors"
	"fmt"
)

// Sentinel errors, in the style of the teacher's ethmonitor error vars --
// wrap these with superr.New(sentinel, cause) at call sites that need to
// attach a concrete underlying error while still letting callers match
// with errors.Is.
var (
	// ErrAlreadyRunning is returned by Run if the monitor is already
	// running.
	ErrAlreadyRunning = errors.New("ethmonitor: already running")

	// ErrMaxAttempts is wrapped (via superr) around the underlying cause
	// when a BlockSource implementation gives up retrying a single fetch,
	// matching the teacher's fetchBlockByNumber/fetchBlockByHash exhaustion
	// path (see ethrpcadapter.withRetry).
	ErrMaxAttempts = errors.New("ethmonitor: exceeded max fetch attempts")
)

// ConfigError is a constructor-time, fatal error: an invalid anchor
// combination, numConfirmations >= streamSize, or a missing source.
// Surfaced synchronously from New, never from Run.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("ethmonitor: config error: %s", e.Reason)
}

// TransientFetchError wraps an RPC or timeout failure encountered while
// talking to the BlockSource. It is always recoverable: callers retry
// (silently, on the polling loop) or via a scheduled retry (anchor
// resolution, batch backfill).
type TransientFetchError struct {
	Op  string
	Err error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("ethmonitor: transient fetch error during %s: %v", e.Op, e.Err)
}

func (e *TransientFetchError) Unwrap() error {
	return e.Err
}

// OrphanBackfillError is raised when a parent-chase fetch comes back
// not-found. It is surfaced to the caller as an `error` event; the orphan
// block that triggered the fetch is inserted into the tree as a standalone
// root (so the pruner can later roll it back), and the engine keeps running.
type OrphanBackfillError struct {
	Hash Hash
}

func (e *OrphanBackfillError) Error() string {
	return fmt.Sprintf("Block with hash %s not found", e.Hash)
}

// HandlerError wraps a panic/error recovered from a user-registered
// EventSink handler. It never escapes emit -- it's logged and swallowed so
// that the remaining handlers still run.
type HandlerError struct {
	Topic string
	Err   error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("ethmonitor: handler for topic %q failed: %v", e.Topic, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
