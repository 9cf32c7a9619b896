package ethmonitor

import (
	"context"
	"time"
)

// BlockSource is the external collaborator the core consumes to fetch
// blocks. All four operations are asynchronous and fallible; the core
// treats any failure as transient (spec.md §6).
//
// Implementations live outside this package (see ethrpcadapter) and are
// responsible for the "polymorphic block type" boundary conversion:
// translating whatever big-integer/bloom-laden shape the RPC transport
// returns into the core's plain Block record.
type BlockSource interface {
	// GetBlockByHash looks up a block by its hash. Returns ErrNotFound if
	// the source has no knowledge of that hash.
	GetBlockByHash(ctx context.Context, hash Hash) (*Block, error)

	// GetBlockByNumber looks up a block on the canonical chain as the
	// source currently sees it. Returns ErrNotFound if no such block
	// exists yet.
	GetBlockByNumber(ctx context.Context, number uint64) (*Block, error)

	// GetLatestBlock returns the current head block as the source sees
	// it.
	GetLatestBlock(ctx context.Context) (*Block, error)

	// GetBlockNumber returns the current head block number.
	GetBlockNumber(ctx context.Context) (uint64, error)
}

// ErrNotFound is returned by a BlockSource when the requested block does
// not exist (yet, or at all).
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "ethmonitor: block not found" }

// CancelHandle cancels a scheduled callback. Calling it after the
// callback has already fired is a no-op.
type CancelHandle interface {
	Cancel()
}

// Scheduler is the external collaborator that delivers time-based
// callbacks. The real implementation (realtimeScheduler) wraps
// time.AfterFunc; tests use a fake that's advanced manually.
type Scheduler interface {
	After(d time.Duration, fn func()) CancelHandle
}
