package ethmonitor

import (
	"time"

	"github.com/goware/logger"
)

// Anchor selects how the tree is seeded when it's otherwise empty.
// Build one with WithSnapshot, WithBlockHash or WithBlockNumber; the kind
// is taken from what the constructor recorded, so setting a From* field
// directly does not select it. At most one kind may be selected; the zero
// value means "none", i.e. start from latest-streamSize.
type Anchor struct {
	FromSnapshot    Snapshot
	FromBlockHash   Hash
	FromBlockNumber uint64

	hasSnapshot bool
	hasHash     bool
	hasNumber   bool
}

// WithSnapshot returns an Anchor that restores from a previously-taken
// snapshot.
func WithSnapshot(snap Snapshot) Anchor {
	return Anchor{FromSnapshot: snap, hasSnapshot: true}
}

// WithBlockHash returns an Anchor that seeds the tree from a specific
// block hash.
func WithBlockHash(hash Hash) Anchor {
	return Anchor{FromBlockHash: hash, hasHash: true}
}

// WithBlockNumber returns an Anchor that seeds the tree from a specific
// block number.
func WithBlockNumber(num uint64) Anchor {
	return Anchor{FromBlockNumber: num, hasNumber: true}
}

func (a Anchor) kind() (isSnapshot, isHash, isNumber bool) {
	return a.hasSnapshot, a.hasHash, a.hasNumber
}

func (a Anchor) isNone() bool {
	return !a.hasSnapshot && !a.hasHash && !a.hasNumber
}

// Options configures a Monitor. Mirrors the teacher's Options/
// DefaultOptions pattern.
type Options struct {
	// Logger used to log warnings and debug info.
	Logger logger.Logger

	// Anchor selects the initial seed for an empty tree. The zero value
	// (Anchor{}) means "none": start streamSize blocks behind the
	// current head.
	Anchor Anchor

	// StreamSize is the maximum retained depth below the tip.
	StreamSize uint64

	// NumConfirmations is the childDepth at which a block is considered
	// confirmed. Must be strictly less than StreamSize.
	NumConfirmations uint64

	// MaxBackfills is the lag (head - maxBlockNumber) at which the
	// engine switches from parent-chasing to batch backfill. Defaults
	// to StreamSize.
	MaxBackfills uint64

	// BatchSize caps the number of blocks fetched in parallel per
	// backfill cycle.
	BatchSize int

	// PollDelay is the delay between "latest" polls.
	PollDelay time.Duration

	// FetchTimeout bounds a single-block/latest-number RPC call.
	FetchTimeout time.Duration

	// BatchTimeout bounds a batch-backfill await-all cycle.
	BatchTimeout time.Duration

	// Scheduler delivers the retry/backoff callbacks used by anchor
	// resolution and batch backfill. Defaults to NewRealtimeScheduler();
	// tests inject a fake that's advanced manually.
	Scheduler Scheduler
}

// DefaultOptions mirrors the teacher's DefaultOptions package var.
var DefaultOptions = Options{
	Logger:           logger.NewLogger(logger.LogLevel_WARN),
	StreamSize:       12,
	NumConfirmations: 5,
	MaxBackfills:     0, // resolved to StreamSize in validate() if zero
	BatchSize:        100,
	PollDelay:        1 * time.Second,
	FetchTimeout:     2 * time.Second,
	BatchTimeout:     5 * time.Second,
}

// validate applies defaults and returns a *ConfigError for anything the
// constructor must reject synchronously (spec.md §7: ConfigError).
func (o *Options) validate() error {
	if o.Logger == nil {
		o.Logger = logger.NewLogger(logger.LogLevel_WARN)
	}
	if o.StreamSize == 0 {
		o.StreamSize = DefaultOptions.StreamSize
	}
	if o.NumConfirmations == 0 {
		o.NumConfirmations = DefaultOptions.NumConfirmations
	}
	if o.MaxBackfills == 0 {
		o.MaxBackfills = o.StreamSize
	}
	if o.BatchSize == 0 {
		o.BatchSize = DefaultOptions.BatchSize
	}
	if o.PollDelay == 0 {
		o.PollDelay = DefaultOptions.PollDelay
	}
	if o.FetchTimeout == 0 {
		o.FetchTimeout = DefaultOptions.FetchTimeout
	}
	if o.BatchTimeout == 0 {
		o.BatchTimeout = DefaultOptions.BatchTimeout
	}

	if o.NumConfirmations >= o.StreamSize {
		return &ConfigError{Reason: "numConfirmations must be strictly less than streamSize"}
	}

	isSnapshot, isHash, isNumber := o.Anchor.kind()
	count := 0
	for _, b := range []bool{isSnapshot, isHash, isNumber} {
		if b {
			count++
		}
	}
	if count > 1 {
		return &ConfigError{Reason: "at most one of fromSnapshot/fromBlockHash/fromBlockNumber may be set"}
	}

	return nil
}
