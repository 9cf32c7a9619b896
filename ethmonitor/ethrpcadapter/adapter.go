// Package ethrpcadapter is the one place that knows about go-ethereum's
// big-integer, bloom-laden block representation. It implements
// ethmonitor.BlockSource by wrapping an ethkit RPC provider and converting
// every fetched block into the core's plain Block record at the boundary --
// the core package itself never imports go-ethereum.
package ethrpcadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/0xsequence/ethkit/ethrpc"
	ethereum "github.com/0xsequence/ethkit/go-ethereum"
	"github.com/0xsequence/ethkit/go-ethereum/common"
	"github.com/0xsequence/ethkit/go-ethereum/core/types"
	"github.com/goware/breaker"
	cachestore "github.com/goware/cachestore2"
	"github.com/goware/superr"
	"github.com/zeebo/xxh3"

	"github.com/hillstreetlabs/ethstream/ethmonitor"
)

// Adapter implements ethmonitor.BlockSource over an ethkit RPC provider.
type Adapter struct {
	provider *ethrpc.Provider
	chainID  *big.Int

	// cache is optional: when set, fetched blocks are stored and served
	// keyed by chain id + block identity, the way the teacher's
	// fetchBlockByNumber/fetchBlockByHash do via CacheKeyBlockByNumber/
	// CacheKeyBlockByHash.
	cache       cachestore.Store[[]byte]
	cacheExpiry time.Duration

	// every provider round trip runs under breaker.Do, the same retry
	// wrapper the teacher uses around getChainID: a handful of quick
	// retries smooth over the blips a public RPC endpoint throws
	// constantly, without the caller having to special-case them.
	retryDelay  time.Duration
	retryFactor int
	retryMax    int
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithCache enables response caching for block lookups, entries expiring
// after ttl. Caching GetBlockByNumber is only safe for numbers far enough
// behind head that they can no longer be reorged out from under a cached
// entry -- ttl should be chosen accordingly, or callers near the tip
// should leave caching off (as cmd/ethstream-watch does).
func WithCache(cache cachestore.Store[[]byte], ttl time.Duration) Option {
	return func(a *Adapter) {
		a.cache = cache
		a.cacheExpiry = ttl
	}
}

// WithRetries overrides the breaker.Do backoff parameters used around every
// provider round trip. delay is the initial pause, factor the per-attempt
// multiplier, max the number of retries.
func WithRetries(delay time.Duration, factor, max int) Option {
	return func(a *Adapter) {
		a.retryDelay = delay
		a.retryFactor = factor
		a.retryMax = max
	}
}

// New wraps provider, scoped to chainID (used only to namespace cache
// keys).
func New(provider *ethrpc.Provider, chainID *big.Int, opts ...Option) *Adapter {
	a := &Adapter{
		provider:    provider,
		chainID:     chainID,
		retryDelay:  500 * time.Millisecond,
		retryFactor: 2,
		retryMax:    3,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// withRetry runs fn under breaker.Do's exponential backoff, the same
// pattern the teacher wraps around its chain-id lookup.
func (a *Adapter) withRetry(ctx context.Context, fn func() error) error {
	return breaker.Do(ctx, fn, nil, a.retryDelay, a.retryFactor, a.retryMax)
}

func (a *Adapter) GetBlockByHash(ctx context.Context, hash ethmonitor.Hash) (*ethmonitor.Block, error) {
	h := common.HexToHash(string(hash))

	getter := func(ctx context.Context, _ string) ([]byte, error) {
		var blk *types.Block
		err := a.withRetry(ctx, func() error {
			b, err := a.provider.BlockByHash(ctx, h)
			if err != nil {
				return err
			}
			blk = b
			return nil
		})
		if err != nil {
			return nil, err
		}
		return json.Marshal(toRecord(blk))
	}

	if a.cache == nil {
		raw, err := getter(ctx, "")
		if err != nil {
			return nil, translateErr(ctx, "GetBlockByHash", err)
		}
		return unmarshalBlock(raw)
	}

	raw, err := a.cache.GetOrSetWithLockEx(ctx, cacheKeyByHash(a.chainID, h), getter, a.cacheExpiry)
	if err != nil {
		return nil, translateErr(ctx, "GetBlockByHash", err)
	}
	return unmarshalBlock(raw)
}

func (a *Adapter) GetBlockByNumber(ctx context.Context, number uint64) (*ethmonitor.Block, error) {
	num := new(big.Int).SetUint64(number)

	getter := func(ctx context.Context, _ string) ([]byte, error) {
		var blk *types.Block
		err := a.withRetry(ctx, func() error {
			b, err := a.provider.BlockByNumber(ctx, num)
			if err != nil {
				return err
			}
			blk = b
			return nil
		})
		if err != nil {
			return nil, err
		}
		return json.Marshal(toRecord(blk))
	}

	if a.cache == nil {
		raw, err := getter(ctx, "")
		if err != nil {
			return nil, translateErr(ctx, "GetBlockByNumber", err)
		}
		return unmarshalBlock(raw)
	}

	raw, err := a.cache.GetOrSetWithLockEx(ctx, cacheKeyByNumber(a.chainID, num), getter, a.cacheExpiry)
	if err != nil {
		return nil, translateErr(ctx, "GetBlockByNumber", err)
	}
	return unmarshalBlock(raw)
}

func (a *Adapter) GetLatestBlock(ctx context.Context) (*ethmonitor.Block, error) {
	var blk *types.Block
	err := a.withRetry(ctx, func() error {
		b, err := a.provider.BlockByNumber(ctx, nil)
		if err != nil {
			return err
		}
		blk = b
		return nil
	})
	if err != nil {
		return nil, translateErr(ctx, "GetLatestBlock", err)
	}
	return toBlock(blk), nil
}

func (a *Adapter) GetBlockNumber(ctx context.Context) (uint64, error) {
	var num uint64
	err := a.withRetry(ctx, func() error {
		n, err := a.provider.BlockNumber(ctx)
		if err != nil {
			return err
		}
		num = n
		return nil
	})
	if err != nil {
		return 0, translateErr(ctx, "GetBlockNumber", err)
	}
	return num, nil
}

// translateErr maps a failed provider round trip (already retried under
// breaker.Do) onto the core's error taxonomy. A retry exhaustion is
// wrapped with superr.New(ethmonitor.ErrMaxAttempts, err), mirroring the
// teacher's fetchBlockByNumber/fetchBlockByHash giving up after
// maxErrAttempts -- callers can match either the sentinel or the
// underlying cause via errors.Is/errors.As.
func translateErr(ctx context.Context, op string, err error) error {
	if errors.Is(err, ethereum.NotFound) {
		return ethmonitor.ErrNotFound
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &ethmonitor.TransientFetchError{Op: op, Err: superr.New(ethmonitor.ErrMaxAttempts, err)}
}

func toBlock(blk *types.Block) *ethmonitor.Block {
	parent := ethmonitor.Hash(blk.ParentHash().Hex())
	if blk.NumberU64() == 0 {
		parent = ethmonitor.NullHash
	}
	return &ethmonitor.Block{
		Hash:       ethmonitor.Hash(blk.Hash().Hex()),
		ParentHash: parent,
		Number:     blk.NumberU64(),
	}
}

// record is the cache wire format: the already-converted plain record, not
// go-ethereum's type, so cache hits never need a provider round trip to
// reinterpret.
type record struct {
	Hash       ethmonitor.Hash `json:"hash"`
	ParentHash ethmonitor.Hash `json:"parentHash"`
	Number     uint64          `json:"number"`
}

func toRecord(blk *types.Block) record {
	b := toBlock(blk)
	return record{Hash: b.Hash, ParentHash: b.ParentHash, Number: b.Number}
}

func unmarshalBlock(raw []byte) (*ethmonitor.Block, error) {
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("ethrpcadapter: corrupt cache entry: %w", err)
	}
	return &ethmonitor.Block{Hash: rec.Hash, ParentHash: rec.ParentHash, Number: rec.Number}, nil
}

func cacheKeyByNumber(chainID *big.Int, num *big.Int) string {
	return fmt.Sprintf("ethstream:%s:num:%s", chainID.String(), num.String())
}

func cacheKeyByHash(chainID *big.Int, hash common.Hash) string {
	digest := xxh3.Hash(hash.Bytes())
	return fmt.Sprintf("ethstream:%s:hash:%x", chainID.String(), digest)
}
