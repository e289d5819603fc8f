// Package pool implements the multi-account pool: connect-all,
// upload_stripe, download_blocks and degraded-mode policy, ported from
// original_source/src/raid/pool.rs.
package pool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mvance/tgfs/internal/account"
	"github.com/mvance/tgfs/internal/apperrors"
	"github.com/mvance/tgfs/internal/stripe"
)

// Backend is one account's client plus its id, as held by the pool.
type Backend struct {
	ID     uint8
	Client account.Client
}

// Config mirrors PoolConfig: the erasure K/N split.
type Config struct {
	DataShards   int
	ParityShards int
}

// Pool is the multi-account striping pool.
type Pool struct {
	backends []Backend
	health   *account.Tracker
	placer   *stripe.Placer
	config   Config
}

// New constructs a Pool over 1-255 accounts, validating the account
// count the way AccountPool::new does.
func New(backends []Backend, cfg Config) (*Pool, error) {
	if len(backends) == 0 {
		return nil, apperrors.New(apperrors.KindInvalidErasureConfig, "pool requires at least one account")
	}
	if len(backends) > 255 {
		return nil, apperrors.New(apperrors.KindInvalidErasureConfig, "pool supports at most 255 accounts")
	}
	ids := make([]uint8, len(backends))
	for i, b := range backends {
		ids[i] = b.ID
	}
	return &Pool{
		backends: backends,
		health:   account.NewTracker(ids, cfg.DataShards),
		placer:   stripe.NewPlacer(ids),
		config:   cfg,
	}, nil
}

// GetBackend returns the backend for accountID, if present.
func (p *Pool) GetBackend(accountID uint8) (Backend, bool) {
	for _, b := range p.backends {
		if b.ID == accountID {
			return b, true
		}
	}
	return Backend{}, false
}

// AccountCount returns the total number of configured accounts.
func (p *Pool) AccountCount() int { return len(p.backends) }

// DataShards returns K.
func (p *Pool) DataShards() int { return p.config.DataShards }

// TotalShards returns N.
func (p *Pool) TotalShards() int { return p.config.DataShards + p.config.ParityShards }

// Health exposes the pool's health tracker.
func (p *Pool) Health() *account.Tracker { return p.health }

// IsDegraded reports whether fewer than all accounts are operable
// (Healthy or Degraded); a Degraded account alone does not count.
func (p *Pool) IsDegraded() bool {
	return p.health.HealthyCount() < len(p.backends)
}

// CanOperate reports whether at least K accounts are operable (Healthy
// or Degraded).
func (p *Pool) CanOperate() bool {
	return p.health.HealthyCount() >= p.config.DataShards
}

// ConnectAll probes every backend with a lightweight HeadBlock call
// against a connectivity-check key, recording health outcomes.
// Mirrors connect_all: success iff at least K accounts are reachable,
// logging (via the returned degraded flag) when some but not all
// accounts responded.
func (p *Pool) ConnectAll(ctx context.Context) (degraded bool, err error) {
	var wg sync.WaitGroup
	results := make([]bool, len(p.backends))
	for i, b := range p.backends {
		wg.Add(1)
		go func(i int, b Backend) {
			defer wg.Done()
			_, headErr := b.Client.HeadBlock(ctx, "__tgfs_connectivity_probe__")
			results[i] = headErr == nil
			if headErr == nil {
				p.health.RecordSuccess(b.ID)
			} else {
				p.health.RecordFailure(b.ID, headErr.Error())
			}
		}(i, b)
	}
	wg.Wait()

	ok := 0
	for _, r := range results {
		if r {
			ok++
		}
	}
	if ok < p.config.DataShards {
		return false, apperrors.New(apperrors.KindErasureFailed,
			fmt.Sprintf("only %d of %d accounts reachable, need %d", ok, len(p.backends), p.config.DataShards))
	}
	return ok < len(p.backends), nil
}

// UploadStripe places shards (already erasure-encoded by the caller)
// round-robin across every pool account and returns the resulting
// StripeInfo; placement does not consult account health. Mirrors
// upload_stripe: does not upload to accounts the tracker has marked
// Unavailable (their blocks count as failed), records per-block
// success/failure, and requires at least DataShards successful uploads.
func (p *Pool) UploadStripe(ctx context.Context, shards [][]byte, objectKeyPrefix string) (stripe.Info, error) {
	locs := p.placer.Place(len(shards))

	results := make(chan stripe.BlockLocation, len(locs))
	var wg sync.WaitGroup

	for _, loc := range locs {
		backend, ok := p.GetBackend(loc.AccountID)
		if !ok {
			results <- loc
			continue
		}
		if h, found := p.health.AccountHealth(loc.AccountID); found && h.Status == account.StatusUnavailable {
			results <- loc
			continue
		}

		wg.Add(1)
		go func(loc stripe.BlockLocation, backend Backend) {
			defer wg.Done()
			key := fmt.Sprintf("%s/block-%d", objectKeyPrefix, loc.BlockIndex)
			err := backend.Client.PutBlock(ctx, key, shards[loc.BlockIndex])
			if err != nil {
				p.health.RecordFailure(backend.ID, err.Error())
				results <- loc
				return
			}
			p.health.RecordSuccess(backend.ID)
			loc.ObjectKey = key
			results <- loc
		}(loc, backend)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	// Every placed block is kept, success or not: a failed placement
	// still occupies its AccountID/BlockIndex slot with an empty
	// ObjectKey, so Rebuild/RebuildPlan can find the failed account's
	// block later instead of treating it as never placed.
	placed := make([]stripe.BlockLocation, 0, len(locs))
	uploaded := 0
	for r := range results {
		placed = append(placed, r)
		if r.ObjectKey != "" {
			uploaded++
		}
	}

	sort.Slice(placed, func(i, j int) bool {
		if placed[i].BlockIndex != placed[j].BlockIndex {
			return placed[i].BlockIndex < placed[j].BlockIndex
		}
		return placed[i].AccountID < placed[j].AccountID
	})

	if uploaded < p.config.DataShards {
		return stripe.Info{}, apperrors.New(apperrors.KindErasureFailed,
			fmt.Sprintf("only %d of %d blocks uploaded, need %d", uploaded, len(shards), p.config.DataShards))
	}

	return stripe.Info{
		Blocks:      placed,
		DataCount:   p.config.DataShards,
		ParityCount: p.config.ParityShards,
	}, nil
}

// DownloadBlocks fetches every placed block of info concurrently,
// returning a dense shard slice (index = BlockIndex, nil where
// unavailable) sized TotalShards. Mirrors download_blocks: requires at
// least DataShards blocks to come back.
func (p *Pool) DownloadBlocks(ctx context.Context, info stripe.Info) ([][]byte, error) {
	shards := make([][]byte, info.TotalBlocks())

	type result struct {
		idx  int
		data []byte
		err  error
	}
	results := make(chan result, len(info.Blocks))
	var wg sync.WaitGroup

	for _, loc := range info.Blocks {
		backend, ok := p.GetBackend(loc.AccountID)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(loc stripe.BlockLocation, backend Backend) {
			defer wg.Done()
			data, err := backend.Client.GetBlock(ctx, loc.ObjectKey)
			if err != nil {
				p.health.RecordFailure(backend.ID, err.Error())
				results <- result{idx: loc.BlockIndex, err: err}
				return
			}
			p.health.RecordSuccess(backend.ID)
			results <- result{idx: loc.BlockIndex, data: data}
		}(loc, backend)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	available := 0
	for r := range results {
		if r.err == nil {
			shards[r.idx] = r.data
			available++
		}
	}

	if available < info.DataCount {
		return nil, apperrors.New(apperrors.KindStripeUnrecoverable,
			fmt.Sprintf("only %d of %d blocks available, need %d", available, info.TotalBlocks(), info.DataCount))
	}
	return shards, nil
}

// Rebuild re-uploads the blocks a failed account held, using
// stripe.RebuildPlan to pick replacement accounts, and returns the
// updated StripeInfo.
func (p *Pool) Rebuild(ctx context.Context, info stripe.Info, failedAccount uint8, reconstructedShards [][]byte) (stripe.Info, error) {
	p.health.SetRebuilding(failedAccount)
	plan := stripe.RebuildPlan(info, failedAccount, p.health.HealthyAccounts())

	updated := make([]stripe.BlockLocation, 0, len(info.Blocks))
	for _, b := range info.Blocks {
		if b.AccountID != failedAccount {
			updated = append(updated, b)
			continue
		}
		newAccount, ok := plan[b.BlockIndex]
		if !ok {
			return stripe.Info{}, apperrors.New(apperrors.KindRebuildFailed,
				fmt.Sprintf("no replacement account available for block %d", b.BlockIndex))
		}
		backend, ok := p.GetBackend(newAccount)
		if !ok {
			return stripe.Info{}, apperrors.New(apperrors.KindRebuildFailed, "replacement account has no backend")
		}
		key := fmt.Sprintf("rebuild/block-%d", b.BlockIndex)
		if err := backend.Client.PutBlock(ctx, key, reconstructedShards[b.BlockIndex]); err != nil {
			p.health.RecordFailure(newAccount, err.Error())
			return stripe.Info{}, apperrors.Wrap(apperrors.KindRebuildFailed, "uploading rebuilt block", err)
		}
		p.health.RecordSuccess(newAccount)
		updated = append(updated, stripe.BlockLocation{AccountID: newAccount, BlockIndex: b.BlockIndex, ObjectKey: key})
	}

	info.Blocks = updated
	return info, nil
}
