// Package stripe assigns erasure-coded blocks to pool accounts and
// computes rebuild plans when an account is lost. It does not
// allocate stripe ids: Info carries no id. Grounded on original_source/src/chunk/mod.rs (StripeInfo,
// BlockLocation) and src/raid/pool.rs (upload_stripe's placement and
// sort order).
package stripe

import "sort"

// BlockLocation records where one erasure-coded block of a stripe was
// placed.
type BlockLocation struct {
	AccountID  uint8
	BlockIndex int
	ObjectKey  string
}

// Info describes one stripe: its placed blocks, the K/N erasure
// parameters, and the block size used.
type Info struct {
	Blocks       []BlockLocation
	DataCount    int
	ParityCount  int
	BlockSize    int
}

// TotalBlocks returns N, the total block count.
func (s Info) TotalBlocks() int { return s.DataCount + s.ParityCount }

// AvailableBlocks returns how many of the stripe's blocks are
// currently placed (have a BlockLocation recorded).
func (s Info) AvailableBlocks() int { return len(s.Blocks) }

// CanReconstruct reports whether enough blocks are available to
// reconstruct the stripe (AvailableBlocks >= DataCount).
func (s Info) CanReconstruct() bool { return s.AvailableBlocks() >= s.DataCount }

// Placer assigns stripe blocks to accounts round-robin with a rotating
// starting offset, so consecutive stripes don't all land their first
// (most failure-exposed) block on the same account.
type Placer struct {
	accountIDs []uint8
	offset     int
}

// NewPlacer constructs a Placer over the given ordered account ids.
func NewPlacer(accountIDs []uint8) *Placer {
	ids := make([]uint8, len(accountIDs))
	copy(ids, accountIDs)
	return &Placer{accountIDs: ids}
}

// Place assigns totalBlocks shards to accounts, rotating the starting
// account on each call, and returns the block->account assignment
// sorted by (BlockIndex, AccountID) to match upload_stripe's
// determinism.
func (p *Placer) Place(totalBlocks int) []BlockLocation {
	n := len(p.accountIDs)
	if n == 0 {
		return nil
	}
	locs := make([]BlockLocation, totalBlocks)
	for i := 0; i < totalBlocks; i++ {
		account := p.accountIDs[(p.offset+i)%n]
		locs[i] = BlockLocation{AccountID: account, BlockIndex: i}
	}
	p.offset = (p.offset + 1) % n

	sort.Slice(locs, func(i, j int) bool {
		if locs[i].BlockIndex != locs[j].BlockIndex {
			return locs[i].BlockIndex < locs[j].BlockIndex
		}
		return locs[i].AccountID < locs[j].AccountID
	})
	return locs
}

// RebuildPlan maps each block currently held by a failed account onto
// a replacement account drawn from the remaining healthy pool,
// avoiding accounts that already hold another block of the same
// stripe.
func RebuildPlan(info Info, failedAccount uint8, healthyAccounts []uint8) map[int]uint8 {
	held := make(map[uint8]struct{}, len(info.Blocks))
	for _, b := range info.Blocks {
		if b.AccountID != failedAccount {
			held[b.AccountID] = struct{}{}
		}
	}

	var candidates []uint8
	for _, a := range healthyAccounts {
		if _, already := held[a]; !already {
			candidates = append(candidates, a)
		}
	}

	plan := make(map[int]uint8)
	ci := 0
	for _, b := range info.Blocks {
		if b.AccountID != failedAccount {
			continue
		}
		if ci >= len(candidates) {
			break
		}
		plan[b.BlockIndex] = candidates[ci]
		ci++
	}
	return plan
}
