package account

import (
	"sync"
	"time"
)

// AccountStatus is one account's health state, ported from
// original_source/src/raid/health.rs.
type AccountStatus string

const (
	StatusHealthy    AccountStatus = "healthy"
	StatusDegraded   AccountStatus = "degraded"
	StatusUnavailable AccountStatus = "unavailable"
	StatusRebuilding AccountStatus = "rebuilding"
)

// ArrayStatus is the derived health of the whole pool.
type ArrayStatus string

const (
	ArrayHealthy    ArrayStatus = "healthy"
	ArrayDegraded   ArrayStatus = "degraded"
	ArrayFailed     ArrayStatus = "failed"
	ArrayRebuilding ArrayStatus = "rebuilding"
)

const (
	// DefaultMaxFailures is the consecutive-failure threshold past
	// which an account is marked Unavailable.
	DefaultMaxFailures = 3
	// DegradedErrorRateThreshold marks an account Degraded once its
	// lifetime error rate reaches this fraction.
	DegradedErrorRateThreshold = 0.10
)

// Health is one account's health record.
type Health struct {
	AccountID       uint8
	Status          AccountStatus
	LastSuccess     time.Time
	LastError       string
	FailureCount    int
	TotalOperations int
	FailedOperations int
}

// ErrorRate returns the lifetime fraction of failed operations.
func (h Health) ErrorRate() float64 {
	if h.TotalOperations == 0 {
		return 0
	}
	return float64(h.FailedOperations) / float64(h.TotalOperations)
}

// ArrayHealth is the pool-wide rollup.
type ArrayHealth struct {
	Status           ArrayStatus
	Accounts         []Health
	RequiredAccounts int
	TotalAccounts    int
	RebuildProgress  float64
}

// Tracker tracks per-account health and derives pool-wide status,
// mirroring HealthTracker's record_success/record_failure rules
// exactly: Unavailable and Rebuilding are sticky states that a plain
// success does not clear.
type Tracker struct {
	mu              sync.RWMutex
	accounts        map[uint8]*Health
	requiredAccounts int
	maxFailures     int
}

// NewTracker constructs a Tracker whose ArrayHealth reports Failed once
// fewer than requiredAccounts accounts are operable (Healthy or
// Degraded), with the default max-failures-before-unavailable threshold.
func NewTracker(accountIDs []uint8, requiredAccounts int) *Tracker {
	return NewTrackerWithMaxFailures(accountIDs, requiredAccounts, DefaultMaxFailures)
}

// NewTrackerWithMaxFailures is NewTracker with an explicit max-failures
// threshold, mirroring with_max_failures.
func NewTrackerWithMaxFailures(accountIDs []uint8, requiredAccounts, maxFailures int) *Tracker {
	t := &Tracker{
		accounts:        make(map[uint8]*Health, len(accountIDs)),
		requiredAccounts: requiredAccounts,
		maxFailures:     maxFailures,
	}
	for _, id := range accountIDs {
		t.accounts[id] = &Health{AccountID: id, Status: StatusHealthy}
	}
	return t
}

// RecordSuccess resets an account's consecutive-failure count and
// reclassifies Healthy/Degraded based on its lifetime error rate.
// Unavailable accounts need an explicit Reset; Rebuilding accounts are
// never auto-promoted by a plain success.
func (t *Tracker) RecordSuccess(id uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.accounts[id]
	if !ok {
		h = &Health{AccountID: id}
		t.accounts[id] = h
	}
	h.FailureCount = 0
	h.TotalOperations++
	h.LastSuccess = now()

	switch h.Status {
	case StatusUnavailable, StatusRebuilding:
		// sticky: stays until explicitly reset or rebuild completes
	default:
		if h.ErrorRate() >= DegradedErrorRateThreshold {
			h.Status = StatusDegraded
		} else {
			h.Status = StatusHealthy
		}
	}
}

// RecordFailure increments an account's failure counters and demotes
// its status: Unavailable once FailureCount reaches maxFailures,
// otherwise Degraded once the lifetime error rate crosses the
// threshold. Rebuilding accounts are not demoted by failures either,
// since a rebuild is expected to retry through transient errors.
func (t *Tracker) RecordFailure(id uint8, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.accounts[id]
	if !ok {
		h = &Health{AccountID: id}
		t.accounts[id] = h
	}
	h.FailureCount++
	h.TotalOperations++
	h.FailedOperations++
	h.LastError = errMsg

	if h.Status == StatusRebuilding {
		return
	}
	if h.FailureCount >= t.maxFailures {
		h.Status = StatusUnavailable
	} else if h.ErrorRate() >= DegradedErrorRateThreshold {
		h.Status = StatusDegraded
	}
}

// Reset clears an account back to Healthy, used after an operator
// confirms an Unavailable account has recovered.
func (t *Tracker) Reset(id uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.accounts[id]; ok {
		h.Status = StatusHealthy
		h.FailureCount = 0
	}
}

// SetRebuilding marks an account Rebuilding, excluding it from normal
// upload/download selection until the rebuild completes.
func (t *Tracker) SetRebuilding(id uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.accounts[id]; ok {
		h.Status = StatusRebuilding
	}
}

// AccountHealth returns a copy of id's current health record.
func (t *Tracker) AccountHealth(id uint8) (Health, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.accounts[id]
	if !ok {
		return Health{}, false
	}
	return *h, true
}

// HealthyAccounts returns the ids of every account currently operable:
// Healthy or Degraded. Only Unavailable and Rebuilding accounts are
// excluded from upload/download/rebuild-replacement selection.
func (t *Tracker) HealthyAccounts() []uint8 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var ids []uint8
	for id, h := range t.accounts {
		if h.Status == StatusHealthy || h.Status == StatusDegraded {
			ids = append(ids, id)
		}
	}
	return ids
}

// HealthyCount returns the number of accounts currently operable
// (Healthy or Degraded).
func (t *Tracker) HealthyCount() int {
	return len(t.HealthyAccounts())
}

// ArrayHealth derives the pool-wide rollup: Rebuilding if any account
// is rebuilding, Healthy iff every account is strictly Healthy,
// Degraded if at least requiredAccounts are operable (Healthy or
// Degraded), else Failed.
func (t *Tracker) ArrayHealth() ArrayHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := ArrayHealth{
		RequiredAccounts: t.requiredAccounts,
		TotalAccounts:    len(t.accounts),
	}
	strictHealthy := 0
	operable := 0
	anyRebuilding := false
	for _, h := range t.accounts {
		out.Accounts = append(out.Accounts, *h)
		switch h.Status {
		case StatusHealthy:
			strictHealthy++
			operable++
		case StatusDegraded:
			operable++
		case StatusRebuilding:
			anyRebuilding = true
		}
	}

	switch {
	case anyRebuilding:
		out.Status = ArrayRebuilding
	case strictHealthy == len(t.accounts):
		out.Status = ArrayHealthy
	case operable >= t.requiredAccounts:
		out.Status = ArrayDegraded
	default:
		out.Status = ArrayFailed
	}
	return out
}

// now is a var so tests can freeze time if ever needed; kept as a thin
// indirection rather than importing a clock library the corpus
// doesn't use anywhere.
var now = time.Now
