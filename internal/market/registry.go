package market

import (
	"sort"
	"sync"
	"time"

	"polyweather/pkg/types"
)

// Registry is the in-memory market registry. Upserts preserve lifecycle
// status so a re-parse never resurrects a resolved market, and last-known
// bin prices are cached so the price feed and the batch refresh share one
// view.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]*types.Market // by condition ID
	prices  map[string]priceEntry    // by token ID

	// tokenOwner maps token ID back to its market for feed updates.
	tokenOwner map[string]string
}

type priceEntry struct {
	price     float64
	updatedAt time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		markets:    make(map[string]*types.Market),
		prices:     make(map[string]priceEntry),
		tokenOwner: make(map[string]string),
	}
}

// Upsert inserts or refreshes a market. An existing record keeps its
// status; terminal statuses never revert to ACTIVE.
func (r *Registry) Upsert(m *types.Market) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.markets[m.ConditionID]; ok {
		m.Status = prev.Status
	}
	cp := *m
	r.markets[m.ConditionID] = &cp
	for _, b := range cp.Bins {
		r.tokenOwner[b.TokenID] = cp.ConditionID
	}
}

// Get returns the market for a condition ID.
func (r *Registry) Get(conditionID string) (*types.Market, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[conditionID]
	if !ok {
		return nil, false
	}
	cp := *m
	return &cp, true
}

// ByToken returns the market owning a token ID.
func (r *Registry) ByToken(tokenID string) (*types.Market, bool) {
	r.mu.RLock()
	cid, ok := r.tokenOwner[tokenID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return r.Get(cid)
}

// GetUpcoming returns active markets resolving within maxLeadDays from now,
// ordered by resolution time.
func (r *Registry) GetUpcoming(now time.Time, maxLeadDays int) []*types.Market {
	horizon := now.Add(time.Duration(maxLeadDays) * 24 * time.Hour)

	r.mu.RLock()
	var out []*types.Market
	for _, m := range r.markets {
		if m.Status != types.StatusActive {
			continue
		}
		if m.ResolvesAt.Before(now) || m.ResolvesAt.After(horizon) {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ResolvesAt.Before(out[j].ResolvesAt) })
	return out
}

// SetStatus applies a forward-only status transition. Terminal states
// (RESOLVED, SKIPPED, EXPIRED) are never overwritten back to ACTIVE.
func (r *Registry) SetStatus(conditionID string, status types.MarketStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.markets[conditionID]
	if !ok {
		return
	}
	if m.Status != types.StatusActive && status == types.StatusActive {
		return
	}
	m.Status = status
}

// MarkExpired sweeps active markets whose resolution time has passed and
// returns how many were expired.
func (r *Registry) MarkExpired(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, m := range r.markets {
		if m.Status == types.StatusActive && m.ResolvesAt.Before(now) {
			m.Status = types.StatusExpired
			n++
		}
	}
	return n
}

// SetPrice records the last-known traded price for a token.
func (r *Registry) SetPrice(tokenID string, price float64, at time.Time) {
	r.mu.Lock()
	r.prices[tokenID] = priceEntry{price: price, updatedAt: at}
	r.mu.Unlock()
}

// Price returns the cached price for a token. ok is false when no price has
// been observed yet.
func (r *Registry) Price(tokenID string) (float64, time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.prices[tokenID]
	return e.price, e.updatedAt, ok
}

// ActiveTokenIDs returns every token of every active market, for feed
// subscriptions and batch price refreshes.
func (r *Registry) ActiveTokenIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for _, m := range r.markets {
		if m.Status != types.StatusActive {
			continue
		}
		for _, b := range m.Bins {
			out = append(out, b.TokenID)
		}
	}
	return out
}

// Len returns the number of tracked markets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}
