// Package registry holds the live set of arbitrage opportunities. The set is
// in-memory and sharded by pair key; postgres keeps history, not the live set.
package registry

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/avolkov/arbengine/internal/domain"
)

const shardCount = 32

// Event describes a registry mutation for the observability egress.
type Event struct {
	Kind        string // "created", "updated", "claimed", "expired", "invalidated"
	Opportunity domain.ArbitrageOpportunity
	At          time.Time
}

type entry struct {
	opp     domain.ArbitrageOpportunity
	claimed bool
}

type shard struct {
	mu sync.Mutex
	// byPair holds at most one live entry per (symbol, buy, sell).
	byPair map[string]*entry
	// byID lets Claim and Get resolve an opportunity ID to its pair slot.
	byID map[string]*entry
}

// Registry is the concurrent live-opportunity store. Writers are detector
// workers; readers are the coordinator, the HTTP API, and the sweep loop.
type Registry struct {
	shards [shardCount]*shard
	logger *slog.Logger

	mu       sync.RWMutex
	watchers []chan Event
}

// New returns an empty registry.
func New(logger *slog.Logger) *Registry {
	r := &Registry{
		logger: logger.With(slog.String("component", "registry")),
	}
	for i := range r.shards {
		r.shards[i] = &shard{
			byPair: make(map[string]*entry),
			byID:   make(map[string]*entry),
		}
	}
	return r
}

func (r *Registry) shardFor(pairKey string) *shard {
	h := fnv.New32a()
	h.Write([]byte(pairKey))
	return r.shards[h.Sum32()%shardCount]
}

// Watch registers a consumer for registry mutation events. Slow consumers
// drop events rather than blocking mutation paths.
func (r *Registry) Watch(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 256
	}
	ch := make(chan Event, buffer)
	r.mu.Lock()
	r.watchers = append(r.watchers, ch)
	r.mu.Unlock()
	return ch
}

func (r *Registry) emit(evt Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ch := range r.watchers {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Upsert inserts the opportunity or supersedes the live entry for its pair
// key. A claimed entry is never overwritten; the new detection is discarded
// until the execution releases the slot. Returns true when the entry was
// stored.
func (r *Registry) Upsert(opp domain.ArbitrageOpportunity) bool {
	key := opp.PairKey()
	s := r.shardFor(key)

	s.mu.Lock()
	existing, had := s.byPair[key]
	if had && existing.claimed {
		s.mu.Unlock()
		return false
	}
	if had {
		delete(s.byID, existing.opp.ID)
	}
	e := &entry{opp: opp}
	s.byPair[key] = e
	s.byID[opp.ID] = e
	s.mu.Unlock()

	kind := "created"
	if had {
		kind = "updated"
	}
	r.emit(Event{Kind: kind, Opportunity: opp, At: time.Now().UTC()})
	return true
}

// Invalidate removes the live entry for a pair key, typically because the
// spread closed. Claimed entries are left alone; the coordinator owns them.
func (r *Registry) Invalidate(symbol, buyExchange, sellExchange string) bool {
	key := domain.PairKeyOf(symbol, buyExchange, sellExchange)
	s := r.shardFor(key)

	s.mu.Lock()
	existing, had := s.byPair[key]
	if !had || existing.claimed {
		s.mu.Unlock()
		return false
	}
	delete(s.byPair, key)
	delete(s.byID, existing.opp.ID)
	s.mu.Unlock()

	r.emit(Event{Kind: "invalidated", Opportunity: existing.opp, At: time.Now().UTC()})
	return true
}

// Get returns the live opportunity by ID.
func (r *Registry) Get(id string) (domain.ArbitrageOpportunity, error) {
	for _, s := range r.shards {
		s.mu.Lock()
		if e, ok := s.byID[id]; ok {
			opp := e.opp
			s.mu.Unlock()
			return opp, nil
		}
		s.mu.Unlock()
	}
	return domain.ArbitrageOpportunity{}, fmt.Errorf("opportunity %s: %w", id, domain.ErrNotFound)
}

// Claim atomically transfers an opportunity to a single executor. Exactly one
// concurrent caller wins; the rest get ErrAlreadyClaimed. Expiry is checked
// under the same shard lock the sweep uses, so a claim can never race a sweep
// into executing a dead opportunity.
func (r *Registry) Claim(id string) (domain.ArbitrageOpportunity, error) {
	now := time.Now().UTC()
	for _, s := range r.shards {
		s.mu.Lock()
		e, ok := s.byID[id]
		if !ok {
			s.mu.Unlock()
			continue
		}
		if e.claimed {
			s.mu.Unlock()
			return domain.ArbitrageOpportunity{}, fmt.Errorf("opportunity %s: %w", id, domain.ErrAlreadyClaimed)
		}
		if e.opp.Expired(now) {
			delete(s.byPair, e.opp.PairKey())
			delete(s.byID, id)
			opp := e.opp
			s.mu.Unlock()
			r.emit(Event{Kind: "expired", Opportunity: opp, At: now})
			return domain.ArbitrageOpportunity{}, fmt.Errorf("opportunity %s: %w", id, domain.ErrExpiredOpportunity)
		}
		e.claimed = true
		opp := e.opp
		s.mu.Unlock()
		r.emit(Event{Kind: "claimed", Opportunity: opp, At: now})
		return opp, nil
	}
	return domain.ArbitrageOpportunity{}, fmt.Errorf("opportunity %s: %w", id, domain.ErrNotFound)
}

// Release removes a claimed opportunity once its execution attempt finishes,
// freeing the pair slot for fresh detections.
func (r *Registry) Release(id string) {
	for _, s := range r.shards {
		s.mu.Lock()
		if e, ok := s.byID[id]; ok {
			delete(s.byPair, e.opp.PairKey())
			delete(s.byID, id)
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
	}
}

// List returns a snapshot of live, unclaimed opportunities sorted by net
// profit descending.
func (r *Registry) List() []domain.ArbitrageOpportunity {
	now := time.Now().UTC()
	var out []domain.ArbitrageOpportunity
	for _, s := range r.shards {
		s.mu.Lock()
		for _, e := range s.byPair {
			if !e.claimed && !e.opp.Expired(now) {
				out = append(out, e.opp)
			}
		}
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].NetProfit.GreaterThan(out[j].NetProfit)
	})
	return out
}

// Len returns the number of live entries, claimed included.
func (r *Registry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.Lock()
		n += len(s.byPair)
		s.mu.Unlock()
	}
	return n
}

// SweepExpired removes every unclaimed entry past its expiry and returns the
// removed opportunities. Claimed entries are exempt until released.
func (r *Registry) SweepExpired(now time.Time) []domain.ArbitrageOpportunity {
	var swept []domain.ArbitrageOpportunity
	for _, s := range r.shards {
		s.mu.Lock()
		for key, e := range s.byPair {
			if e.claimed || !e.opp.Expired(now) {
				continue
			}
			delete(s.byPair, key)
			delete(s.byID, e.opp.ID)
			swept = append(swept, e.opp)
		}
		s.mu.Unlock()
	}
	for _, opp := range swept {
		r.emit(Event{Kind: "expired", Opportunity: opp, At: now})
	}
	return swept
}

// Run sweeps expired entries on the given interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("sweep loop started", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("sweep loop stopped")
			return
		case now := <-ticker.C:
			if swept := r.SweepExpired(now.UTC()); len(swept) > 0 {
				r.logger.Debug("swept expired opportunities", slog.Int("count", len(swept)))
			}
		}
	}
}
