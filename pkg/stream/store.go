// Package stream is the client-side registry of live queries. Identical
// fingerprints share one underlying fetch per refresh cycle no matter how
// many subscribers they have, and a table-write notification recomputes
// exactly the queries whose read set it touches.
package stream

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/relaydb/relaydb/pkg/client"
)

// FetchFunc recomputes a live query's value. It is invoked at most once
// concurrently per fingerprint; ctx is cancelled when the last subscriber
// leaves.
type FetchFunc func(ctx context.Context) (any, error)

// Result is one emission of a live query sequence.
type Result struct {
	Value any
	Err   error
}

// Subscription is one subscriber's handle on a live query. C emits the
// current value after every (re)fetch; a subscriber that falls behind
// observes only the latest value, never a stale backlog.
type Subscription struct {
	C <-chan Result

	store *Store
	key   string
	ch    chan Result
	done  bool
}

type liveQuery struct {
	key       string
	readsFrom map[string]struct{}
	fetch     FetchFunc

	subs      map[*Subscription]struct{}
	inFlight  bool
	pending   bool
	lastValue Result
	hasValue  bool
	cancel    context.CancelFunc
}

// Store tracks every active live query.
type Store struct {
	log *zap.Logger

	mu      sync.Mutex
	queries map[string]*liveQuery
}

func New(log *zap.Logger) *Store {
	return &Store{log: log, queries: make(map[string]*liveQuery)}
}

// Subscribe registers a subscriber for the fingerprint. The first
// subscriber triggers an immediate fetch; later ones share the entry and
// receive the last known value right away.
func (s *Store) Subscribe(fp Fingerprint, readsFrom []string, fetch FetchFunc) *Subscription {
	key := fp.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	lq, ok := s.queries[key]
	if !ok {
		lq = &liveQuery{
			key:       key,
			readsFrom: make(map[string]struct{}, len(readsFrom)),
			fetch:     fetch,
			subs:      make(map[*Subscription]struct{}),
		}
		for _, t := range readsFrom {
			lq.readsFrom[t] = struct{}{}
		}
		s.queries[key] = lq
	}

	sub := &Subscription{store: s, key: key, ch: make(chan Result, 16)}
	sub.C = sub.ch
	lq.subs[sub] = struct{}{}

	if !ok {
		s.startFetch(lq)
	} else if lq.hasValue {
		sub.push(lq.lastValue)
	}
	return sub
}

// Unsubscribe removes the subscriber. The last departure cancels any
// in-flight fetch and evicts the entry.
func (sub *Subscription) Unsubscribe() {
	s := sub.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub.done {
		return
	}
	sub.done = true

	if lq, ok := s.queries[sub.key]; ok {
		delete(lq.subs, sub)
		if len(lq.subs) == 0 {
			if lq.cancel != nil {
				lq.cancel()
			}
			delete(s.queries, sub.key)
		}
	}
	close(sub.ch)
}

// NotifyTables invalidates every live query whose read set intersects the
// written tables. A query with a refetch already in flight is marked
// pending instead of refetched again: a burst of overlapping writes costs
// at most one extra refetch, regardless of burst size.
func (s *Store) NotifyTables(tables []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, lq := range s.queries {
		if !intersects(lq.readsFrom, tables) {
			continue
		}
		if lq.inFlight {
			lq.pending = true
		} else {
			s.startFetch(lq)
		}
	}
}

// Feed pumps a client's notification stream into the store until the
// stream closes or ctx is cancelled.
func (s *Store) Feed(ctx context.Context, updates <-chan client.TableUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			s.NotifyTables(u.Tables)
		}
	}
}

// startFetch launches the single refetch for lq. Caller holds s.mu.
func (s *Store) startFetch(lq *liveQuery) {
	ctx, cancel := context.WithCancel(context.Background())
	lq.inFlight = true
	lq.cancel = cancel

	go func() {
		val, err := lq.fetch(ctx)

		s.mu.Lock()
		defer s.mu.Unlock()
		lq.inFlight = false
		lq.cancel = nil

		if s.queries[lq.key] != lq || ctx.Err() != nil {
			return // evicted while fetching
		}

		res := Result{Value: val, Err: err}
		if err != nil {
			s.log.Warn("live query refetch failed", zap.String("key", lq.key), zap.Error(err))
		}
		lq.lastValue = res
		lq.hasValue = true
		for sub := range lq.subs {
			sub.push(res)
		}

		if lq.pending {
			lq.pending = false
			s.startFetch(lq)
		}
	}()
}

// push delivers latest-wins: if the subscriber's buffer is full, the
// oldest emission is dropped in favor of the new one.
func (sub *Subscription) push(r Result) {
	select {
	case sub.ch <- r:
		return
	default:
	}
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- r:
	default:
	}
}

func intersects(set map[string]struct{}, tables []string) bool {
	for _, t := range tables {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

// Len reports the number of active live queries, for introspection.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}
