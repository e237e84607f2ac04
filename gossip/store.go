// Package gossip implements the reliable broadcast scheduler (spec.md §4.6):
// a BroadcastStore of seen values and acknowledged message IDs, and an
// Engine that retransmits pending broadcasts to neighbours with
// exponential backoff until each is acknowledged or a retry cap is hit.
package gossip

import (
	"encoding/json"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// Store holds the state a node's broadcast workload accumulates:
// neighbours (replaced wholesale by the most recent topology message),
// seenValues (grow-only, deduplicated by exact JSON text), and
// acknowledged (msg_ids of our own outbound broadcasts that have been
// acked). All three live behind one RWMutex, per spec.md §9's design note
// that a single lock avoids torn reads between a topology write and a
// gossip read — grounded on original_source/src/broadcast.rs's
// RwLock<BroadcastServer>.
type Store struct {
	mu         sync.RWMutex
	neighbours []string

	seen    []json.RawMessage  // insertion order, for deterministic read_ok snapshots
	seenSet mapset.Set[string] // exact JSON text membership

	acknowledged mapset.Set[int]
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		seenSet:      mapset.NewThreadUnsafeSet[string](),
		acknowledged: mapset.NewThreadUnsafeSet[int](),
	}
}

// SetNeighbours replaces the neighbour list wholesale, as every topology
// message does (spec.md §3).
func (s *Store) SetNeighbours(neighbours []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.neighbours = append([]string(nil), neighbours...)
}

// Neighbours returns a snapshot of the current neighbour list, copied
// under the lock so the caller can range over it after releasing the
// lock.
func (s *Store) Neighbours() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.neighbours...)
}

// Add records payload as seen if it is not already present, returning
// true if it was newly added. Membership is exact JSON textual equality
// (spec.md §3).
func (s *Store) Add(payload json.RawMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := string(payload)
	if s.seenSet.Contains(key) {
		return false
	}
	s.seenSet.Add(key)
	s.seen = append(s.seen, payload)
	return true
}

// Contains reports whether payload has already been recorded.
func (s *Store) Contains(payload json.RawMessage) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seenSet.Contains(string(payload))
}

// Snapshot returns every seen payload, each preserved as the original
// opaque JSON it arrived as (spec.md §4.7: "no re-parsing"), in the order
// it was first observed.
func (s *Store) Snapshot() []json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]json.RawMessage, len(s.seen))
	copy(out, s.seen)
	return out
}

// Ack records that msgID — one of our own outbound broadcast message IDs
// — has been acknowledged by its recipient.
func (s *Store) Ack(msgID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acknowledged.Add(msgID)
}

// Acked reports whether msgID has been acknowledged.
func (s *Store) Acked(msgID int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.acknowledged.Contains(msgID)
}

// ackedSnapshot returns a plain map copy of the acknowledged set, used by
// tests that want to assert on membership without reaching into the set
// type.
func (s *Store) ackedSnapshot() map[int]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int]struct{}, s.acknowledged.Cardinality())
	for v := range s.acknowledged.Iter() {
		out[v] = struct{}{}
	}
	return out
}
