package gossip

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestStore_SetNeighboursReplacesWholesale(t *testing.T) {
	s := NewStore()
	s.SetNeighbours([]string{"n2", "n3"})
	if got, want := s.Neighbours(), []string{"n2", "n3"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("neighbours=%v, want %v", got, want)
	}

	s.SetNeighbours([]string{"n4"})
	if got, want := s.Neighbours(), []string{"n4"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("neighbours=%v, want %v", got, want)
	}
}

func TestStore_NeighboursIsACopy(t *testing.T) {
	s := NewStore()
	s.SetNeighbours([]string{"n2"})
	got := s.Neighbours()
	got[0] = "mutated"
	if got2 := s.Neighbours(); got2[0] != "n2" {
		t.Fatalf("mutating the returned slice affected the store: %v", got2)
	}
}

func TestStore_AddDedupesByExactText(t *testing.T) {
	s := NewStore()
	if !s.Add(json.RawMessage(`1`)) {
		t.Fatal("expected first Add to report newly added")
	}
	if s.Add(json.RawMessage(`1`)) {
		t.Fatal("expected duplicate Add to report not newly added")
	}
	if !s.Add(json.RawMessage(`2`)) {
		t.Fatal("expected distinct payload to be newly added")
	}
	if !s.Contains(json.RawMessage(`1`)) || !s.Contains(json.RawMessage(`2`)) {
		t.Fatal("expected both payloads to be recorded")
	}
	if s.Contains(json.RawMessage(`3`)) {
		t.Fatal("unexpected payload reported present")
	}
}

func TestStore_SnapshotPreservesInsertionOrder(t *testing.T) {
	s := NewStore()
	s.Add(json.RawMessage(`3`))
	s.Add(json.RawMessage(`1`))
	s.Add(json.RawMessage(`2`))
	s.Add(json.RawMessage(`1`)) // duplicate, must not reorder or duplicate

	snap := s.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("len(snap)=%d, want 3", len(snap))
	}
	for i, want := range []string{"3", "1", "2"} {
		if string(snap[i]) != want {
			t.Fatalf("snap[%d]=%s, want %s", i, snap[i], want)
		}
	}
}

func TestStore_AckAndAcked(t *testing.T) {
	s := NewStore()
	if s.Acked(5) {
		t.Fatal("expected msg_id 5 to start unacknowledged")
	}
	s.Ack(5)
	if !s.Acked(5) {
		t.Fatal("expected msg_id 5 to be acknowledged")
	}
	if s.Acked(6) {
		t.Fatal("expected unrelated msg_id to remain unacknowledged")
	}

	snap := s.ackedSnapshot()
	if _, ok := snap[5]; !ok {
		t.Fatalf("ackedSnapshot()=%v, want it to contain 5", snap)
	}
}
