package gossip

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	maelstrom "github.com/maelstrom-gossip/node"
)

// fakeSender records every Send call so tests can assert on what the
// engine transmitted, without needing a real Node/serializer.
type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	wake chan struct{}
}

type sentMessage struct {
	dest string
	body maelstrom.MessageBody
}

func newFakeSender() *fakeSender {
	return &fakeSender{wake: make(chan struct{}, 64)}
}

func (f *fakeSender) Send(dest string, body maelstrom.MessageBody) {
	f.mu.Lock()
	f.sent = append(f.sent, sentMessage{dest: dest, body: body})
	f.mu.Unlock()
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *fakeSender) snapshot() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func (f *fakeSender) waitForCount(tb testing.TB, n int, timeout time.Duration) []sentMessage {
	tb.Helper()
	deadline := time.After(timeout)
	for {
		if snap := f.snapshot(); len(snap) >= n {
			return snap
		}
		select {
		case <-f.wake:
		case <-deadline:
			tb.Fatalf("timed out waiting for %d sent messages, got %d", n, len(f.snapshot()))
		}
	}
}

func newTestState(tb testing.TB, id string, ids []string) *maelstrom.NodeState {
	tb.Helper()
	s := maelstrom.NewNodeState()
	if err := s.Init(id, ids); err != nil {
		tb.Fatal(err)
	}
	return s
}

func TestEngine_EnqueueSendsBroadcastOkAndSkipsDuplicate(t *testing.T) {
	store := NewStore()
	store.SetNeighbours([]string{"n2", "n3"})
	state := newTestState(t, "n1", []string{"n1", "n2", "n3"})
	sender := newFakeSender()

	e := NewEngine(store, state, WithBaseline(time.Hour)) // freeze retransmission for this test
	e.Start(sender)
	defer e.Stop()

	e.Enqueue("n2", 10, json.RawMessage(`42`))

	sent := sender.waitForCount(t, 2, time.Second) // broadcast to n3 (caller n2 is skipped) + broadcast_ok
	var sawBroadcastOk, sawBroadcastToN3 bool
	for _, m := range sent {
		if m.dest == "n2" && m.body.Type == "broadcast_ok" {
			sawBroadcastOk = true
			if m.body.InReplyTo == nil || *m.body.InReplyTo != 10 {
				t.Fatalf("broadcast_ok in_reply_to=%v, want 10", m.body.InReplyTo)
			}
		}
		if m.dest == "n2" && m.body.Type == "broadcast" {
			t.Fatal("must not gossip the broadcast back to the sender")
		}
		if m.dest == "n3" && m.body.Type == "broadcast" {
			sawBroadcastToN3 = true
			if string(m.body.Message) != "42" {
				t.Fatalf("broadcast message=%s, want 42", m.body.Message)
			}
		}
	}
	if !sawBroadcastOk {
		t.Fatal("expected a broadcast_ok reply to the caller")
	}
	if !sawBroadcastToN3 {
		t.Fatal("expected a broadcast to the non-caller neighbour n3")
	}

	// Re-enqueueing the same payload must not gossip it again.
	e.Enqueue("n2", 11, json.RawMessage(`42`))
	sent = sender.waitForCount(t, 3, time.Second) // just the second broadcast_ok
	if len(sent) != 3 {
		t.Fatalf("len(sent)=%d, want 3 (duplicate payload must not be re-broadcast)", len(sent))
	}
}

func TestEngine_RetransmitsUntilAcked(t *testing.T) {
	store := NewStore()
	store.SetNeighbours([]string{"n2"})
	state := newTestState(t, "n1", []string{"n1", "n2"})
	sender := newFakeSender()

	e := NewEngine(store, state, WithBaseline(2*time.Millisecond))
	e.Start(sender)
	defer e.Stop()

	e.Enqueue("client", 1, json.RawMessage(`7`))

	// Wait for the first transmission and at least one retransmission to n2.
	deadline := time.After(time.Second)
	var broadcastMsgID int
	for {
		count := 0
		for _, m := range sender.snapshot() {
			if m.dest == "n2" && m.body.Type == "broadcast" {
				count++
				if m.body.MsgID != nil {
					broadcastMsgID = *m.body.MsgID
				}
			}
		}
		if count >= 2 {
			break
		}
		select {
		case <-sender.wake:
		case <-deadline:
			t.Fatalf("timed out waiting for retransmissions, saw %d", count)
		}
	}

	// Acknowledge it; retransmissions must stop growing after this.
	store.Ack(broadcastMsgID)
	time.Sleep(20 * time.Millisecond)
	countAtAck := 0
	for _, m := range sender.snapshot() {
		if m.dest == "n2" && m.body.Type == "broadcast" {
			countAtAck++
		}
	}
	time.Sleep(30 * time.Millisecond)
	countAfter := 0
	for _, m := range sender.snapshot() {
		if m.dest == "n2" && m.body.Type == "broadcast" {
			countAfter++
		}
	}
	if countAfter != countAtAck {
		t.Fatalf("retransmissions continued after ack: %d -> %d", countAtAck, countAfter)
	}
}

func TestEngine_RetiresAfterMaxAttempts(t *testing.T) {
	store := NewStore()
	store.SetNeighbours([]string{"n2"})
	state := newTestState(t, "n1", []string{"n1", "n2"})
	sender := newFakeSender()

	e := NewEngine(store, state, WithBaseline(time.Millisecond), WithMaxAttempts(2))
	e.Start(sender)
	defer e.Stop()

	e.Enqueue("client", 1, json.RawMessage(`9`))

	// With MaxAttempts=2, the entry transmits for attempts=0,1,2 (three
	// sends) and is then retired; give it generous headroom and confirm
	// the count stops growing.
	time.Sleep(100 * time.Millisecond)
	countFirst := 0
	for _, m := range sender.snapshot() {
		if m.dest == "n2" && m.body.Type == "broadcast" {
			countFirst++
		}
	}
	if countFirst < 3 {
		t.Fatalf("expected at least 3 transmissions before retirement, got %d", countFirst)
	}

	time.Sleep(100 * time.Millisecond)
	countSecond := 0
	for _, m := range sender.snapshot() {
		if m.dest == "n2" && m.body.Type == "broadcast" {
			countSecond++
		}
	}
	if countSecond != countFirst {
		t.Fatalf("transmissions continued past max attempts: %d -> %d", countFirst, countSecond)
	}
}
