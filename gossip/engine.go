package gossip

import (
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/btree"
	"github.com/samber/lo"

	maelstrom "github.com/maelstrom-gossip/node"
)

// DefaultMaxAttempts and DefaultBaseline implement spec.md §4.6's daemon
// loop: a pending broadcast is retried with exponential backoff
// (2^attempts * baseline) until attempts exceeds DefaultMaxAttempts, at
// which point it is retired as an unreachable neighbour.
const (
	DefaultMaxAttempts = 16
	DefaultBaseline    = 2 * time.Millisecond
)

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithMaxAttempts overrides the retry cap (spec.md's MAX_ATTEMPTS).
func WithMaxAttempts(n int) Option {
	return func(e *Engine) { e.maxAttempts = n }
}

// WithBaseline overrides the backoff baseline (spec.md's BASELINE_MS).
func WithBaseline(d time.Duration) Option {
	return func(e *Engine) { e.baseline = d }
}

// pendingItem is one PendingBroadcast (spec.md §3): an outbound broadcast
// message addressed to one neighbour, scheduled to be (re)transmitted at
// wakeAt. seq breaks ties between entries scheduled for the same instant
// so the backing btree has a strict total order.
type pendingItem struct {
	wakeAt   time.Time
	seq      uint64
	dest     string
	msgID    int
	body     maelstrom.MessageBody
	attempts int
}

func pendingLess(a, b pendingItem) bool {
	if !a.wakeAt.Equal(b.wakeAt) {
		return a.wakeAt.Before(b.wakeAt)
	}
	return a.seq < b.seq
}

// Engine is the gossip daemon of spec.md §4.6: it owns the time-bucketed
// pending schedule and retransmits each entry until the Store reports it
// acknowledged or the retry cap is exceeded.
type Engine struct {
	store *Store
	state *maelstrom.NodeState

	maxAttempts int
	baseline    time.Duration

	mu   sync.Mutex
	tree *btree.BTreeG[pendingItem]
	seq  uint64

	sender  maelstrom.Sender
	wakeCh  chan struct{}
	stopCh  chan struct{}
	stopped int32
}

// NewEngine returns an Engine over store, using state to allocate fresh
// msg_ids for outbound broadcast/broadcast_ok messages. Call Start once
// the node's identity is known (spec.md §4.4: a Module's Init may start
// background tasks).
func NewEngine(store *Store, state *maelstrom.NodeState, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		state:       state,
		maxAttempts: DefaultMaxAttempts,
		baseline:    DefaultBaseline,
		tree:        btree.NewG(32, pendingLess),
		wakeCh:      make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start records sender as the daemon's outbound channel and launches the
// retry daemon. Must be called exactly once, before Enqueue.
func (e *Engine) Start(sender maelstrom.Sender) {
	e.sender = sender
	go e.runDaemon()
}

// Stop terminates the daemon and clears the pending schedule (spec.md
// §4.6 "Shutdown").
func (e *Engine) Stop() {
	if !atomic.CompareAndSwapInt32(&e.stopped, 0, 1) {
		return
	}
	e.mu.Lock()
	e.tree.Clear(false)
	e.mu.Unlock()
	close(e.stopCh)
}

// Enqueue implements spec.md §4.6's Enqueue algorithm: if payload has not
// been seen, it is recorded, a broadcast message is scheduled to every
// neighbour other than caller, and the daemon is woken; broadcast_ok is
// then sent to caller either way.
func (e *Engine) Enqueue(caller string, requestMsgID int, payload json.RawMessage) {
	if e.store.Add(payload) {
		neighbours := lo.Filter(e.store.Neighbours(), func(id string, _ int) bool {
			return id != caller
		})

		e.mu.Lock()
		now := time.Now()
		for _, dest := range neighbours {
			msgID := e.state.NextID()
			item := pendingItem{
				wakeAt: now,
				seq:    e.nextSeqLocked(),
				dest:   dest,
				msgID:  msgID,
				body:   maelstrom.NewBroadcast(msgID, payload),
			}
			e.tree.ReplaceOrInsert(item)
		}
		e.mu.Unlock()

		e.wake()
	}

	e.sender.Send(caller, maelstrom.NewBroadcastOk(e.state.NextID(), requestMsgID))
}

func (e *Engine) nextSeqLocked() uint64 {
	e.seq++
	return e.seq
}

func (e *Engine) wake() {
	select {
	case e.wakeCh <- struct{}{}:
	default:
	}
}

// runDaemon is the background retry loop (spec.md §4.6 "Daemon loop").
func (e *Engine) runDaemon() {
	for {
		select {
		case <-e.stopCh:
			return
		default:
		}

		e.runOnce(time.Now())

		wait, ok := e.nextWait()
		if !ok {
			select {
			case <-e.wakeCh:
			case <-e.stopCh:
				return
			}
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-e.wakeCh:
			timer.Stop()
		case <-e.stopCh:
			timer.Stop()
			return
		}
	}
}

// runOnce processes every entry due at or before now: retiring
// acknowledged or exhausted entries, and retransmitting+rescheduling the
// rest.
func (e *Engine) runOnce(now time.Time) {
	due := e.takeDue(now)
	if len(due) == 0 {
		return
	}

	reinsert := make([]pendingItem, 0, len(due))
	for _, item := range due {
		if e.store.Acked(item.msgID) {
			continue // retired: acknowledged
		}
		if item.attempts > e.maxAttempts {
			log.Printf("gossip: giving up on msg_id=%d to %s after %d attempts (unreachable neighbour)", item.msgID, item.dest, item.attempts)
			continue // retired: cap exceeded
		}

		e.sender.Send(item.dest, item.body)

		backoff := time.Duration(uint64(1)<<uint(item.attempts)) * e.baseline
		item.attempts++
		item.wakeAt = now.Add(backoff)
		reinsert = append(reinsert, item)
	}

	e.mu.Lock()
	for i := range reinsert {
		reinsert[i].seq = e.nextSeqLocked()
		e.tree.ReplaceOrInsert(reinsert[i])
	}
	e.mu.Unlock()
}

// takeDue removes and returns every entry whose wakeAt is <= now.
func (e *Engine) takeDue(now time.Time) []pendingItem {
	e.mu.Lock()
	defer e.mu.Unlock()

	var due []pendingItem
	e.tree.Ascend(func(item pendingItem) bool {
		if item.wakeAt.After(now) {
			return false
		}
		due = append(due, item)
		return true
	})
	for _, item := range due {
		e.tree.Delete(item)
	}
	return due
}

// nextWait returns how long to sleep until the earliest remaining entry
// is due, or false if the schedule is empty (sleep indefinitely until
// woken).
func (e *Engine) nextWait() (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	min, ok := e.tree.Min()
	if !ok {
		return 0, false
	}
	d := time.Until(min.wakeAt)
	if d < 0 {
		d = 0
	}
	return d, true
}
