package maelstrom

import (
	"sync"
	"sync/atomic"
)

// NodeState holds this process's identity, cluster membership, and the
// monotonic message-ID counter. It is read-mostly: the single mutation
// (Init) is a one-shot write guarded by a condition variable so that
// readers blocked in WaitUntilInitialized see a fully written state once
// it is released (spec.md §4.2, §9 "Init barrier").
type NodeState struct {
	mu          sync.Mutex
	cond        *sync.Cond
	id          string
	ids         []string
	initialized bool

	nextMsgID int64
}

// NewNodeState returns a NodeState with the init barrier armed. The node
// identity is not set until Init is called.
func NewNodeState() *NodeState {
	s := &NodeState{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Init records this node's identity and cluster membership, releasing the
// init barrier. Returns CodeAlreadyInitialised if called twice.
func (s *NodeState) Init(id string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return NewRPCError(CodeAlreadyInitialised, "node already initialised")
	}
	s.id = id
	s.ids = ids
	s.initialized = true
	s.cond.Broadcast()
	return nil
}

// NextID returns the current message-ID counter value and atomically
// advances it. Safe for concurrent use; does not require initialization.
func (s *NodeState) NextID() int {
	return int(atomic.AddInt64(&s.nextMsgID, 1) - 1)
}

// WaitUntilInitialized blocks until Init has completed.
func (s *NodeState) WaitUntilInitialized() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.initialized {
		s.cond.Wait()
	}
}

// ReadID blocks until initialized, then returns the node's own ID.
func (s *NodeState) ReadID() string {
	s.WaitUntilInitialized()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// ReadIDs blocks until initialized, then returns a snapshot of all node IDs
// in the cluster, including this one.
func (s *NodeState) ReadIDs() []string {
	s.WaitUntilInitialized()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// IsInitialized reports whether Init has already completed, without
// blocking.
func (s *NodeState) IsInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}
