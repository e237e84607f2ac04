package maelstrom

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"sync"
)

// Node hosts the runtime described in spec.md: it reads line-delimited
// JSON from Stdin, runs the init handshake synchronously (Phase A), then
// dispatches the remainder to a bounded worker pool (Phase B), serializing
// all replies through a single output task.
type Node struct {
	Stdin  io.Reader
	Stdout io.Writer

	state *NodeState

	mu       sync.Mutex
	registry map[string]registryEntry
	modules  []Module

	poolSize  int
	queueSize int

	ser *serializer
}

// Option configures a Node at construction time. These are internal
// tuning knobs, not part of the wire protocol (spec.md §6: no flags/env
// are part of the contract).
type Option func(*Node)

// WithWorkerPoolSize overrides the number of concurrent Phase B workers.
func WithWorkerPoolSize(n int) Option {
	return func(node *Node) { node.poolSize = n }
}

// WithOutputQueueSize overrides the serializer's outbound queue depth.
func WithOutputQueueSize(n int) Option {
	return func(node *Node) { node.queueSize = n }
}

// NewNode returns a Node wired to os.Stdin/os.Stdout with default tuning.
func NewNode(opts ...Option) *Node {
	n := &Node{
		Stdin:     os.Stdin,
		Stdout:    os.Stdout,
		state:     NewNodeState(),
		registry:  make(map[string]registryEntry),
		poolSize:  runtime.GOMAXPROCS(0) * 4,
		queueSize: 1024,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// State returns the node's identity/membership tracker.
func (n *Node) State() *NodeState { return n.state }

// Handle registers a pure RequestHandler for typ. Panics on a duplicate
// registration for the same type (spec.md §4.4: "at most one handler per
// type"), matching the teacher's Handle.
func (n *Node) Handle(typ string, fn RequestHandler) {
	n.register(typ, registryEntry{handler: fn})
}

// HandleModule registers a stateful Module for typ. Its Init is called
// once Phase A's handshake completes and before Phase B starts dispatching
// (spec.md §4.4: Module.Init "may start background tasks").
func (n *Node) HandleModule(typ string, mod Module) {
	n.mu.Lock()
	n.modules = append(n.modules, mod)
	n.mu.Unlock()
	n.register(typ, registryEntry{module: mod})
}

func (n *Node) register(typ string, entry registryEntry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.registry[typ]; ok {
		panic(fmt.Sprintf("duplicate message handler for %q message type", typ))
	}
	n.registry[typ] = entry
}

func (n *Node) lookup(typ string) (registryEntry, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	e, ok := n.registry[typ]
	return e, ok
}

// nodeSender adapts the serializer into the Sender interface Modules use,
// stamping src from the node's own identity at send time.
type nodeSender struct {
	node *Node
}

func (s nodeSender) Send(dest string, body MessageBody) {
	s.node.ser.enqueue(s.node.state.ReadID(), dest, body)
}

// Run executes the dispatch loop described in spec.md §4.5. It returns
// only on stdin EOF (after draining in-flight work) or an unrecoverable
// stdin read error.
func (n *Node) Run() error {
	n.ser = newSerializer(n.Stdout, n.queueSize)
	go n.ser.run()
	defer n.ser.close()

	scanner := bufio.NewScanner(n.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	if !n.runPhaseA(scanner) {
		return scanner.Err()
	}
	n.initModules()

	n.runPhaseB(scanner)
	return scanner.Err()
}

// runPhaseA reads lines sequentially until the init handshake completes.
// Returns false if stdin ended (EOF or error) before a valid init arrived.
func (n *Node) runPhaseA(scanner *bufio.Scanner) bool {
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)

		msg, ok := n.parseLine(line)
		if !ok {
			continue
		}

		msgID, ok := msg.MsgID()
		if !ok {
			log.Printf("dropping message with no msg_id before init: %s", line)
			continue
		}

		if msg.Type() != "init" {
			log.Printf("dropping non-init message before init: %s", line)
			continue
		}

		if n.handleInit(msg, msgID) {
			return true
		}
	}
	return false
}

// handleInit runs the init handshake and reports whether it completed. An
// init missing node_id or node_ids is answered with an error sent from the
// request's dest, since the node's own ID is not known yet.
func (n *Node) handleInit(msg Message, msgID int) bool {
	var body MessageBody
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		log.Printf("malformed init body, cannot respond: %s", err)
		return false
	}

	var missing *RPCError
	if body.NodeID == "" {
		missing = MissingFieldError("body.node_id")
	} else if body.NodeIDs == nil {
		missing = MissingFieldError("body.node_ids")
	}
	if missing != nil {
		n.ser.enqueue(msg.Dest, msg.Src, NewErrorBody(msgID, missing.Code, missing.Text))
		return false
	}

	if err := n.state.Init(body.NodeID, body.NodeIDs); err != nil {
		n.replyError(msg.Src, msgID, err.(*RPCError))
		return false
	}

	log.Printf("node %s initialised", n.state.ReadID())
	n.ser.enqueue(n.state.ReadID(), msg.Src, NewInitOk(n.state.NextID(), msgID))
	return true
}

// initModules starts every registered Module's background work, once,
// after the node identity is known.
func (n *Node) initModules() {
	n.mu.Lock()
	modules := append([]Module(nil), n.modules...)
	n.mu.Unlock()

	sender := nodeSender{node: n}
	for _, mod := range modules {
		mod.Init(sender)
	}
}

// runPhaseB reads the remaining lines, submitting each to the worker pool.
// It does not wait for individual tasks; at EOF it waits on the WaitGroup
// below for every worker to finish, and Run's deferred serializer close then
// drains the output queue, giving the drain-before-exit guarantee of
// spec.md §4.5.
func (n *Node) runPhaseB(scanner *bufio.Scanner) {
	jobs := make(chan Message, n.poolSize)
	var wg sync.WaitGroup

	for i := 0; i < n.poolSize; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range jobs {
				n.dispatchOne(msg)
			}
		}()
	}

	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		msg, ok := n.parseLine(line)
		if !ok {
			continue
		}
		jobs <- msg
	}

	close(jobs)
	wg.Wait()
}

// parseLine decodes one line as a Message, logging and dropping on
// failure (spec.md §7: "Parse failures on input: logged and dropped").
func (n *Node) parseLine(line []byte) (Message, bool) {
	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		log.Printf("unable to parse input, not responding: %s", err)
		return Message{}, false
	}
	return msg, true
}

// dispatchOne handles a single Phase B message: lookup, invoke, convert
// the result into outbound messages.
func (n *Node) dispatchOne(msg Message) {
	msgID, hasMsgID := msg.MsgID()
	typ := msg.Type()

	if typ == "init" {
		if hasMsgID {
			n.replyError(msg.Src, msgID, NewRPCError(CodeAlreadyInitialised, "node was already initialised"))
		} else {
			log.Printf("dropping second init with no msg_id: %s", msg.Body)
		}
		return
	}

	entry, ok := n.lookup(typ)
	if !ok {
		if hasMsgID {
			n.replyError(msg.Src, msgID, NewRPCError(CodeNotImplemented, fmt.Sprintf("no handler for message type %q", typ)))
		} else {
			log.Printf("no handler for message type %q with no msg_id, dropping", typ)
		}
		return
	}

	if entry.module != nil {
		if err := entry.module.HandleRequest(nodeSender{node: n}, n.state, msg); err != nil {
			n.handleError(msg.Src, msgID, hasMsgID, err)
		}
		return
	}

	resp, err := entry.handler(n.state, msg)
	if err != nil {
		n.handleError(msg.Src, msgID, hasMsgID, err)
		return
	}

	for _, body := range resp.ToMessages(n.state, msg.Src, msgID) {
		n.ser.enqueue(n.state.ReadID(), msg.Src, body)
	}
}

// handleError converts a handler error into a reply when the original
// request carried a msg_id, and only logs otherwise (spec.md §4.1, §7).
func (n *Node) handleError(dest string, msgID int, hasMsgID bool, err error) {
	if !hasMsgID {
		log.Printf("handler error with no msg_id to reply to: %s", err)
		return
	}
	if rpcErr, ok := err.(*RPCError); ok {
		n.replyError(dest, msgID, rpcErr)
		return
	}
	log.Printf("handler error: %s", err)
	n.replyError(dest, msgID, NewRPCError(CodeMissingField, err.Error()))
}

func (n *Node) replyError(dest string, inReplyTo int, err *RPCError) {
	n.ser.enqueue(n.state.ReadID(), dest, NewErrorBody(inReplyTo, err.Code, err.Text))
}
