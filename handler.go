package maelstrom

// Sender is the handle a Module uses to emit messages asynchronously,
// outside the request/response it is currently handling. It is backed by
// the output serializer's queue (serializer.go).
type Sender interface {
	// Send enqueues body addressed to dest. Allocates no msg_id itself;
	// callers that need one should call NodeState.NextID.
	Send(dest string, body MessageBody)
}

// Response converts a handler's result into zero or more outbound
// messages, given the node that processed the request, the caller, and
// the request's msg_id. Most handlers produce exactly one reply; Response
// exists so a handler can also produce none (NoOp) without special-casing
// the registry. Grounded on original_source/src/server.rs's Response trait.
type Response interface {
	ToMessages(state *NodeState, caller string, inReplyTo int) []MessageBody
}

// singleBody is the common case: a Response that is exactly one reply
// body, with msg_id/in_reply_to filled in by the registry.
type singleBody struct {
	build func(msgID, inReplyTo int) MessageBody
}

func (r singleBody) ToMessages(state *NodeState, _ string, inReplyTo int) []MessageBody {
	return []MessageBody{r.build(state.NextID(), inReplyTo)}
}

// Reply wraps a response-body constructor (NewEchoOk, NewTopologyOk, ...)
// as a Response that allocates a fresh msg_id from NodeState and stamps
// in_reply_to from the request.
func Reply(build func(msgID, inReplyTo int) MessageBody) Response {
	return singleBody{build: build}
}

// NoOpResponse produces no outbound messages. Used for message types the
// runtime must accept without a NotImplemented error but that require no
// reply (spec.md §4.4: broadcast_ok, echo_ok as received acknowledgements).
var NoOpResponse Response = noOpResponse{}

type noOpResponse struct{}

func (noOpResponse) ToMessages(*NodeState, string, int) []MessageBody { return nil }

// RequestHandler is a pure function: it may read NodeState but must not
// hold onto the request past its own return, and produces its result
// synchronously. Adequate for echo, topology, and read (spec.md §4.4).
type RequestHandler func(state *NodeState, msg Message) (Response, error)

// Module is a stateful collaborator with access to the outbound Sender. Its
// Init is called once, before any request is dispatched to it, so it can
// start background work (the gossip engine's retry daemon is started this
// way). HandleRequest must itself send any acknowledgement the protocol
// requires; the registry does not auto-reply for Modules (spec.md §4.4).
type Module interface {
	Init(sender Sender)
	HandleRequest(sender Sender, state *NodeState, msg Message) error
}

// registryEntry is either a RequestHandler or a Module, never both.
type registryEntry struct {
	handler RequestHandler
	module  Module
}
