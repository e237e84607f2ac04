package maelstrom

import (
	"encoding/json"
	"fmt"
)

// Maelstrom RPC error codes used by this runtime. Numbering follows the
// Maelstrom protocol documentation, not the teacher's internal table.
const (
	CodeNotImplemented      = 10
	CodeMissingField        = 12
	CodeSerializationFailed = 13
	CodeAlreadyInitialised  = 22
)

// ErrorCodeText returns a human-readable name for a protocol error code.
func ErrorCodeText(code int) string {
	switch code {
	case CodeNotImplemented:
		return "NotImplemented"
	case CodeMissingField:
		return "MissingField"
	case CodeSerializationFailed:
		return "SerializationFailed"
	case CodeAlreadyInitialised:
		return "AlreadyInitialised"
	default:
		return fmt.Sprintf("ErrorCode<%d>", code)
	}
}

// RPCError is a Maelstrom protocol error. Returning one from a handler
// tells the dispatch loop to reply with an "error" message carrying Code
// and Text; returning any other error produces a generic MissingField
// (code 12) reply carrying the error's text instead (see dispatch.go).
type RPCError struct {
	Code int
	Text string
}

// NewRPCError returns a new RPCError with the given code and text.
func NewRPCError(code int, text string) *RPCError {
	return &RPCError{Code: code, Text: text}
}

// MissingFieldError reports a required body field that was absent, using
// spec.md's dot-notation path convention (e.g. "body.node_id").
func MissingFieldError(path string) *RPCError {
	return NewRPCError(CodeMissingField, fmt.Sprintf("missing field: %s", path))
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPCError(%s, %q)", ErrorCodeText(e.Code), e.Text)
}

// Message is a single Maelstrom envelope: an opaque src/dest pair plus a
// body whose shape is determined by body.Type.
type Message struct {
	Src  string          `json:"src,omitempty"`
	Dest string          `json:"dest,omitempty"`
	Body json.RawMessage `json:"body,omitempty"`
}

// Type returns the body's "type" field, or "" if the body is malformed.
func (m Message) Type() string {
	var b struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(m.Body, &b); err != nil {
		return ""
	}
	return b.Type
}

// MsgID returns the body's "msg_id" field and whether it was present.
func (m Message) MsgID() (int, bool) {
	var b struct {
		MsgID *int `json:"msg_id"`
	}
	if err := json.Unmarshal(m.Body, &b); err != nil || b.MsgID == nil {
		return 0, false
	}
	return *b.MsgID, true
}

// MessageBody is the reserved-key envelope shared by every body. Workload
// handlers decode their own request structs from Message.Body directly;
// this type exists for the runtime's own bookkeeping (init, errors,
// in_reply_to extraction) and for constructing responses.
type MessageBody struct {
	Type      string `json:"type,omitempty"`
	MsgID     *int   `json:"msg_id,omitempty"`
	InReplyTo *int   `json:"in_reply_to,omitempty"`

	// init
	NodeID  string   `json:"node_id,omitempty"`
	NodeIDs []string `json:"node_ids,omitempty"`

	// echo
	Echo string `json:"echo,omitempty"`

	// error
	Code int    `json:"code,omitempty"`
	Text string `json:"text,omitempty"`

	// topology
	Topology map[string][]string `json:"topology,omitempty"`

	// broadcast / read_ok
	Message  json.RawMessage   `json:"message,omitempty"`
	Messages []json.RawMessage `json:"messages,omitempty"`
}

func intPtr(v int) *int { return &v }

// NewInitOk builds an init_ok response body.
func NewInitOk(msgID, inReplyTo int) MessageBody {
	return MessageBody{Type: "init_ok", MsgID: intPtr(msgID), InReplyTo: intPtr(inReplyTo)}
}

// NewEchoOk builds an echo_ok response body carrying the same echo text.
func NewEchoOk(msgID, inReplyTo int, echo string) MessageBody {
	return MessageBody{Type: "echo_ok", MsgID: intPtr(msgID), InReplyTo: intPtr(inReplyTo), Echo: echo}
}

// NewTopologyOk builds a topology_ok response body.
func NewTopologyOk(msgID, inReplyTo int) MessageBody {
	return MessageBody{Type: "topology_ok", MsgID: intPtr(msgID), InReplyTo: intPtr(inReplyTo)}
}

// NewBroadcastOk builds a broadcast_ok response body.
func NewBroadcastOk(msgID, inReplyTo int) MessageBody {
	return MessageBody{Type: "broadcast_ok", MsgID: intPtr(msgID), InReplyTo: intPtr(inReplyTo)}
}

// NewReadOk builds a read_ok response body carrying the given opaque
// payloads verbatim.
func NewReadOk(msgID, inReplyTo int, messages []json.RawMessage) MessageBody {
	return MessageBody{Type: "read_ok", MsgID: intPtr(msgID), InReplyTo: intPtr(inReplyTo), Messages: messages}
}

// NewBroadcast builds an outbound broadcast request body.
func NewBroadcast(msgID int, message json.RawMessage) MessageBody {
	return MessageBody{Type: "broadcast", MsgID: intPtr(msgID), Message: message}
}

// NewErrorBody builds an error response body. Per spec.md §4.1, error
// bodies never carry msg_id themselves.
func NewErrorBody(inReplyTo int, code int, text string) MessageBody {
	return MessageBody{Type: "error", InReplyTo: intPtr(inReplyTo), Code: code, Text: text}
}
