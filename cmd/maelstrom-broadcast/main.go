// Command maelstrom-broadcast implements the gossip-based reliable
// broadcast workload: a value seen once (via "broadcast" or propagated
// from a neighbour) is relayed to every other neighbour and retried with
// backoff until acknowledged, and "read" returns every value seen so far.
package main

import (
	"encoding/json"
	"log"

	maelstrom "github.com/maelstrom-gossip/node"
	"github.com/maelstrom-gossip/node/gossip"
)

// broadcastModule adapts the gossip Engine to maelstrom.Module: Init
// starts the retry daemon once the node's identity is known, and every
// "broadcast" request is handed to the engine to dedupe, gossip onward,
// and acknowledge.
type broadcastModule struct {
	engine *gossip.Engine
}

func (m *broadcastModule) Init(sender maelstrom.Sender) {
	m.engine.Start(sender)
}

func (m *broadcastModule) HandleRequest(sender maelstrom.Sender, state *maelstrom.NodeState, msg maelstrom.Message) error {
	var body struct {
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(msg.Body, &body); err != nil || body.Message == nil {
		return maelstrom.MissingFieldError("body.message")
	}

	msgID, ok := msg.MsgID()
	if !ok {
		return maelstrom.MissingFieldError("body.msg_id")
	}

	m.engine.Enqueue(msg.Src, msgID, body.Message)
	return nil
}

func main() {
	n := maelstrom.NewNode()
	store := gossip.NewStore()
	engine := gossip.NewEngine(store, n.State())

	n.HandleModule("broadcast", &broadcastModule{engine: engine})

	// broadcast_ok is the acknowledgement for our own outbound gossip; it
	// carries no reply of its own, it only retires a pending entry.
	n.Handle("broadcast_ok", func(state *maelstrom.NodeState, msg maelstrom.Message) (maelstrom.Response, error) {
		var body struct {
			InReplyTo *int `json:"in_reply_to"`
		}
		if err := json.Unmarshal(msg.Body, &body); err != nil || body.InReplyTo == nil {
			return nil, maelstrom.MissingFieldError("body.in_reply_to")
		}
		store.Ack(*body.InReplyTo)
		return maelstrom.NoOpResponse, nil
	})

	n.Handle("topology", func(state *maelstrom.NodeState, msg maelstrom.Message) (maelstrom.Response, error) {
		var body struct {
			Topology map[string][]string `json:"topology"`
		}
		if err := json.Unmarshal(msg.Body, &body); err != nil || body.Topology == nil {
			return nil, maelstrom.MissingFieldError("body.topology")
		}
		store.SetNeighbours(body.Topology[state.ReadID()])
		return maelstrom.Reply(maelstrom.NewTopologyOk), nil
	})

	n.Handle("read", func(state *maelstrom.NodeState, msg maelstrom.Message) (maelstrom.Response, error) {
		messages := store.Snapshot()
		return maelstrom.Reply(func(msgID, inReplyTo int) maelstrom.MessageBody {
			return maelstrom.NewReadOk(msgID, inReplyTo, messages)
		}), nil
	})

	if err := n.Run(); err != nil {
		log.Fatal(err)
	}
}
