// Command maelstrom-echo is the simplest possible workload: it replies to
// every "echo" request with an "echo_ok" carrying the same text back.
package main

import (
	"encoding/json"
	"log"

	maelstrom "github.com/maelstrom-gossip/node"
)

func main() {
	n := maelstrom.NewNode()

	n.Handle("echo", func(state *maelstrom.NodeState, msg maelstrom.Message) (maelstrom.Response, error) {
		var body struct {
			Echo *string `json:"echo"`
		}
		if err := json.Unmarshal(msg.Body, &body); err != nil || body.Echo == nil {
			return nil, maelstrom.MissingFieldError("body.echo")
		}
		echo := *body.Echo
		return maelstrom.Reply(func(msgID, inReplyTo int) maelstrom.MessageBody {
			return maelstrom.NewEchoOk(msgID, inReplyTo, echo)
		}), nil
	})

	// echo_ok is never expected as an inbound request in normal operation,
	// but registering it as a NoOp keeps a stray one from drawing a
	// NotImplemented error, mirroring broadcast_ok's registration.
	n.Handle("echo_ok", func(state *maelstrom.NodeState, msg maelstrom.Message) (maelstrom.Response, error) {
		return maelstrom.NoOpResponse, nil
	})

	if err := n.Run(); err != nil {
		log.Fatal(err)
	}
}
