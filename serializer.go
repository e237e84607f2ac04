package maelstrom

import (
	"bufio"
	"encoding/json"
	"io"
	"log"
)

// outbound is one message queued for the serializer, already addressed.
type outbound struct {
	src  string
	dest string
	body MessageBody
}

// serializer is the single writer task that owns stdout (spec.md §4.3):
// every outbound message passes through its queue so that two goroutines
// racing to reply never interleave their JSON bytes on the wire.
type serializer struct {
	queue chan outbound
	w     *bufio.Writer
	done  chan struct{}
}

func newSerializer(w io.Writer, queueSize int) *serializer {
	return &serializer{
		queue: make(chan outbound, queueSize),
		w:     bufio.NewWriter(w),
		done:  make(chan struct{}),
	}
}

// enqueue schedules body for delivery to dest from src. Blocks the caller
// only while the queue's buffer is full.
func (s *serializer) enqueue(src, dest string, body MessageBody) {
	s.queue <- outbound{src: src, dest: dest, body: body}
}

// run drains the queue until close is called and every queued message has
// been written. Intended to run on its own goroutine.
func (s *serializer) run() {
	defer close(s.done)
	for m := range s.queue {
		s.writeOne(m)
	}
}

// writeOne marshals and writes a single message, falling back to a
// hand-built error envelope (code 13) if marshaling fails, preserving
// addressing and in_reply_to exactly as spec.md §4.3 requires.
func (s *serializer) writeOne(m outbound) {
	bodyRaw, err := json.Marshal(m.body)
	if err != nil {
		inReplyTo := 0
		if m.body.InReplyTo != nil {
			inReplyTo = *m.body.InReplyTo
		}
		errBody := NewErrorBody(inReplyTo, CodeSerializationFailed, "unable to serialise response")
		bodyRaw, _ = json.Marshal(errBody)
		log.Printf("serializer: encoding failed for %s->%s: %s", m.src, m.dest, err)
	}

	buf, err := json.Marshal(Message{Src: m.src, Dest: m.dest, Body: bodyRaw})
	if err != nil {
		log.Printf("serializer: encoding envelope failed for %s->%s: %s", m.src, m.dest, err)
		return
	}

	if _, err := s.w.Write(buf); err != nil {
		log.Printf("serializer: write failed: %s", err)
		return
	}
	if err := s.w.WriteByte('\n'); err != nil {
		log.Printf("serializer: write failed: %s", err)
		return
	}
	if err := s.w.Flush(); err != nil {
		log.Printf("serializer: flush failed: %s", err)
	}
}

// close signals no more messages will be enqueued and blocks until the
// queue has fully drained.
func (s *serializer) close() {
	close(s.queue)
	<-s.done
}
