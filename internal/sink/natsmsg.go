package sink

import (
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// natsMessage adapts *nats.Msg to the consumer's Message interface.
type natsMessage struct {
	msg  *nats.Msg
	meta *nats.MsgMetadata
	id   string
}

// WrapNats wraps a JetStream delivery. Metadata is resolved once up front;
// a message without JetStream metadata still works, it just loses the
// sequence-based id fallback and the publish-time fallback.
func WrapNats(msg *nats.Msg) Message {
	meta, err := msg.Metadata()
	if err != nil {
		meta = nil
	}
	return &natsMessage{msg: msg, meta: meta, id: resolveID(msg, meta)}
}

// resolveID prefers the publisher-assigned id, then a stream-sequence id. A
// delivery with neither gets a generated id so it cannot collide on "" in the
// conflict policy.
func resolveID(msg *nats.Msg, meta *nats.MsgMetadata) string {
	if id := msg.Header.Get(nats.MsgIdHdr); id != "" {
		return id
	}
	if meta != nil {
		return meta.Stream + "-" + strconv.FormatUint(meta.Sequence.Stream, 10)
	}
	id := "gen-" + uuid.NewString()
	log.Printf("sink: delivery on %s has no message id; assigned %s", msg.Subject, id)
	return id
}

func (n *natsMessage) ID() string {
	return n.id
}

func (n *natsMessage) Data() []byte {
	return n.msg.Data
}

func (n *natsMessage) Attribute(key string) string {
	return n.msg.Header.Get(key)
}

func (n *natsMessage) Attributes() map[string]string {
	attrs := make(map[string]string, len(n.msg.Header))
	for key := range n.msg.Header {
		attrs[key] = n.msg.Header.Get(key)
	}
	return attrs
}

func (n *natsMessage) PublishTime() time.Time {
	if n.meta != nil {
		return n.meta.Timestamp
	}
	return time.Time{}
}

func (n *natsMessage) Ack() error {
	return n.msg.Ack()
}

func (n *natsMessage) Nak() error {
	return n.msg.Nak()
}
