// Package bus carries chat events between the collector and the persister
// over NATS JetStream: at-least-once delivery, no ordering guarantee, dedup
// by publisher-assigned message id.
package bus

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"github.com/you/chatzzk/internal/core"
)

// Attribute keys carried on every published message so downstream consumers
// can filter without decoding the payload.
const (
	AttrStreamerID = "streamer_id"
	AttrType       = "type"
)

type PublisherConfig struct {
	URL     string
	Stream  string
	Subject string

	// Batch thresholds before a network flight.
	MaxBatch      int           // default 1000 messages
	MaxBatchBytes int           // default 1 MB
	FlushInterval time.Duration // default 50ms

	MaxPending int // async publish window, default 4096
}

func (c PublisherConfig) withDefaults() PublisherConfig {
	if c.MaxBatch <= 0 {
		c.MaxBatch = 1000
	}
	if c.MaxBatchBytes <= 0 {
		c.MaxBatchBytes = 1 << 20
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 50 * time.Millisecond
	}
	if c.MaxPending <= 0 {
		c.MaxPending = 4096
	}
	return c
}

// Publisher serializes chat events and hands them to JetStream through a
// count/bytes/time batcher. Completion is observed asynchronously off the
// caller's goroutine: success logs the assigned stream sequence, failure logs
// an error and nothing more. Message ordering is explicitly not guaranteed.
type Publisher struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	subject string
	batch   *batcher

	completions chan nats.PubAckFuture
	drained     sync.WaitGroup
}

func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	cfg = cfg.withDefaults()

	nc, err := nats.Connect(cfg.URL,
		nats.Name("chatzzk-collector"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("bus: disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("bus: reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "connect nats")
	}

	js, err := nc.JetStream(nats.PublishAsyncMaxPending(cfg.MaxPending))
	if err != nil {
		nc.Close()
		return nil, errors.Wrap(err, "jetstream context")
	}

	if err := ensureStream(js, cfg.Stream, cfg.Subject); err != nil {
		nc.Close()
		return nil, err
	}

	p := &Publisher{
		nc:          nc,
		js:          js,
		subject:     cfg.Subject,
		completions: make(chan nats.PubAckFuture, cfg.MaxPending),
	}
	p.batch = newBatcher(p.flushBatch, batcherOptions{
		MaxMessages:   cfg.MaxBatch,
		MaxBytes:      cfg.MaxBatchBytes,
		FlushInterval: cfg.FlushInterval,
	})

	p.drained.Add(1)
	go p.drainCompletions()
	return p, nil
}

// ensureStream provisions the stream idempotently. The duplicate window gives
// bus-level dedup on the publisher-assigned message id; the store's conflict
// policy remains the correctness backstop.
func ensureStream(js nats.JetStreamContext, stream, subject string) error {
	_, err := js.StreamInfo(stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return errors.Wrap(err, "stream info")
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:       stream,
		Subjects:   []string{subject},
		Retention:  nats.LimitsPolicy,
		Duplicates: 2 * time.Minute,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return errors.Wrap(err, "add stream")
	}
	return nil
}

// Publish enqueues one event. It never blocks on a bus round-trip; the only
// errors surfaced here are local (serialization, closed publisher).
func (p *Publisher) Publish(_ context.Context, ev core.ChatEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}

	msg := nats.NewMsg(p.subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, uuid.NewString())
	msg.Header.Set(AttrStreamerID, ev.StreamerID)
	msg.Header.Set(AttrType, string(ev.Type))

	return p.batch.Add(msg)
}

func (p *Publisher) flushBatch(msgs []*nats.Msg) {
	for _, msg := range msgs {
		fut, err := p.js.PublishMsgAsync(msg)
		if err != nil {
			busMetrics.publishErrors.Inc()
			log.Printf("bus: publish failed: %v", err)
			continue
		}
		p.completions <- fut
	}
}

func (p *Publisher) drainCompletions() {
	defer p.drained.Done()
	for fut := range p.completions {
		select {
		case ack := <-fut.Ok():
			busMetrics.published.Inc()
			slog.Debug("bus: published", "stream", ack.Stream, "seq", ack.Sequence)
		case err := <-fut.Err():
			busMetrics.publishErrors.Inc()
			log.Printf("bus: publish failed: %v", err)
		case <-time.After(30 * time.Second):
			busMetrics.publishErrors.Inc()
			log.Printf("bus: publish completion timed out")
		}
	}
}

// Close flushes buffered messages, waits for outstanding acks, and closes the
// bus connection.
func (p *Publisher) Close() error {
	// batch.Close returns only after every in-flight flush has handed its
	// futures to the completions channel, so closing it below is safe.
	p.batch.Close()

	select {
	case <-p.js.PublishAsyncComplete():
	case <-time.After(5 * time.Second):
		log.Printf("bus: timed out waiting for outstanding publishes")
	}

	close(p.completions)
	p.drained.Wait()

	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return errors.Wrap(err, "drain connection")
	}
	return nil
}
