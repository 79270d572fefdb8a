package bus

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

type SubscriberConfig struct {
	URL     string
	Stream  string
	Subject string
	Durable string

	// Workers sizes the handler pool independently of the number of
	// collector sessions.
	Workers    int
	FetchBatch int
	AckWait    time.Duration
}

func (c SubscriberConfig) withDefaults() SubscriberConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.FetchBatch <= 0 {
		c.FetchBatch = 64
	}
	if c.AckWait <= 0 {
		c.AckWait = 30 * time.Second
	}
	return c
}

// Handler processes one delivered message. It is responsible for ack/nack.
type Handler func(ctx context.Context, msg *nats.Msg)

// Subscriber pulls from a durable JetStream consumer with a pool of worker
// goroutines. Delivery is at-least-once and unordered across workers.
type Subscriber struct {
	cfg  SubscriberConfig
	nc   *nats.Conn
	subs []*nats.Subscription
}

func NewSubscriber(cfg SubscriberConfig) (*Subscriber, error) {
	cfg = cfg.withDefaults()

	nc, err := nats.Connect(cfg.URL,
		nats.Name("chatzzk-persister"),
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

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, errors.Wrap(err, "jetstream context")
	}
	if err := ensureStream(js, cfg.Stream, cfg.Subject); err != nil {
		nc.Close()
		return nil, err
	}

	// One pull subscription per worker, all bound to the same durable
	// consumer, so fetches do not contend on a single subscription.
	subs := make([]*nats.Subscription, 0, cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		sub, err := js.PullSubscribe(cfg.Subject, cfg.Durable,
			nats.BindStream(cfg.Stream),
			nats.ManualAck(),
			nats.AckExplicit(),
			nats.AckWait(cfg.AckWait),
		)
		if err != nil {
			nc.Close()
			return nil, errors.Wrap(err, "pull subscribe")
		}
		subs = append(subs, sub)
	}

	return &Subscriber{cfg: cfg, nc: nc, subs: subs}, nil
}

// Run blocks dispatching messages to the handler until the context is
// cancelled.
func (s *Subscriber) Run(ctx context.Context, handle Handler) {
	var wg sync.WaitGroup
	for i, sub := range s.subs {
		wg.Add(1)
		go func(worker int, sub *nats.Subscription) {
			defer wg.Done()
			s.runWorker(ctx, worker, sub, handle)
		}(i, sub)
	}
	wg.Wait()
}

func (s *Subscriber) runWorker(ctx context.Context, worker int, sub *nats.Subscription, handle Handler) {
	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := sub.Fetch(s.cfg.FetchBatch, nats.MaxWait(2*time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, nats.ErrConnectionClosed) {
				return
			}
			log.Printf("bus: worker %d: fetch: %v", worker, err)
			continue
		}
		for _, msg := range msgs {
			handle(ctx, msg)
		}
	}
}

// Close drains the bus connection. The durable consumer is left in place so
// redeliveries survive a restart; workers are stopped by cancelling the Run
// context before calling Close.
func (s *Subscriber) Close() error {
	if err := s.nc.Drain(); err != nil {
		s.nc.Close()
		return errors.Wrap(err, "drain connection")
	}
	return nil
}
