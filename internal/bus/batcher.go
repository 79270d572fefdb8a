package bus

import (
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

// batcher accumulates outgoing bus messages and hands them to a flush
// function once a count, byte, or time threshold is reached. Callers never
// wait on a network flight; the flush function is responsible for staying
// asynchronous.
type batcher struct {
	flush         func([]*nats.Msg)
	maxMessages   int
	maxBytes      int
	flushInterval time.Duration

	mu     sync.Mutex
	buffer []*nats.Msg
	bytes  int
	timer  *time.Timer
	closed bool

	// inflight counts flushes that have taken their batch and released the
	// lock. Close waits on it so the flush target can be torn down once
	// Close returns.
	inflight sync.WaitGroup
}

type batcherOptions struct {
	MaxMessages   int
	MaxBytes      int
	FlushInterval time.Duration
}

func newBatcher(flush func([]*nats.Msg), opts batcherOptions) *batcher {
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = 1
	}
	return &batcher{
		flush:         flush,
		maxMessages:   opts.MaxMessages,
		maxBytes:      opts.MaxBytes,
		flushInterval: opts.FlushInterval,
	}
}

func (b *batcher) Add(msg *nats.Msg) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("batcher closed")
	}

	b.buffer = append(b.buffer, msg)
	b.bytes += len(msg.Data)
	if len(b.buffer) == 1 && b.flushInterval > 0 {
		b.startTimerLocked()
	}

	if len(b.buffer) < b.maxMessages && (b.maxBytes <= 0 || b.bytes < b.maxBytes) {
		b.mu.Unlock()
		return nil
	}

	msgs := b.takeLocked()
	b.stopTimerLocked()
	b.inflight.Add(1)
	b.mu.Unlock()

	b.flush(msgs)
	b.inflight.Done()
	return nil
}

// Close flushes the remainder and blocks until every in-flight flush has
// returned. Afterwards no flush call is running or will run.
func (b *batcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.stopTimerLocked()
	msgs := b.takeLocked()
	b.mu.Unlock()

	if len(msgs) > 0 {
		b.flush(msgs)
	}
	b.inflight.Wait()
}

func (b *batcher) onTimer() {
	b.mu.Lock()
	if b.closed || len(b.buffer) == 0 {
		b.timer = nil
		b.mu.Unlock()
		return
	}
	msgs := b.takeLocked()
	b.timer = nil
	b.inflight.Add(1)
	b.mu.Unlock()

	b.flush(msgs)
	b.inflight.Done()
}

func (b *batcher) takeLocked() []*nats.Msg {
	msgs := append([]*nats.Msg(nil), b.buffer...)
	b.buffer = b.buffer[:0]
	b.bytes = 0
	return msgs
}

func (b *batcher) startTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.flushInterval, b.onTimer)
}

func (b *batcher) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
