package sink

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"strconv"
	"time"

	"github.com/you/chatzzk/internal/core"
)

// Message is the slice of a bus delivery the consumer needs. *nats.Msg is
// adapted via WrapNats; tests supply their own.
type Message interface {
	// ID is the bus-assigned unique identity used as the dedup key.
	ID() string
	Data() []byte
	Attribute(key string) string
	Attributes() map[string]string
	// PublishTime is the bus's own delivery timestamp, the second-to-last
	// fallback for ts resolution.
	PublishTime() time.Time
	Ack() error
	Nak() error
}

// Status is the per-message outcome, explicit so failure isolation is
// auditable rather than a side effect of a broad recover.
type Status int

const (
	StatusPersisted Status = iota
	StatusDuplicate
	StatusRedeliver
)

type Outcome struct {
	Status Status
	Reason string
}

// Consumer normalizes bus messages and performs the idempotent store write.
// It acks only after the write (or duplicate no-op) succeeds and naks on any
// failure so the bus redelivers.
type Consumer struct {
	store Store
	now   func() time.Time
}

func NewConsumer(store Store) *Consumer {
	return &Consumer{store: store, now: time.Now}
}

// Handle processes one delivery end to end. It never panics outward and never
// silently drops: every message either persists, no-ops on conflict, or is
// negative-acknowledged with the failure logged in full.
func (c *Consumer) Handle(ctx context.Context, m Message) Outcome {
	row := c.resolve(m)

	inserted, err := c.store.InsertChat(ctx, row)
	if err != nil {
		consumerMetrics.redelivered.Inc()
		slog.Error("persist failed", "mid", row.MessageID, "streamer", row.StreamerID, "err", err)
		if nerr := m.Nak(); nerr != nil {
			log.Printf("sink: nack %s: %v", row.MessageID, nerr)
		}
		return Outcome{Status: StatusRedeliver, Reason: err.Error()}
	}

	if aerr := m.Ack(); aerr != nil {
		// The write landed; a failed ack only risks a redelivery, which the
		// conflict policy absorbs.
		log.Printf("sink: ack %s: %v", row.MessageID, aerr)
	}

	if !inserted {
		consumerMetrics.duplicates.Inc()
		return Outcome{Status: StatusDuplicate}
	}
	consumerMetrics.persisted.Inc()
	slog.Info("persisted", "mid", row.MessageID, "streamer", row.StreamerID, "ts", row.Ts.Format(time.RFC3339))
	return Outcome{Status: StatusPersisted}
}

// resolve reconstructs the durable row from a possibly malformed or partial
// delivery. Per-field precedence: structured payload field, then bus
// attribute, then a derived default. Resolution never fails; persistence is
// not blocked by bad upstream data.
func (c *Consumer) resolve(m Message) core.ChatRow {
	text := string(m.Data())

	var payload map[string]any
	if err := json.Unmarshal(m.Data(), &payload); err != nil {
		payload = nil
	}

	row := core.ChatRow{MessageID: m.ID()}

	row.StreamerID = pick(
		stringField(payload, "streamer_id"),
		m.Attribute("streamer_id"),
	)
	if row.StreamerID == "" {
		row.StreamerID = "unknown_streamer"
	}

	if user := pick(stringField(payload, "user_id"), m.Attribute("user_id")); user != "" {
		row.UserID = &user
	}

	row.Msg = pick(
		stringField(payload, "msg"),
		stringField(payload, "message"),
		text,
	)

	row.Ts = c.normalizeTime(pickAny(
		anyField(payload, "ts"),
		m.Attribute("ts"),
		m.PublishTime(),
	))

	if payload != nil {
		row.Raw = append([]byte(nil), m.Data()...)
	} else {
		raw, err := json.Marshal(map[string]any{"data": text, "attributes": m.Attributes()})
		if err == nil {
			row.Raw = raw
		}
	}
	return row
}

// normalizeTime accepts an already-typed timestamp, a numeric epoch in
// seconds, or an ISO-8601 string with or without a trailing "Z". Anything
// unparseable resolves to now in UTC, never an error.
func (c *Consumer) normalizeTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		if !t.IsZero() {
			return t.UTC()
		}
	case float64:
		return epochSeconds(t)
	case int64:
		return epochSeconds(float64(t))
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return epochSeconds(f)
		}
	case string:
		if parsed, ok := parseISO(t); ok {
			return parsed
		}
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return epochSeconds(f)
		}
	}
	return c.now().UTC()
}

func epochSeconds(sec float64) time.Time {
	return time.Unix(0, int64(sec*float64(time.Second))).UTC()
}

func parseISO(s string) (time.Time, bool) {
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999", // no zone: assume UTC
		"2006-01-02T15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func pick(candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}

func pickAny(candidates ...any) any {
	for _, c := range candidates {
		switch v := c.(type) {
		case nil:
			continue
		case string:
			if v != "" {
				return v
			}
		case time.Time:
			if !v.IsZero() {
				return v
			}
		default:
			return c
		}
	}
	return nil
}

func stringField(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func anyField(payload map[string]any, key string) any {
	if payload == nil {
		return nil
	}
	return payload[key]
}
