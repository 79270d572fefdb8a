package core

import "time"

// EventType labels a chat event as ordinary chat or a donation.
type EventType string

const (
	EventChat     EventType = "chat"
	EventDonation EventType = "donation"
)

// ChatEvent is the unified structure published to the bus, one per user-level
// sub-event extracted from a batched chat/donation frame.
type ChatEvent struct {
	StreamerID    string    `json:"streamer_id"`
	StreamerName  string    `json:"streamer_name"`
	ChatChannelID string    `json:"chat_channel_id"`
	Type          EventType `json:"type"`
	UserKey       string    `json:"uid"`     // opaque sender id, or "anonymous"
	DisplayUser   string    `json:"user_id"` // nickname, or anonymous-donor sentinel
	Message       string    `json:"msg"`
	EventTimeMS   int64     `json:"msgTime_ms"`
	EventTimeISO  *string   `json:"ts_iso"` // derived; nil when the source timestamp is unusable
}

// ChatRow is the durable record the persister writes. MessageID is the
// bus-assigned identity and the sole dedup key; a row is written at most once
// per MessageID and never updated by this subsystem.
type ChatRow struct {
	MessageID  string
	StreamerID string
	UserID     *string
	Msg        string
	Ts         time.Time
	Raw        []byte // original payload as JSON
}
