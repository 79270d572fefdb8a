package chzzk

import (
	"encoding/json"
	"time"

	"github.com/you/chatzzk/internal/core"
)

// Target identifies the channel a frame was received on. Values are stamped
// onto every event extracted from the frame.
type Target struct {
	StreamerID    string
	StreamerName  string
	ChatChannelID string
}

// Skip records one sub-event dropped during classification, so failure
// isolation is visible to the caller instead of silently swallowed.
type Skip struct {
	Index  int
	Reason string
}

// Classify decodes a raw frame into zero or more chat events. Only CmdChat and
// CmdDonation frames produce events; every other command yields none. A
// malformed sub-event is skipped without affecting its siblings.
func Classify(f Frame, target Target) ([]core.ChatEvent, []Skip) {
	var typ core.EventType
	switch f.Cmd {
	case CmdChat:
		typ = core.EventChat
	case CmdDonation:
		typ = core.EventDonation
	default:
		return nil, nil
	}

	var subs []json.RawMessage
	if err := json.Unmarshal(f.Bdy, &subs); err != nil {
		return nil, []Skip{{Index: -1, Reason: "body is not a batch: " + err.Error()}}
	}

	var (
		events []core.ChatEvent
		skips  []Skip
	)
	for i, raw := range subs {
		ev, skip := classifySub(raw, typ, target)
		if skip != "" {
			skips = append(skips, Skip{Index: i, Reason: skip})
			continue
		}
		events = append(events, ev)
	}
	return events, skips
}

func classifySub(raw json.RawMessage, typ core.EventType, target Target) (core.ChatEvent, string) {
	var sub subEvent
	if err := json.Unmarshal(raw, &sub); err != nil {
		return core.ChatEvent{}, "decode sub-event: " + err.Error()
	}

	var display, message string
	if sub.UID == AnonymousUserKey {
		display = AnonymousDonorName
		if sub.Msg != nil {
			message = *sub.Msg
		}
	} else {
		var profile profileBody
		if err := json.Unmarshal([]byte(sub.Profile), &profile); err != nil {
			return core.ChatEvent{}, "decode profile: " + err.Error()
		}
		if sub.Msg == nil {
			return core.ChatEvent{}, "missing msg"
		}
		display = profile.Nickname
		message = *sub.Msg
	}

	return core.ChatEvent{
		StreamerID:    target.StreamerID,
		StreamerName:  target.StreamerName,
		ChatChannelID: target.ChatChannelID,
		Type:          typ,
		UserKey:       sub.UID,
		DisplayUser:   display,
		Message:       message,
		EventTimeMS:   sub.MsgTime,
		EventTimeISO:  isoFromMillis(sub.MsgTime),
	}, ""
}

// isoFromMillis derives the UTC ISO-8601 form of a platform timestamp. A
// timestamp that cannot be interpreted yields nil; emission never blocks on a
// cosmetic timestamp failure.
func isoFromMillis(ms int64) *string {
	if ms <= 0 {
		return nil
	}
	iso := time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.999Z07:00")
	return &iso
}
