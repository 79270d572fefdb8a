package chzzk

import (
	"encoding/json"
	"testing"

	"github.com/you/chatzzk/internal/core"
)

var testTarget = Target{StreamerID: "s1", StreamerName: "Streamer One", ChatChannelID: "cid-1"}

func chatFrame(t *testing.T, cmd int, subs ...map[string]any) Frame {
	t.Helper()
	body, err := json.Marshal(subs)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return Frame{Cmd: cmd, Bdy: body}
}

func profileJSON(t *testing.T, nickname string) string {
	t.Helper()
	data, err := json.Marshal(map[string]string{"nickname": nickname})
	if err != nil {
		t.Fatalf("marshal profile: %v", err)
	}
	return string(data)
}

func TestClassifyUnknownCommandYieldsNothing(t *testing.T) {
	for _, cmd := range []int{CmdPing, CmdPong, CmdConnect, CmdRequestRecentChat, 424242} {
		events, skips := Classify(Frame{Cmd: cmd}, testTarget)
		if len(events) != 0 || len(skips) != 0 {
			t.Fatalf("cmd %d: expected no events/skips, got %d/%d", cmd, len(events), len(skips))
		}
	}
}

func TestClassifyChatFrame(t *testing.T) {
	frame := chatFrame(t, CmdChat, map[string]any{
		"uid":     "user-1",
		"profile": profileJSON(t, "nick"),
		"msg":     "hello",
		"msgTime": int64(1704067200000), // 2024-01-01T00:00:00Z
	})

	events, skips := Classify(frame, testTarget)
	if len(skips) != 0 {
		t.Fatalf("unexpected skips: %+v", skips)
	}
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}

	ev := events[0]
	if ev.Type != core.EventChat {
		t.Fatalf("type = %q", ev.Type)
	}
	if ev.StreamerID != "s1" || ev.StreamerName != "Streamer One" || ev.ChatChannelID != "cid-1" {
		t.Fatalf("target fields not stamped: %+v", ev)
	}
	if ev.DisplayUser != "nick" || ev.Message != "hello" {
		t.Fatalf("user/message mismatch: %+v", ev)
	}
	if ev.EventTimeISO == nil || *ev.EventTimeISO != "2024-01-01T00:00:00Z" {
		t.Fatalf("iso timestamp = %v", ev.EventTimeISO)
	}
}

func TestClassifySkipsMalformedSiblingOnly(t *testing.T) {
	frame := chatFrame(t, CmdChat,
		map[string]any{"uid": "u1", "profile": profileJSON(t, "good"), "msg": "hi", "msgTime": int64(1)},
		map[string]any{"uid": "u2", "profile": profileJSON(t, "no-msg")},
	)

	events, skips := Classify(frame, testTarget)
	if len(events) != 1 {
		t.Fatalf("expected exactly one event, got %d", len(events))
	}
	if events[0].DisplayUser != "good" {
		t.Fatalf("wrong sibling survived: %+v", events[0])
	}
	if len(skips) != 1 || skips[0].Index != 1 || skips[0].Reason != "missing msg" {
		t.Fatalf("skips = %+v", skips)
	}
}

func TestClassifySkipsBrokenProfile(t *testing.T) {
	frame := chatFrame(t, CmdChat,
		map[string]any{"uid": "u1", "profile": "{not json", "msg": "hi"},
	)
	events, skips := Classify(frame, testTarget)
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
	if len(skips) != 1 {
		t.Fatalf("expected one skip, got %+v", skips)
	}
}

func TestClassifyAnonymousDonor(t *testing.T) {
	frame := chatFrame(t, CmdDonation,
		map[string]any{"uid": AnonymousUserKey, "msg": "1000원", "msgTime": int64(1704067200000)},
	)
	events, skips := Classify(frame, testTarget)
	if len(skips) != 0 {
		t.Fatalf("unexpected skips: %+v", skips)
	}
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	ev := events[0]
	if ev.Type != core.EventDonation {
		t.Fatalf("type = %q", ev.Type)
	}
	if ev.DisplayUser != AnonymousDonorName {
		t.Fatalf("display user = %q", ev.DisplayUser)
	}
}

func TestClassifyMissingTimestampStillEmits(t *testing.T) {
	frame := chatFrame(t, CmdChat,
		map[string]any{"uid": "u1", "profile": profileJSON(t, "nick"), "msg": "hi"},
	)
	events, _ := Classify(frame, testTarget)
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	if events[0].EventTimeISO != nil {
		t.Fatalf("expected nil iso for missing msgTime, got %q", *events[0].EventTimeISO)
	}
}

func TestClassifyNonBatchBody(t *testing.T) {
	frame := Frame{Cmd: CmdChat, Bdy: json.RawMessage(`{"uid":"u1"}`)}
	events, skips := Classify(frame, testTarget)
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
	if len(skips) != 1 || skips[0].Index != -1 {
		t.Fatalf("skips = %+v", skips)
	}
}
