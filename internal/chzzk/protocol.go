// Package chzzk speaks the Chzzk chat wire protocol: one websocket session per
// monitored streamer, a closed command vocabulary, and batched chat/donation
// frames that fan out into per-user events.
package chzzk

import "encoding/json"

// Command codes form a closed protocol vocabulary. Frames carrying any other
// code are ignored by the session loop.
const (
	CmdPing              = 0
	CmdPong              = 10000
	CmdConnect           = 100
	CmdSendChat          = 3101
	CmdRequestRecentChat = 5101
	CmdChat              = 93101
	CmdDonation          = 93102
)

const (
	protocolVersion = "2"
	serviceID       = "game"
	deviceTypePC    = 2001
	authSend        = "SEND"
	recentChatCount = 50
)

// DefaultEndpoint is the fixed chat transport address.
const DefaultEndpoint = "wss://kr-ss1.chat.naver.com/chat"

// AnonymousUserKey marks a sub-event from an anonymous donor.
const AnonymousUserKey = "anonymous"

// AnonymousDonorName is the display name used for anonymous donors.
const AnonymousDonorName = "익명의 후원자"

// Frame is one discrete message unit on the chat socket. The body stays raw
// until the command code tells us how to decode it.
type Frame struct {
	Ver   string          `json:"ver,omitempty"`
	SvcID string          `json:"svcid,omitempty"`
	CID   string          `json:"cid,omitempty"`
	Cmd   int             `json:"cmd"`
	TID   int             `json:"tid,omitempty"`
	SID   string          `json:"sid,omitempty"`
	Retry *bool           `json:"retry,omitempty"` // outgoing chat carries an explicit false
	Bdy   json.RawMessage `json:"bdy,omitempty"`
}

// connectBody is the handshake payload of a CmdConnect frame.
type connectBody struct {
	UID     string `json:"uid"`
	DevType int    `json:"devType"`
	AccTkn  string `json:"accTkn"`
	Auth    string `json:"auth"`
}

// connectReplyBody is the handshake reply; a missing sid means the handshake
// did not establish a session.
type connectReplyBody struct {
	SID string `json:"sid"`
}

// recentChatBody requests a best-effort history bootstrap after connect.
type recentChatBody struct {
	RecentMessageCount int `json:"recentMessageCount"`
}

// sendChatBody posts an outgoing chat line.
type sendChatBody struct {
	Msg         string `json:"msg"`
	MsgTypeCode int    `json:"msgTypeCode"`
	Extras      string `json:"extras"`
	MsgTime     int64  `json:"msgTime"`
}

// sendChatExtras is JSON-in-a-string inside sendChatBody, as the wire demands.
type sendChatExtras struct {
	ChatType           string `json:"chatType"`
	Emojis             string `json:"emojis"`
	OSType             string `json:"osType"`
	ExtraToken         string `json:"extraToken"`
	StreamingChannelID string `json:"streamingChannelId"`
}

// subEvent is one user-level item inside a batched chat/donation frame body.
// Msg is a pointer so an absent field is distinguishable from an empty one.
type subEvent struct {
	UID     string  `json:"uid"`
	Profile string  `json:"profile"`
	Msg     *string `json:"msg"`
	MsgTime int64   `json:"msgTime"`
}

// profileBody is the nested profile structure, itself JSON-in-a-string.
type profileBody struct {
	Nickname string `json:"nickname"`
}

func decodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

func encodeFrame(f Frame) ([]byte, error) {
	return json.Marshal(f)
}
