package chzzk

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"

	"github.com/you/chatzzk/internal/core"
)

// State is the session lifecycle position. There is no terminal success
// state; a session runs until cancelled or until a reconnect fails.
type State int32

const (
	StateDisconnected State = iota
	StateHandshaking
	StateConnected
)

// HandshakeError means the transport connected but the protocol handshake did
// not yield a session id.
type HandshakeError struct {
	Reason string
}

func (e *HandshakeError) Error() string {
	return "chzzk: handshake: " + e.Reason
}

// errChannelRotated forces a reconnect when the chat channel id changes
// mid-session (the broadcast target rotated).
var errChannelRotated = errors.New("chzzk: chat channel rotated")

// Credentials are owned exclusively by one session and refreshed on every
// (re)connect.
type Credentials struct {
	UserIDHash  string
	AccessToken string
	ExtraToken  string
}

// Publisher receives every decoded chat event. It must not block on bus
// round-trips; publish failures never flow back into the session loop.
type Publisher interface {
	Publish(ctx context.Context, ev core.ChatEvent) error
}

type SessionConfig struct {
	StreamerID   string
	StreamerName string // display fallback until the channel lookup answers
	Endpoint     string // DefaultEndpoint when empty

	// RecheckMinInterval throttles the channel-id revalidation triggered by
	// keepalive pings. Zero means recheck on every ping.
	RecheckMinInterval time.Duration
}

// Session owns one websocket connection to one streamer's chat channel:
// connect handshake, recent-history bootstrap, ping/pong keepalive, and
// reconnect-on-error. All socket writes go through a single-writer mutex so
// keepalive replies serialize with outgoing chat.
type Session struct {
	cfg SessionConfig
	api Lookup
	pub Publisher

	state atomic.Int32

	writeMu sync.Mutex
	conn    *websocket.Conn

	// mu guards the session identity below. Run rewrites it on every
	// reconnect while SendChat reads it from caller goroutines.
	mu            sync.Mutex
	sid           string
	creds         Credentials
	chatChannelID string
	channelName   string
	tid           int

	recheck *rate.Limiter
}

func NewSession(cfg SessionConfig, api Lookup, pub Publisher) *Session {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	s := &Session{cfg: cfg, api: api, pub: pub, channelName: cfg.StreamerName}
	if cfg.RecheckMinInterval > 0 {
		s.recheck = rate.NewLimiter(rate.Every(cfg.RecheckMinInterval), 1)
	}
	return s
}

// State reports the current lifecycle position.
func (s *Session) State() State {
	return State(s.state.Load())
}

// SID returns the session id assigned by the last successful handshake.
func (s *Session) SID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sid
}

func (s *Session) displayName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channelName
}

// Connect performs the full connect sequence: resolve the chat channel id,
// refresh credentials, dial the chat endpoint, handshake, and request recent
// history. A failure here is a per-streamer init failure for the first call
// and fatal to the session when it happens during a reconnect.
func (s *Session) Connect(ctx context.Context) error {
	s.state.Store(int32(StateHandshaking))

	cid, err := s.api.ChatChannelID(ctx, s.cfg.StreamerID)
	if err != nil {
		s.state.Store(int32(StateDisconnected))
		return errors.Wrap(err, "resolve chat channel")
	}
	if name, err := s.api.ChannelName(ctx, s.cfg.StreamerID); err != nil {
		log.Printf("chzzk: %s: channel name lookup: %v (keeping %q)", s.cfg.StreamerID, err, s.displayName())
	} else if name != "" {
		s.mu.Lock()
		s.channelName = name
		s.mu.Unlock()
	}

	uid, err := s.api.UserIDHash(ctx)
	if err != nil {
		s.state.Store(int32(StateDisconnected))
		return errors.Wrap(err, "resolve user id hash")
	}
	access, extra, err := s.api.AccessToken(ctx, cid)
	if err != nil {
		s.state.Store(int32(StateDisconnected))
		return errors.Wrap(err, "fetch access token")
	}
	s.mu.Lock()
	s.creds = Credentials{UserIDHash: uid, AccessToken: access, ExtraToken: extra}
	s.chatChannelID = cid
	s.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, s.cfg.Endpoint, nil)
	if err != nil {
		s.state.Store(int32(StateDisconnected))
		return errors.Wrap(err, "dial chat endpoint")
	}
	conn.SetReadLimit(1 << 20)

	if err := s.handshake(ctx, conn); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "handshake failed")
		s.state.Store(int32(StateDisconnected))
		return err
	}

	old := s.swapConn(conn)
	if old != nil {
		_ = old.Close(websocket.StatusNormalClosure, "reconnect")
	}
	s.state.Store(int32(StateConnected))
	log.Printf("chzzk: %s: connected to %q (cid=%s sid=%s)", s.cfg.StreamerID, s.displayName(), cid, s.SID())

	// Best-effort history bootstrap; failures are not fatal.
	if err := s.requestRecent(ctx); err != nil {
		log.Printf("chzzk: %s: recent chat request: %v", s.cfg.StreamerID, err)
	}
	return nil
}

func (s *Session) handshake(ctx context.Context, conn *websocket.Conn) error {
	s.mu.Lock()
	s.tid = 1
	tid := s.tid
	creds := s.creds
	cid := s.chatChannelID
	s.mu.Unlock()

	body, err := json.Marshal(connectBody{
		UID:     creds.UserIDHash,
		DevType: deviceTypePC,
		AccTkn:  creds.AccessToken,
		Auth:    authSend,
	})
	if err != nil {
		return errors.Wrap(err, "encode connect body")
	}
	if err := writeFrame(ctx, conn, Frame{
		Ver:   protocolVersion,
		SvcID: serviceID,
		CID:   cid,
		Cmd:   CmdConnect,
		TID:   tid,
		Bdy:   body,
	}); err != nil {
		return errors.Wrap(err, "send connect")
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		return errors.Wrap(err, "read handshake reply")
	}
	reply, err := decodeFrame(data)
	if err != nil {
		return &HandshakeError{Reason: "malformed reply: " + err.Error()}
	}
	var rb connectReplyBody
	if len(reply.Bdy) > 0 {
		if err := json.Unmarshal(reply.Bdy, &rb); err != nil {
			return &HandshakeError{Reason: "malformed reply body: " + err.Error()}
		}
	}
	if rb.SID == "" {
		return &HandshakeError{Reason: "reply has no session id"}
	}
	s.mu.Lock()
	s.sid = rb.SID
	s.mu.Unlock()
	return nil
}

func (s *Session) requestRecent(ctx context.Context) error {
	s.mu.Lock()
	s.tid++
	tid := s.tid
	cid := s.chatChannelID
	sid := s.sid
	s.mu.Unlock()

	body, err := json.Marshal(recentChatBody{RecentMessageCount: recentChatCount})
	if err != nil {
		return err
	}
	if err := s.write(ctx, Frame{
		Ver:   protocolVersion,
		SvcID: serviceID,
		CID:   cid,
		Cmd:   CmdRequestRecentChat,
		TID:   tid,
		SID:   sid,
		Bdy:   body,
	}); err != nil {
		return err
	}
	// The reply is discarded; history is replayed through the normal loop only
	// when the server chooses to push it as chat frames.
	conn := s.currentConn()
	if conn == nil {
		return errors.New("connection gone")
	}
	_, _, err = conn.Read(ctx)
	return err
}

// Run blocks reading one frame at a time, strictly in receipt order. A read
// failure triggers one reconnect and the loop resumes; a failure during the
// reconnect itself is fatal for this session. Malformed frames are logged and
// skipped.
func (s *Session) Run(ctx context.Context) error {
	defer s.close()

	// Unblock the reader on cancellation.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.close()
		case <-done:
		}
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn := s.currentConn()
		if conn == nil {
			return errors.New("chzzk: session not connected")
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("chzzk: %s: read failed: %v; reconnecting", s.cfg.StreamerID, err)
			if rerr := s.reconnect(ctx); rerr != nil {
				return errors.Wrap(rerr, "reconnect")
			}
			continue
		}

		if err := s.handleFrame(ctx, data); err != nil {
			if errors.Is(err, errChannelRotated) {
				log.Printf("chzzk: %s: chat channel rotated; reconnecting", s.cfg.StreamerID)
				if rerr := s.reconnect(ctx); rerr != nil {
					return errors.Wrap(rerr, "reconnect")
				}
				continue
			}
			// A single bad frame must not kill the session.
			log.Printf("chzzk: %s: frame error: %v", s.cfg.StreamerID, err)
		}
	}
}

func (s *Session) handleFrame(ctx context.Context, data []byte) error {
	frame, err := decodeFrame(data)
	if err != nil {
		return errors.Wrap(err, "decode frame")
	}

	switch frame.Cmd {
	case CmdPing:
		if err := s.pong(ctx); err != nil {
			return errors.Wrap(err, "send pong")
		}
		sessionMetrics.pings.Inc()
		return s.recheckChannel(ctx)

	case CmdChat, CmdDonation:
		s.mu.Lock()
		target := Target{
			StreamerID:    s.cfg.StreamerID,
			StreamerName:  s.channelName,
			ChatChannelID: s.chatChannelID,
		}
		s.mu.Unlock()
		events, skips := Classify(frame, target)
		for _, skip := range skips {
			sessionMetrics.skippedSubEvents.Inc()
			log.Printf("chzzk: %s: sub-event %d skipped: %s", s.cfg.StreamerID, skip.Index, skip.Reason)
		}
		for _, ev := range events {
			if err := s.pub.Publish(ctx, ev); err != nil {
				// Fire-and-forget: session liveness wins over guaranteed publish.
				log.Printf("chzzk: %s: publish: %v", s.cfg.StreamerID, err)
			}
		}
		sessionMetrics.events.Add(float64(len(events)))
		return nil

	default:
		// Unrecognized codes are ignored for forward compatibility.
		return nil
	}
}

// recheckChannel revalidates the chat channel id after a ping. The lookup is
// throttled so frequent pings do not hammer the channel API; lookup failures
// only log.
func (s *Session) recheckChannel(ctx context.Context) error {
	if s.recheck != nil && !s.recheck.Allow() {
		return nil
	}
	cid, err := s.api.ChatChannelID(ctx, s.cfg.StreamerID)
	if err != nil {
		log.Printf("chzzk: %s: channel recheck: %v", s.cfg.StreamerID, err)
		return nil
	}
	s.mu.Lock()
	current := s.chatChannelID
	s.mu.Unlock()
	if cid != "" && cid != current {
		return errChannelRotated
	}
	return nil
}

func (s *Session) pong(ctx context.Context) error {
	return s.write(ctx, Frame{Ver: protocolVersion, Cmd: CmdPong})
}

// SendChat posts an outgoing chat line on the live session. Safe to call from
// any goroutine while the session runs.
func (s *Session) SendChat(ctx context.Context, message string) error {
	s.mu.Lock()
	s.tid++
	tid := s.tid
	sid := s.sid
	cid := s.chatChannelID
	extraToken := s.creds.ExtraToken
	s.mu.Unlock()

	extras, err := json.Marshal(sendChatExtras{
		ChatType:           "STREAMING",
		OSType:             "PC",
		ExtraToken:         extraToken,
		StreamingChannelID: cid,
	})
	if err != nil {
		return errors.Wrap(err, "encode extras")
	}
	body, err := json.Marshal(sendChatBody{
		Msg:         message,
		MsgTypeCode: 1,
		Extras:      string(extras),
		MsgTime:     time.Now().Unix(),
	})
	if err != nil {
		return errors.Wrap(err, "encode send body")
	}
	retry := false
	return s.write(ctx, Frame{
		Ver:   protocolVersion,
		SvcID: serviceID,
		CID:   cid,
		Cmd:   CmdSendChat,
		TID:   tid,
		SID:   sid,
		Retry: &retry,
		Bdy:   body,
	})
}

func (s *Session) reconnect(ctx context.Context) error {
	sessionMetrics.reconnects.Inc()
	s.close()
	return s.Connect(ctx)
}

func (s *Session) write(ctx context.Context, f Frame) error {
	s.writeMu.Lock()
	conn := s.conn
	s.writeMu.Unlock()
	if conn == nil {
		return errors.New("chzzk: session not connected")
	}
	return writeFrame(ctx, conn, f)
}

func writeFrame(ctx context.Context, conn *websocket.Conn, f Frame) error {
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *Session) currentConn() *websocket.Conn {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn
}

func (s *Session) swapConn(conn *websocket.Conn) *websocket.Conn {
	s.writeMu.Lock()
	old := s.conn
	s.conn = conn
	s.writeMu.Unlock()
	return old
}

func (s *Session) close() {
	s.writeMu.Lock()
	conn := s.conn
	s.conn = nil
	s.writeMu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "session closed")
	}
	s.state.Store(int32(StateDisconnected))
}
