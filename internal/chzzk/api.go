package chzzk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// StatusError reports a non-2xx reply from the Chzzk HTTP API.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chzzk api: %s: status %d", e.URL, e.Code)
}

// Lookup is the external auth/channel capability the session depends on.
// Implementations may fail with an HTTP-style error; per-streamer init
// failures are skip-and-continue for the caller.
type Lookup interface {
	UserIDHash(ctx context.Context) (string, error)
	ChatChannelID(ctx context.Context, streamerID string) (string, error)
	ChannelName(ctx context.Context, streamerID string) (string, error)
	AccessToken(ctx context.Context, chatChannelID string) (access, extra string, err error)
}

// Client talks to the Chzzk service APIs using a cookie bundle. The cookie
// source is a function so a file watcher can swap credentials between calls.
type Client struct {
	httpClient *http.Client
	cookies    func() map[string]string

	// Overridable for tests.
	GameBase string
	APIBase  string
}

func NewClient(cookies func() map[string]string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cookies:    cookies,
		GameBase:   "https://comm-api.game.naver.com",
		APIBase:    "https://api.chzzk.naver.com",
	}
}

type userStatusContent struct {
	UserIDHash string `json:"userIdHash"`
}

type liveStatusContent struct {
	ChatChannelID string `json:"chatChannelId"`
}

type channelContent struct {
	ChannelName string `json:"channelName"`
}

type accessTokenContent struct {
	AccessToken string `json:"accessToken"`
	ExtraToken  string `json:"extraToken"`
}

func (c *Client) UserIDHash(ctx context.Context) (string, error) {
	var content userStatusContent
	url := c.GameBase + "/nng_main/v1/user/getUserStatus"
	if err := c.getJSON(ctx, url, &content); err != nil {
		return "", errors.Wrap(err, "fetch user id hash")
	}
	return content.UserIDHash, nil
}

func (c *Client) ChatChannelID(ctx context.Context, streamerID string) (string, error) {
	var content liveStatusContent
	url := c.APIBase + "/polling/v2/channels/" + streamerID + "/live-status"
	if err := c.getJSON(ctx, url, &content); err != nil {
		return "", errors.Wrap(err, "fetch chat channel id")
	}
	return content.ChatChannelID, nil
}

func (c *Client) ChannelName(ctx context.Context, streamerID string) (string, error) {
	var content channelContent
	url := c.APIBase + "/service/v1/channels/" + streamerID
	if err := c.getJSON(ctx, url, &content); err != nil {
		return "", errors.Wrap(err, "fetch channel name")
	}
	return content.ChannelName, nil
}

func (c *Client) AccessToken(ctx context.Context, chatChannelID string) (string, string, error) {
	var content accessTokenContent
	url := c.GameBase + "/nng_main/v1/chats/access-token?channelId=" + chatChannelID + "&chatType=STREAMING"
	if err := c.getJSON(ctx, url, &content); err != nil {
		return "", "", errors.Wrap(err, "fetch access token")
	}
	return content.AccessToken, content.ExtraToken, nil
}

// apiEnvelope is the common {code, content} wrapper of Chzzk API replies.
type apiEnvelope struct {
	Code    int             `json:"code"`
	Content json.RawMessage `json:"content"`
}

func (c *Client) getJSON(ctx context.Context, url string, content any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if c.cookies != nil {
		if header := cookieHeader(c.cookies()); header != "" {
			req.Header.Set("Cookie", header)
		}
	}
	req.Header.Set("User-Agent", "chatzzk-collector")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, URL: url}
	}

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return errors.Wrap(err, "decode reply")
	}
	if len(env.Content) == 0 {
		return errors.New("reply has no content")
	}
	return errors.Wrap(json.Unmarshal(env.Content, content), "decode content")
}

func cookieHeader(cookies map[string]string) string {
	if len(cookies) == 0 {
		return ""
	}
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+cookies[name])
	}
	return strings.Join(parts, "; ")
}
