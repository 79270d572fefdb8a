package chzzk

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
)

func envelopeServer(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `{"code":200,"content":%s}`, content)
	}))
}

func TestClientLookups(t *testing.T) {
	srv := envelopeServer(t, map[string]string{
		"/nng_main/v1/user/getUserStatus":       `{"userIdHash":"abcd1234"}`,
		"/polling/v2/channels/str1/live-status": `{"chatChannelId":"cc-9"}`,
		"/service/v1/channels/str1":             `{"channelName":"Some Streamer"}`,
		"/nng_main/v1/chats/access-token":       `{"accessToken":"tok","extraToken":"xtok"}`,
	})
	defer srv.Close()

	c := NewClient(nil)
	c.GameBase = srv.URL
	c.APIBase = srv.URL
	ctx := context.Background()

	uid, err := c.UserIDHash(ctx)
	if err != nil {
		t.Fatalf("UserIDHash: %v", err)
	}
	if uid != "abcd1234" {
		t.Errorf("uid = %q", uid)
	}

	cid, err := c.ChatChannelID(ctx, "str1")
	if err != nil {
		t.Fatalf("ChatChannelID: %v", err)
	}
	if cid != "cc-9" {
		t.Errorf("cid = %q", cid)
	}

	name, err := c.ChannelName(ctx, "str1")
	if err != nil {
		t.Fatalf("ChannelName: %v", err)
	}
	if name != "Some Streamer" {
		t.Errorf("name = %q", name)
	}

	access, extra, err := c.AccessToken(ctx, "cc-9")
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if access != "tok" || extra != "xtok" {
		t.Errorf("tokens = %q, %q", access, extra)
	}
}

func TestClientSendsSortedCookieHeader(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Cookie")
		fmt.Fprint(w, `{"code":200,"content":{"userIdHash":"x"}}`)
	}))
	defer srv.Close()

	c := NewClient(func() map[string]string {
		return map[string]string{"NID_SES": "ses", "NID_AUT": "aut"}
	})
	c.GameBase = srv.URL

	if _, err := c.UserIDHash(context.Background()); err != nil {
		t.Fatalf("UserIDHash: %v", err)
	}
	if got != "NID_AUT=aut; NID_SES=ses" {
		t.Errorf("cookie header = %q", got)
	}
}

func TestClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(nil)
	c.GameBase = srv.URL

	_, err := c.UserIDHash(context.Background())
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Code != http.StatusUnauthorized {
		t.Errorf("code = %d", se.Code)
	}
}

func TestClientEmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":200}`)
	}))
	defer srv.Close()

	c := NewClient(nil)
	c.APIBase = srv.URL

	if _, err := c.ChatChannelID(context.Background(), "str1"); err == nil {
		t.Fatal("expected error for missing content")
	}
}

func TestCookieHeaderEmpty(t *testing.T) {
	if h := cookieHeader(nil); h != "" {
		t.Errorf("header = %q", h)
	}
}
