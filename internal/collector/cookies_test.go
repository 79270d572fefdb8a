package collector

import (
	"os"
	"path/filepath"
	"testing"
)

func writeCookies(t *testing.T, path, blob string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(blob), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestCookieSourceReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	writeCookies(t, path, `{"NID_AUT":"old"}`)

	src, err := NewCookieSource(path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := src.Cookies()["NID_AUT"]; got != "old" {
		t.Fatalf("cookie = %q", got)
	}

	writeCookies(t, path, `{"NID_AUT":"new","NID_SES":"s"}`)
	if err := src.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	cookies := src.Cookies()
	if cookies["NID_AUT"] != "new" || cookies["NID_SES"] != "s" {
		t.Fatalf("cookies = %v", cookies)
	}
}

func TestCookieSourceReloadKeepsOldOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	writeCookies(t, path, `{"NID_AUT":"good"}`)

	src, err := NewCookieSource(path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	writeCookies(t, path, `not json`)
	if err := src.Reload(); err == nil {
		t.Fatal("expected parse error")
	}
	if got := src.Cookies()["NID_AUT"]; got != "good" {
		t.Fatalf("cookie = %q, want the pre-failure bundle", got)
	}
}

func TestCookieSourceMissingFile(t *testing.T) {
	if _, err := NewCookieSource(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing bundle")
	}
}
