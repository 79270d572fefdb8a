package collector

import (
	"sync"

	"github.com/you/chatzzk/internal/config"
)

// CookieSource holds the credential cookie bundle behind a lock so a file
// watcher can swap it while sessions read it on every (re)connect.
type CookieSource struct {
	path string

	mu      sync.RWMutex
	cookies map[string]string
}

func NewCookieSource(path string) (*CookieSource, error) {
	s := &CookieSource{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Cookies returns the current bundle. The map must not be mutated.
func (s *CookieSource) Cookies() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cookies
}

// Reload re-reads the bundle from disk. A new bundle takes effect on the next
// API call; live sockets are untouched.
func (s *CookieSource) Reload() error {
	cookies, err := config.LoadCookies(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cookies = cookies
	s.mu.Unlock()
	return nil
}
