package collector

import (
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the cookie bundle when the file changes. Editors rewrite via
// rename, so removed paths are re-added; events are debounced.
func (s *CookieSource) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(s.path); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					if err := w.Add(ev.Name); err != nil {
						slog.Error("cookie watch re-add", "path", ev.Name, "err", err)
					}
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					if !debounce.Stop() {
						select {
						case <-debounce.C:
						default:
						}
					}
					debounce.Reset(250 * time.Millisecond)
				}
			case <-debounce.C:
				if err := s.Reload(); err != nil {
					slog.Error("cookie reload failed", "err", err)
				} else {
					slog.Info("cookie bundle reloaded", "path", s.path)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Error("cookie watch error", "err", err)
			}
		}
	}()
	return nil
}
