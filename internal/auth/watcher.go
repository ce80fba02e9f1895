package auth

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const defaultPollInterval = 30 * time.Second

// TokenWatcher mirrors a token file into Credentials. Writing the file
// logs in; removing it logs out. An empty file is ignored.
type TokenWatcher struct {
	path         string
	creds        *Credentials
	log          zerolog.Logger
	pollInterval time.Duration
	debounce     time.Duration

	lastMod  time.Time
	present  bool
	onLogout func()
}

func NewTokenWatcher(path string, creds *Credentials, log zerolog.Logger) *TokenWatcher {
	return &TokenWatcher{
		path:         path,
		creds:        creds,
		log:          log,
		pollInterval: defaultPollInterval,
		debounce:     100 * time.Millisecond,
	}
}

// OnLogout registers fn to run after the token file is removed. A revoked
// credential alone (for example after a failed refresh) does not trigger it.
func (w *TokenWatcher) OnLogout(fn func()) {
	w.onLogout = fn
}

// Reload reads the token file and applies it to the credentials.
func (w *TokenWatcher) Reload() {
	raw, err := os.ReadFile(w.path)
	if errors.Is(err, os.ErrNotExist) {
		if w.present {
			w.log.Info().Str("path", w.path).Msg("token file removed, logging out")
			w.creds.Revoke()
			if w.onLogout != nil {
				w.onLogout()
			}
		}
		w.present = false
		return
	}
	if err != nil {
		w.log.Warn().Err(err).Str("path", w.path).Msg("read token file")
		return
	}

	w.present = true
	token := string(bytes.TrimSpace(raw))
	if token == "" {
		return
	}
	if token != w.creds.Token() {
		if exp, ok := Expiry(token); ok && !exp.After(time.Now()) {
			// still applied: the backend client refreshes it before first use
			w.log.Warn().Str("path", w.path).Time("expired_at", exp).Msg("token file holds an expired credential")
		}
		w.log.Info().Str("path", w.path).Msg("token file changed, credential updated")
		w.creds.Set(token)
	}
}

// Start loads the file once and then follows it. The parent directory is
// watched so the file can be created and removed; if fsnotify is not
// available the file is polled instead.
func (w *TokenWatcher) Start(ctx context.Context) {
	w.Reload()

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err = watcher.Add(filepath.Dir(w.path)); err != nil {
			watcher.Close()
		}
	}
	if err != nil {
		w.log.Warn().Err(err).Str("path", w.path).Msg("token watcher: fsnotify unavailable, falling back to polling")
		go w.poll(ctx)
		return
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(w.path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					time.Sleep(w.debounce)
					w.Reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				w.log.Warn().Err(err).Msg("token watcher error")
			}
		}
	}()
}

func (w *TokenWatcher) poll(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(w.path)
			if err != nil {
				w.Reload()
				continue
			}
			if !info.ModTime().Equal(w.lastMod) {
				w.lastMod = info.ModTime()
				w.Reload()
			}
		}
	}
}
