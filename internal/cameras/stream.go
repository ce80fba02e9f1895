package cameras

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/technosupport/ts-vms-monitor/internal/data"
)

// StreamURL returns https://{subdomain}/stream/{id} when both are known,
// otherwise the camera's own http URL.
func StreamURL(subdomain string, cam data.Camera) string {
	if subdomain != "" && cam.ID != "" {
		return fmt.Sprintf("https://%s/stream/%s", subdomain, url.PathEscape(cam.ID))
	}
	return cam.HTTPURL
}

const DefaultTrackerSize = 1024

// StreamTracker remembers which camera streams have already loaded.
// An entry older than ttl counts as unseen; ttl <= 0 never expires.
type StreamTracker struct {
	mu    sync.Mutex
	cache *lru.Cache[string, time.Time]
	ttl   time.Duration
	now   func() time.Time
}

func NewStreamTracker(maxKeys int, ttl time.Duration) *StreamTracker {
	if maxKeys <= 0 {
		maxKeys = DefaultTrackerSize
	}
	c, _ := lru.New[string, time.Time](maxKeys)
	return &StreamTracker{cache: c, ttl: ttl, now: time.Now}
}

// FirstLoad records id and reports whether it was not seen within the window.
func (t *StreamTracker) FirstLoad(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if seenAt, ok := t.cache.Get(id); ok {
		if t.ttl <= 0 || now.Sub(seenAt) < t.ttl {
			return false
		}
	}
	t.cache.Add(id, now)
	return true
}

func (t *StreamTracker) Forget(id string) {
	t.cache.Remove(id)
}

func (t *StreamTracker) Reset() {
	t.cache.Purge()
}
