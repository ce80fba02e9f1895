package auth

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoCredential = errors.New("no credential")

// Claims is the subset of the backend's access token the monitor reads.
type Claims struct {
	UserID string `json:"id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Credentials holds the current bearer token and notifies observers when
// it changes. An empty token means logged out.
type Credentials struct {
	mu        sync.RWMutex
	token     string
	observers []observer
	nextID    int
}

type observer struct {
	id int
	fn func(token string)
}

func NewCredentials(token string) *Credentials {
	return &Credentials{token: token}
}

func (c *Credentials) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Set replaces the token. Observers run synchronously, in registration
// order, only when the value actually changes.
func (c *Credentials) Set(token string) {
	c.mu.Lock()
	if c.token == token {
		c.mu.Unlock()
		return
	}
	c.token = token
	obs := append([]observer(nil), c.observers...)
	c.mu.Unlock()

	for _, o := range obs {
		o.fn(token)
	}
}

// Revoke clears the token (logout).
func (c *Credentials) Revoke() {
	c.Set("")
}

func (c *Credentials) OnChange(fn func(token string)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.observers = append(c.observers, observer{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, o := range c.observers {
			if o.id == id {
				c.observers = append(c.observers[:i], c.observers[i+1:]...)
				return
			}
		}
	}
}

// Claims decodes the current token without verifying its signature; the
// backend is the only party that can verify it.
func (c *Credentials) Claims() (*Claims, error) {
	token := c.Token()
	if token == "" {
		return nil, ErrNoCredential
	}
	return ParseClaims(token)
}

func ParseClaims(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// Expiry returns the exp claim of token. Opaque tokens and tokens without
// exp report false.
func Expiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	claims, err := ParseClaims(token)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// Expired reports whether the current token carries an exp claim at or
// before now. Opaque tokens are never considered expired.
func (c *Credentials) Expired(now time.Time) bool {
	exp, ok := Expiry(c.Token())
	return ok && !exp.After(now)
}
