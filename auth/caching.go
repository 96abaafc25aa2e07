package auth

import (
	"context"
	"crypto/sha256"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheTTL = 5 * time.Minute

type cachedUser struct {
	ui      UserInfo
	expires time.Time
}

type cachingAuthenticator struct {
	next  Authenticator
	cache *lru.Cache[[32]byte, cachedUser]
	now   func() time.Time
}

// NewCaching wraps next so that successful validations are remembered until
// the token expires, sparing signature checks when dashboards reconnect.
// Tokens whose UserInfo does not implement Expirer are cached for five
// minutes. Failures are never cached. A size below one disables caching.
func NewCaching(next Authenticator, size int) Authenticator {
	if size < 1 {
		return next
	}
	c, err := lru.New[[32]byte, cachedUser](size)
	if err != nil {
		return next
	}
	return &cachingAuthenticator{next: next, cache: c, now: time.Now}
}

func (c *cachingAuthenticator) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	key := sha256.Sum256([]byte(tok))
	now := c.now()
	if hit, ok := c.cache.Get(key); ok {
		if now.Before(hit.expires) {
			return hit.ui, nil
		}
		c.cache.Remove(key)
	}

	ui, err := c.next.CheckAuthentication(ctx, tok)
	if err != nil {
		return nil, err
	}

	expires := now.Add(defaultCacheTTL)
	if e, ok := ui.(Expirer); ok && !e.ExpiresAt().IsZero() {
		expires = e.ExpiresAt()
	}
	if now.Before(expires) {
		c.cache.Add(key, cachedUser{ui: ui, expires: expires})
	}
	return ui, nil
}
