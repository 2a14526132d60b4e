// Package authpolicy holds the two fail-closed policy caches consulted on
// every inbound request: ServiceTokenCache (is the gateway in remote mode,
// and does a presented token match) and EmailPolicyCache (is a verified
// user's email allowed to act as an authenticated remote caller). Both
// follow the same shape: a coarse TTL-refreshed snapshot of a settings-table
// value, held behind a mutex, that degrades to "deny" rather than "allow" on
// any error reading or decrypting its backing row.
package authpolicy

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/JGtHb/MCPbox-sub000/common/crypto"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/settings"
)

// ServiceTokenSettingKey is the settings row holding the encrypted remote-mode
// service token. Absence of this row means local mode.
const ServiceTokenSettingKey = "service_token"

// DefaultRefreshInterval is how often a stale cache is reloaded from the
// settings store on the next Check/AuthEnabled call.
const DefaultRefreshInterval = 30 * time.Second

// ServiceTokenCache holds the single active remote-mode service token,
// decrypted, refreshed on a coarse TTL. Fails closed: auth_enabled is true
// not only when a token is configured but also whenever the cache could not
// determine that it ISN'T — a DB error or a decryption failure both count as
// "remote mode, and nothing will match", not "unprotected local mode".
type ServiceTokenCache struct {
	store  settings.Store
	key    []byte
	ttl    time.Duration
	clock  func() time.Time

	mu               sync.Mutex
	token            string
	dbError          bool
	decryptionError  bool
	lastLoaded       time.Time
}

// NewServiceTokenCache constructs a cache backed by store, decrypting with
// masterKey. masterKey is retained only for the lifetime of the cache.
func NewServiceTokenCache(store settings.Store, masterKey []byte) *ServiceTokenCache {
	return NewServiceTokenCacheWithTTL(store, masterKey, DefaultRefreshInterval)
}

// NewServiceTokenCacheWithTTL is NewServiceTokenCache with an explicit
// refresh TTL, mainly useful for tests that need to observe reload timing
// without waiting out DefaultRefreshInterval.
func NewServiceTokenCacheWithTTL(store settings.Store, masterKey []byte, ttl time.Duration) *ServiceTokenCache {
	return &ServiceTokenCache{
		store: store,
		key:   masterKey,
		ttl:   ttl,
		clock: time.Now,
	}
}

// refreshLocked reloads the token from the settings store if the TTL has
// elapsed. Caller must hold c.mu.
func (c *ServiceTokenCache) refreshLocked(ctx context.Context) {
	now := c.clock()
	if !c.lastLoaded.IsZero() && now.Sub(c.lastLoaded) < c.ttl {
		return
	}
	c.load(ctx)
	c.lastLoaded = now
}

func (c *ServiceTokenCache) load(ctx context.Context) {
	entry, err := c.store.GetEntry(ctx, ServiceTokenSettingKey)
	if errors.Is(err, settings.ErrNotFound) {
		c.token = ""
		c.dbError = false
		c.decryptionError = false
		return
	}
	if err != nil {
		slog.Error("authpolicy: service token load failed", "err", err)
		c.dbError = true
		return
	}
	c.dbError = false

	if !entry.Encrypted {
		// Defensive: the settings row should always be written via
		// SetEncrypted, but treat a plaintext row as usable rather than
		// failing closed over an operator mistake.
		c.token = entry.Value
		c.decryptionError = false
		return
	}

	plain, err := crypto.DecryptString(c.key, entry.Value, crypto.AADServiceToken)
	if err != nil {
		slog.Error("authpolicy: service token decrypt failed", "err", err)
		c.decryptionError = true
		c.token = ""
		return
	}
	c.decryptionError = false
	c.token = plain
}

// AuthEnabled reports whether the gateway is in remote mode: a token is
// loaded, or either error flag is set. Both error cases fail closed —
// an operator-visible outage must never silently fall back to local mode.
func (c *ServiceTokenCache) AuthEnabled(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshLocked(ctx)
	return c.token != "" || c.dbError || c.decryptionError
}

// Check reports whether presented equals the cached token, refreshing first
// if the TTL has elapsed. The comparison is constant-time so a request with a
// near-miss token cannot be distinguished, by timing, from one further off.
func (c *ServiceTokenCache) Check(ctx context.Context, presented string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshLocked(ctx)
	if c.token == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.token), []byte(presented)) == 1
}

// Current returns the currently cached service token and whether one is
// configured, refreshing first if the TTL has elapsed. Used by the
// /internal/active-service-token endpoint the edge proxy polls to learn the
// token it should present as X-MCPbox-Service-Token — unlike Check, this
// does not compare against a caller-presented value.
func (c *ServiceTokenCache) Current(ctx context.Context) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshLocked(ctx)
	return c.token, c.token != ""
}

// Invalidate clears the cached token and decryption-error flag and forces
// the next AuthEnabled/Check call to reload from the store. dbError is left
// alone: a DB outage isn't resolved by forgetting the last-known token.
func (c *ServiceTokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.decryptionError = false
	c.lastLoaded = time.Time{}
}
