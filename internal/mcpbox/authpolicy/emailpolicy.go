package authpolicy

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/settings"
)

// Settings keys backing the email policy. PolicyTypeKey's value is one of
// policyTypeEmails, policyTypeDomain, or absent ("" / not found), meaning no
// restriction: any verified email is allowed.
const (
	PolicyTypeKey          = "email_policy_type"
	AllowedEmailsKey       = "email_policy_allowed_emails"
	AllowedDomainKey       = "email_policy_allowed_domain"
	policyTypeEmails       = "emails"
	policyTypeDomain       = "email_domain"
)

// EmailPolicyCache holds the current email allow-policy, refreshed on the
// same TTL/fail-closed shape as ServiceTokenCache.
type EmailPolicyCache struct {
	store settings.Store
	ttl   time.Duration
	clock func() time.Time

	mu             sync.Mutex
	policyType     string // "", policyTypeEmails, or policyTypeDomain
	allowedEmails  map[string]struct{}
	allowedDomain  string
	dbError        bool
	lastLoaded     time.Time
}

// NewEmailPolicyCache constructs a cache backed by store.
func NewEmailPolicyCache(store settings.Store) *EmailPolicyCache {
	return &EmailPolicyCache{
		store: store,
		ttl:   DefaultRefreshInterval,
		clock: time.Now,
	}
}

func (c *EmailPolicyCache) refreshLocked(ctx context.Context) {
	now := c.clock()
	if !c.lastLoaded.IsZero() && now.Sub(c.lastLoaded) < c.ttl {
		return
	}
	c.load(ctx)
	c.lastLoaded = now
}

func (c *EmailPolicyCache) load(ctx context.Context) {
	policyType, err := c.getOrEmpty(ctx, PolicyTypeKey)
	if err != nil {
		c.dbError = true
		return
	}
	emailsRaw, err := c.getOrEmpty(ctx, AllowedEmailsKey)
	if err != nil {
		c.dbError = true
		return
	}
	domain, err := c.getOrEmpty(ctx, AllowedDomainKey)
	if err != nil {
		c.dbError = true
		return
	}

	c.dbError = false
	c.policyType = policyType
	c.allowedDomain = strings.ToLower(strings.TrimSpace(domain))
	c.allowedEmails = make(map[string]struct{})
	for _, e := range strings.Split(emailsRaw, ",") {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			c.allowedEmails[e] = struct{}{}
		}
	}
}

func (c *EmailPolicyCache) getOrEmpty(ctx context.Context, key string) (string, error) {
	v, err := c.store.Get(ctx, key)
	if errors.Is(err, settings.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		slog.Error("authpolicy: email policy load failed", "key", key, "err", err)
		return "", err
	}
	return v, nil
}

// CheckEmail reports whether email is allowed under the current policy, and
// which rule decided it ("no_policy", "email_allowlist", "domain_allowlist",
// "dberror", "no_match"). A DB error fails closed (denies).
func (c *EmailPolicyCache) CheckEmail(ctx context.Context, email string) (allowed bool, matchedRule string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshLocked(ctx)

	if c.dbError {
		return false, "dberror"
	}

	normalized := strings.ToLower(strings.TrimSpace(email))
	switch c.policyType {
	case "":
		return true, "no_policy"
	case policyTypeEmails:
		if _, ok := c.allowedEmails[normalized]; ok {
			return true, "email_allowlist"
		}
		return false, "no_match"
	case policyTypeDomain:
		at := strings.LastIndexByte(normalized, '@')
		if at >= 0 && c.allowedDomain != "" && normalized[at+1:] == c.allowedDomain {
			return true, "domain_allowlist"
		}
		return false, "no_match"
	default:
		// Unknown policy_type value: fail closed rather than silently allow.
		return false, "no_match"
	}
}
