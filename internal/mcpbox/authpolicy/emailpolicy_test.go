package authpolicy_test

import (
	"context"
	"testing"

	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/authpolicy"
)

func TestEmailPolicyCache_NoPolicyAllowsAny(t *testing.T) {
	store := newTestSettings(t)
	cache := authpolicy.NewEmailPolicyCache(store)

	allowed, rule := cache.CheckEmail(context.Background(), "anyone@example.com")
	if !allowed || rule != "no_policy" {
		t.Fatalf("expected (true, no_policy), got (%v, %q)", allowed, rule)
	}
}

func TestEmailPolicyCache_EmailAllowlist(t *testing.T) {
	store := newTestSettings(t)
	ctx := context.Background()

	if err := store.Set(ctx, authpolicy.PolicyTypeKey, "emails"); err != nil {
		t.Fatalf("Set policy_type: %v", err)
	}
	if err := store.Set(ctx, authpolicy.AllowedEmailsKey, "alice@example.com, bob@example.com"); err != nil {
		t.Fatalf("Set allowed_emails: %v", err)
	}

	cache := authpolicy.NewEmailPolicyCache(store)

	if allowed, rule := cache.CheckEmail(ctx, "Alice@Example.com"); !allowed || rule != "email_allowlist" {
		t.Errorf("expected allowlisted email (case-insensitive) to pass, got (%v, %q)", allowed, rule)
	}
	if allowed, _ := cache.CheckEmail(ctx, "eve@example.com"); allowed {
		t.Error("expected non-listed email to be denied")
	}
}

func TestEmailPolicyCache_DomainAllowlist(t *testing.T) {
	store := newTestSettings(t)
	ctx := context.Background()

	if err := store.Set(ctx, authpolicy.PolicyTypeKey, "email_domain"); err != nil {
		t.Fatalf("Set policy_type: %v", err)
	}
	if err := store.Set(ctx, authpolicy.AllowedDomainKey, "example.com"); err != nil {
		t.Fatalf("Set allowed_domain: %v", err)
	}

	cache := authpolicy.NewEmailPolicyCache(store)

	if allowed, rule := cache.CheckEmail(ctx, "anyone@Example.COM"); !allowed || rule != "domain_allowlist" {
		t.Errorf("expected same-domain email to pass, got (%v, %q)", allowed, rule)
	}
	if allowed, _ := cache.CheckEmail(ctx, "anyone@other.com"); allowed {
		t.Error("expected different-domain email to be denied")
	}
}

func TestEmailPolicyCache_MalformedEmailDenied(t *testing.T) {
	store := newTestSettings(t)
	ctx := context.Background()

	if err := store.Set(ctx, authpolicy.PolicyTypeKey, "email_domain"); err != nil {
		t.Fatalf("Set policy_type: %v", err)
	}
	if err := store.Set(ctx, authpolicy.AllowedDomainKey, "example.com"); err != nil {
		t.Fatalf("Set allowed_domain: %v", err)
	}

	cache := authpolicy.NewEmailPolicyCache(store)
	if allowed, _ := cache.CheckEmail(ctx, "not-an-email"); allowed {
		t.Error("expected an address with no @ to be denied")
	}
}
