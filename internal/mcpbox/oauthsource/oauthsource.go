// Package oauthsource implements the browser-mediated authorization-code +
// PKCE flow an external MCP source with auth_type=oauth requires (§4.9):
// discovery of protected-resource and authorization-server metadata,
// optional dynamic client registration, the authorize/callback exchange,
// and pre-call token refresh. Token bundles are persisted encrypted on the
// owning ExternalMCPSource row, never in plaintext.
package oauthsource

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/JGtHb/MCPbox-sub000/common/crypto"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/store"
)

// flowExpiry bounds how long a pending authorize flow may sit unclaimed
// before it is purged (§4.9 step 6).
const flowExpiry = 600 * time.Second

// httpTimeout is the hard ceiling on every outbound OAuth HTTP operation
// (discovery fetches, dynamic registration, token exchange/refresh) per the
// concurrency model's "OAuth HTTP operations carry a hard ceiling (~15s)".
const httpTimeout = 15 * time.Second

// Store is the subset of store.Store the OAuth flow needs.
type Store interface {
	GetExternalMCPSource(ctx context.Context, id string) (*store.ExternalMCPSource, error)
	UpdateExternalMCPSource(ctx context.Context, src *store.ExternalMCPSource) error
}

// Service drives discovery, registration, authorization, and refresh for
// external MCP sources. One Service is shared process-wide; pending flows
// live only in memory, so a process restart mid-flow requires the caller to
// begin again.
type Service struct {
	db        Store
	masterKey []byte
	client    *http.Client
	redirectBase string

	pending pendingFlows
}

// New constructs a Service. redirectBase is this process's externally
// reachable base URL (e.g. https://mcpbox.example.com) used to build each
// authorization server's redirect_uri.
func New(db Store, masterKey []byte, redirectBase string) *Service {
	return &Service{
		db:           db,
		masterKey:    masterKey,
		client:       &http.Client{Timeout: httpTimeout},
		redirectBase: redirectBase,
		pending:      newPendingFlows(),
	}
}

// tokenBundle is the JSON shape persisted (encrypted) in
// ExternalMCPSource.OAuthTokensEncrypted.
type tokenBundle struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// BeginAuthorize runs discovery (§4.9 step 1), dynamic client registration
// if needed (step 2), and PKCE authorize-URL construction (step 3) for the
// named external source. It returns the URL the UI should open in a
// browser.
func (s *Service) BeginAuthorize(ctx context.Context, sourceID string) (string, error) {
	src, err := s.db.GetExternalMCPSource(ctx, sourceID)
	if err != nil {
		return "", fmt.Errorf("get external mcp source: %w", err)
	}

	prm, asMeta, err := s.discover(ctx, src.URL)
	if err != nil {
		return "", fmt.Errorf("discover authorization server for %q: %w", src.Name, err)
	}

	clientID, clientSecret := src.OAuthClientID, ""
	if src.OAuthClientSecretEncrypted != "" {
		clientSecret, err = crypto.DecryptString(s.masterKey, src.OAuthClientSecretEncrypted, crypto.AADOAuthTokens)
		if err != nil {
			return "", fmt.Errorf("decrypt stored client secret: %w", err)
		}
	}
	if clientID == "" && asMeta.RegistrationEndpoint != "" {
		reg, err := s.registerClient(ctx, asMeta.RegistrationEndpoint, src)
		if err != nil {
			return "", fmt.Errorf("dynamic client registration: %w", err)
		}
		clientID, clientSecret = reg.ClientID, reg.ClientSecret

		src.OAuthClientID = clientID
		if clientSecret != "" {
			enc, err := crypto.EncryptString(s.masterKey, clientSecret, crypto.AADOAuthTokens)
			if err != nil {
				return "", fmt.Errorf("encrypt client secret: %w", err)
			}
			src.OAuthClientSecretEncrypted = enc
		}
		src.OAuthIssuer = asMeta.Issuer
		if err := s.db.UpdateExternalMCPSource(ctx, src); err != nil {
			return "", fmt.Errorf("persist registered client: %w", err)
		}
	}
	if clientID == "" {
		return "", fmt.Errorf("external source %q has no client_id and the authorization server does not support dynamic registration", src.Name)
	}

	verifier := oauth2.GenerateVerifier()
	state := generateState()
	redirectURI := s.redirectBase + "/oauth/callback"

	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     oauth2.Endpoint{AuthURL: asMeta.AuthorizationEndpoint, TokenURL: asMeta.TokenEndpoint},
		RedirectURL:  redirectURI,
		Scopes:       asMeta.ScopesSupported,
	}

	s.pending.purgeExpired(flowExpiry)
	s.pending.put(state, &pendingFlow{
		SourceID:     sourceID,
		Verifier:     verifier,
		RedirectURI:  redirectURI,
		TokenEndpoint: asMeta.TokenEndpoint,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		CreatedAt:    time.Now(),
	})

	opts := []oauth2.AuthCodeOption{
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("resource", canonicalResource(prm, src.URL)),
	}
	return cfg.AuthCodeURL(state, opts...), nil
}

// HandleCallback implements §4.9 step 4: look up and pop the pending flow
// by state (single-use), exchange the authorization code for tokens, and
// persist the encrypted bundle on the source row.
func (s *Service) HandleCallback(ctx context.Context, state, code string) error {
	s.pending.purgeExpired(flowExpiry)
	flow, ok := s.pending.pop(state)
	if !ok {
		return fmt.Errorf("no pending oauth flow for state %q (expired or already used)", state)
	}

	cfg := &oauth2.Config{
		ClientID:     flow.ClientID,
		ClientSecret: flow.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: flow.TokenEndpoint},
		RedirectURL:  flow.RedirectURI,
	}
	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(flow.Verifier))
	if err != nil {
		return fmt.Errorf("exchange authorization code: %w", err)
	}

	return s.persistToken(ctx, flow.SourceID, tok)
}

// EnsureFreshToken implements §4.9 step 5: returns a valid access token for
// src, refreshing it first if it is within 60 seconds of expiry and a
// refresh token is on file.
func (s *Service) EnsureFreshToken(ctx context.Context, src *store.ExternalMCPSource) (string, error) {
	bundle, err := s.decryptBundle(src)
	if err != nil {
		return "", err
	}
	if time.Until(bundle.ExpiresAt) > 60*time.Second || bundle.RefreshToken == "" {
		return bundle.AccessToken, nil
	}

	tokenEndpoint, err := s.tokenEndpointFor(ctx, src)
	if err != nil {
		return "", err
	}
	cfg := &oauth2.Config{
		ClientID: src.OAuthClientID,
		Endpoint: oauth2.Endpoint{TokenURL: tokenEndpoint},
	}
	if src.OAuthClientSecretEncrypted != "" {
		secret, err := crypto.DecryptString(s.masterKey, src.OAuthClientSecretEncrypted, crypto.AADOAuthTokens)
		if err != nil {
			return "", fmt.Errorf("decrypt client secret: %w", err)
		}
		cfg.ClientSecret = secret
	}

	// Only the refresh token is passed: a token source given a still-valid
	// access token would hand it back unchanged instead of refreshing.
	old := &oauth2.Token{RefreshToken: bundle.RefreshToken}
	fresh, err := cfg.TokenSource(ctx, old).Token()
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}

	if err := s.persistToken(ctx, src.ID, fresh); err != nil {
		return "", err
	}
	return fresh.AccessToken, nil
}

// tokenEndpointFor re-runs discovery to recover the token endpoint for a
// refresh when it wasn't cached alongside the source row. A fuller
// implementation would cache this on the row; re-discovering keeps this
// path simple and correct at the cost of an extra round trip.
func (s *Service) tokenEndpointFor(ctx context.Context, src *store.ExternalMCPSource) (string, error) {
	_, asMeta, err := s.discover(ctx, src.URL)
	if err != nil {
		return "", fmt.Errorf("rediscover authorization server: %w", err)
	}
	return asMeta.TokenEndpoint, nil
}

func (s *Service) persistToken(ctx context.Context, sourceID string, tok *oauth2.Token) error {
	bundle := tokenBundle{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    tok.Expiry,
	}
	raw, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("marshal token bundle: %w", err)
	}
	enc, err := crypto.EncryptString(s.masterKey, string(raw), crypto.AADOAuthTokens)
	if err != nil {
		return fmt.Errorf("encrypt token bundle: %w", err)
	}

	src, err := s.db.GetExternalMCPSource(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("get external mcp source: %w", err)
	}
	src.OAuthTokensEncrypted = enc
	src.Status = store.SourceActive
	if err := s.db.UpdateExternalMCPSource(ctx, src); err != nil {
		return fmt.Errorf("persist oauth tokens: %w", err)
	}
	slog.Info("oauthsource: token persisted", "source", src.Name)
	return nil
}

func (s *Service) decryptBundle(src *store.ExternalMCPSource) (*tokenBundle, error) {
	if src.OAuthTokensEncrypted == "" {
		return nil, fmt.Errorf("external source %q has not completed authorization", src.Name)
	}
	raw, err := crypto.DecryptString(s.masterKey, src.OAuthTokensEncrypted, crypto.AADOAuthTokens)
	if err != nil {
		return nil, fmt.Errorf("decrypt token bundle: %w", err)
	}
	var bundle tokenBundle
	if err := json.Unmarshal([]byte(raw), &bundle); err != nil {
		return nil, fmt.Errorf("parse token bundle: %w", err)
	}
	return &bundle, nil
}

// canonicalResource implements RFC 8707's resource parameter: the protected
// resource's own identifier when discovery supplied one, falling back to
// the source URL itself.
func canonicalResource(prm *protectedResourceMetadata, sourceURL string) string {
	if prm != nil && prm.Resource != "" {
		return prm.Resource
	}
	return sourceURL
}
