package oauthsource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/JGtHb/MCPbox-sub000/common/retry"
)

// metadataFetchRetry governs the two RFC 9728/8414 discovery fetches in
// discover(): a handful of quick retries for a transient network blip
// against a third-party metadata endpoint we talk to once per source add,
// not a sustained RPC peer — so the sandbox client's backoff+breaker pair
// would be overkill here.
var metadataFetchRetry = retry.Config{
	MaxAttempts:  3,
	InitialDelay: 200 * time.Millisecond,
	MaxDelay:     2 * time.Second,
}

// protectedResourceMetadata is the RFC 9728 document fetched from the
// resource_metadata URL advertised by the source's 401 WWW-Authenticate
// header.
type protectedResourceMetadata struct {
	Resource             string   `json:"resource"`
	AuthorizationServers []string `json:"authorization_servers"`
}

// authServerMetadata is the RFC 8414 document describing one authorization
// server's endpoints and capabilities.
type authServerMetadata struct {
	Issuer                string   `json:"issuer"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	RegistrationEndpoint  string   `json:"registration_endpoint,omitempty"`
	ScopesSupported       []string `json:"scopes_supported,omitempty"`
}

var resourceMetadataParamPattern = regexp.MustCompile(`resource_metadata="([^"]+)"`)

// discover implements §4.9 step 1: probe sourceURL with a bare initialize
// request, expect a 401 advertising a Protected Resource Metadata URL via
// WWW-Authenticate, fetch it, follow its first authorization server, and
// fetch that server's RFC 8414 metadata.
func (s *Service) discover(ctx context.Context, sourceURL string) (*protectedResourceMetadata, *authServerMetadata, error) {
	prmURL, err := s.probeForMetadataURL(ctx, sourceURL)
	if err != nil {
		return nil, nil, err
	}

	prm, err := fetchJSON[protectedResourceMetadata](ctx, s.client, prmURL)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch protected resource metadata: %w", err)
	}
	if len(prm.AuthorizationServers) == 0 {
		return nil, nil, fmt.Errorf("protected resource metadata at %s lists no authorization_servers", prmURL)
	}

	asMeta, err := s.fetchAuthServerMetadata(ctx, prm.AuthorizationServers[0])
	if err != nil {
		return nil, nil, err
	}
	return prm, asMeta, nil
}

func (s *Service) probeForMetadataURL(ctx context.Context, sourceURL string) (string, error) {
	body, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": "initialize",
		"params": map[string]any{"protocolVersion": "2024-11-05"},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sourceURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("probe %s: %w", sourceURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		return "", fmt.Errorf("expected HTTP 401 with WWW-Authenticate from %s, got %d", sourceURL, resp.StatusCode)
	}
	header := resp.Header.Get("WWW-Authenticate")
	m := resourceMetadataParamPattern.FindStringSubmatch(header)
	if m == nil {
		return "", fmt.Errorf("WWW-Authenticate header from %s has no resource_metadata parameter: %q", sourceURL, header)
	}
	return m[1], nil
}

func (s *Service) fetchAuthServerMetadata(ctx context.Context, issuer string) (*authServerMetadata, error) {
	url := issuer + "/.well-known/oauth-authorization-server"
	meta, err := fetchJSON[authServerMetadata](ctx, s.client, url)
	if err != nil {
		return nil, fmt.Errorf("fetch authorization server metadata: %w", err)
	}
	if meta.AuthorizationEndpoint == "" || meta.TokenEndpoint == "" {
		return nil, fmt.Errorf("authorization server metadata at %s is missing required endpoints", url)
	}
	if meta.Issuer == "" {
		meta.Issuer = issuer
	}
	return meta, nil
}

func fetchJSON[T any](ctx context.Context, client *http.Client, url string) (*T, error) {
	var out T
	err := retry.Do(ctx, metadataFetchRetry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("build request for %s: %w", url, err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", url, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("decode %s: %w", url, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
