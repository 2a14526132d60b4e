package oauthsource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/store"
)

// dcrRequest is the RFC 7591 client registration request body.
type dcrRequest struct {
	ClientName   string   `json:"client_name"`
	RedirectURIs []string `json:"redirect_uris"`
	GrantTypes   []string `json:"grant_types"`
	ResponseType []string `json:"response_types"`
}

// dcrResponse is the subset of the RFC 7591 registration response MCPbox
// needs to complete the authorize/token exchange.
type dcrResponse struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// registerClient implements §4.9 step 2: dynamic client registration
// against the authorization server's registration_endpoint, used when the
// source was added without a pre-configured client_id.
func (s *Service) registerClient(ctx context.Context, registrationEndpoint string, src *store.ExternalMCPSource) (*dcrResponse, error) {
	body, err := json.Marshal(dcrRequest{
		ClientName:   "mcpbox-" + src.Name,
		RedirectURIs: []string{s.redirectBase + "/oauth/callback"},
		GrantTypes:   []string{"authorization_code", "refresh_token"},
		ResponseType: []string{"code"},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal registration request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, registrationEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registration request to %s: %w", registrationEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registration endpoint %s returned status %d", registrationEndpoint, resp.StatusCode)
	}
	var out dcrResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode registration response: %w", err)
	}
	if out.ClientID == "" {
		return nil, fmt.Errorf("registration response from %s has no client_id", registrationEndpoint)
	}
	return &out, nil
}
