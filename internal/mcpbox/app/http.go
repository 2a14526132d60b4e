package app

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/JGtHb/MCPbox-sub000/common/version"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/oauthsource"
)

// newOAuthCallbackHandler builds the redirect target every external MCP
// source's authorization server is configured to send the browser back to
// once the user approves (§4.9 step 4).
func newOAuthCallbackHandler(svc *oauthsource.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := r.URL.Query().Get("state")
		code := r.URL.Query().Get("code")
		if errParam := r.URL.Query().Get("error"); errParam != "" {
			http.Error(w, "authorization denied: "+errParam, http.StatusBadRequest)
			return
		}
		if state == "" || code == "" {
			http.Error(w, "missing state or code", http.StatusBadRequest)
			return
		}

		if err := svc.HandleCallback(r.Context(), state, code); err != nil {
			slog.Error("oauth callback failed", "err", err)
			http.Error(w, "authorization failed: "+err.Error(), http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><body>Authorization complete. You may close this tab.</body></html>"))
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthResponse{
		Status:  "ok",
		Version: version.Version,
		Commit:  version.GitCommit,
	})
}
