package main

import (
	"fmt"
	"os"
	"time"

	"github.com/JGtHb/MCPbox-sub000/common/crypto"
	"github.com/JGtHb/MCPbox-sub000/common/environment"
	"github.com/JGtHb/MCPbox-sub000/common/version"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/app"
)

func main() {
	fmt.Printf("MCPbox Gateway\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	config := loadConfig()

	if config.SandboxBaseURL == "" {
		fmt.Fprintf(os.Stderr, "Error: MCPBOX_SANDBOX_URL is required\n")
		os.Exit(1)
	}
	if config.PublicBaseURL == "" {
		fmt.Fprintf(os.Stderr, "Error: MCPBOX_PUBLIC_BASE_URL is required\n")
		os.Exit(1)
	}

	masterKey, err := crypto.LoadMasterKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\nGenerate a key with: openssl rand -hex 32\n", err)
		os.Exit(1)
	}
	config.MasterKey = masterKey

	mcpbox, err := app.New(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize MCPbox: %v\n", err)
		os.Exit(1)
	}
	defer mcpbox.Stop()

	if err := mcpbox.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running MCPbox: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() *app.Config {
	return &app.Config{
		DatabasePath:         environment.StringOr("MCPBOX_DATABASE_PATH", "./mcpbox.db"),
		HTTPAddr:             environment.StringOr("MCPBOX_HTTP_ADDR", ":8443"),
		PublicBaseURL:        environment.StringOr("MCPBOX_PUBLIC_BASE_URL", ""),
		SandboxBaseURL:       environment.StringOr("MCPBOX_SANDBOX_URL", ""),
		FailedAuthMax:        environment.IntOr("MCPBOX_FAILED_AUTH_MAX", 0),
		FailedAuthWindow:     environment.DurationOr("MCPBOX_FAILED_AUTH_WINDOW", 60*time.Second),
		ServiceTokenCacheTTL: environment.DurationOr("MCPBOX_SERVICE_TOKEN_CACHE_TTL", 0),
		InternalAPIAddr:      environment.StringOr("MCPBOX_INTERNAL_API_ADDR", ""),
		InternalAPIToken:     environment.StringOr("MCPBOX_INTERNAL_API_TOKEN", ""),
	}
}
