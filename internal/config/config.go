// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	OutputDir   string

	// Fabric Data Agent.
	TenantID      string
	DataAgentURL  string
	ClientID      string
	ClientSecret  string
	DataAgentName string
	WorkspaceID   string

	// AI Foundry multi-agent project.
	AgentEndpoint        string // PROJECT_ENDPOINT_MULTI_AGENT_CHARTER
	ReasoningEndpoint    string // MODEL_ROUTER_ENDPOINT
	ReasoningDeployment  string // MODEL_ROUTER_DEPLOYMENT
	AgentModelDeployment string
	BingConnectionName   string
	PlannerDeployment    string // AGENT_A_DEPLOYMENT
	NarrativeDeployment  string // AGENT_B_DEPLOYMENT

	TranscriptDir      string
	MentionsTable      string
	BrandMappingFile   string
	CacheTTL           time.Duration
	SessionMaxEntries  int
	SessionMaxMessages int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Azure App Service exposes the listen port as WEBSITES_PORT.
	port := getEnv("PORT", "")
	if port == "" {
		port = getEnv("WEBSITES_PORT", "8080")
	}

	cacheTTL := time.Duration(getEnvInt("CACHE_TTL_SECONDS", 3600)) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}

	cfg := &Config{
		Port:        port,
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/gateway.db"),
		OutputDir:   getEnv("OUTPUT_DIR", "./data/reports"),

		TenantID:      getEnv("TENANT_ID", ""),
		DataAgentURL:  getEnv("DATA_AGENT_URL", ""),
		ClientID:      firstEnv("CLIENT_ID", "AZURE_CLIENT_ID"),
		ClientSecret:  firstEnv("CLIENT_SECRET", "AZURE_CLIENT_SECRET"),
		DataAgentName: getEnv("FABRIC_DATA_AGENT_NAME", ""),
		WorkspaceID:   getEnv("FABRIC_WORKSPACE_ID", ""),

		AgentEndpoint:        getEnv("PROJECT_ENDPOINT_MULTI_AGENT_CHARTER", ""),
		ReasoningEndpoint:    getEnv("MODEL_ROUTER_ENDPOINT", ""),
		ReasoningDeployment:  getEnv("MODEL_ROUTER_DEPLOYMENT", "gpt-4o"),
		AgentModelDeployment: firstEnv("AGENT_MODEL_DEPLOYMENT_NAME", "MODEL_DEPLOYMENT_NAME"),
		BingConnectionName:   getEnv("BING_GROUNDED_CONNECTION_NAME", ""),
		PlannerDeployment:    getEnv("AGENT_A_DEPLOYMENT", "gpt-4o-mini"),
		NarrativeDeployment:  getEnv("AGENT_B_DEPLOYMENT", "gpt-4o"),

		TranscriptDir:      getEnv("TRANSCRIPT_DIR", "./data/transcripts"),
		MentionsTable:      getEnv("MENTIONS_TABLE_PATH", "./data/mentions.csv"),
		BrandMappingFile:   getEnv("BRAND_MAPPING_FILE", ""),
		CacheTTL:           cacheTTL,
		SessionMaxEntries:  getEnvInt("SESSION_MAX_ENTRIES", 1000),
		SessionMaxMessages: getEnvInt("SESSION_MAX_MESSAGES", 50),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
// Missing agent credentials are not an error: the service falls back to
// mock mode so the chat surface keeps answering with a canned reply.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("OUTPUT_DIR cannot be empty")
	}
	if c.SessionMaxEntries <= 0 {
		return fmt.Errorf("SESSION_MAX_ENTRIES must be > 0")
	}
	if c.SessionMaxMessages <= 0 {
		return fmt.Errorf("SESSION_MAX_MESSAGES must be > 0")
	}
	return nil
}

// FabricConfigured reports whether the Fabric Data Agent can be reached.
func (c *Config) FabricConfigured() bool {
	return c.TenantID != "" && c.DataAgentURL != ""
}

// FoundryConfigured reports whether the multi-agent project can be reached.
func (c *Config) FoundryConfigured() bool {
	return c.AgentEndpoint != "" && c.ReasoningEndpoint != ""
}

// MockMode is active when no backend is configured at all.
func (c *Config) MockMode() bool {
	return !c.FabricConfigured() && !c.FoundryConfigured()
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// IsHostedEnvironment reports whether the process runs inside an Azure host
// where a managed identity endpoint is available.
func IsHostedEnvironment() bool {
	for _, key := range []string{
		"WEBSITE_SITE_NAME",
		"FUNCTIONS_WORKER_RUNTIME",
		"AZURE_FUNCTIONS_ENVIRONMENT",
		"IDENTITY_ENDPOINT",
		"MSI_ENDPOINT",
	} {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return ""
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}
