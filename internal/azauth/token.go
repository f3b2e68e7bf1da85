// Package azauth resolves Azure bearer tokens for the agent backends.
package azauth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/telcoinsights/fabric-gateway/internal/config"
)

// FabricScope is the token audience for Fabric Data Agent calls.
const FabricScope = "https://api.fabric.microsoft.com/.default"

// CognitiveScope is the token audience for AI Foundry project calls.
const CognitiveScope = "https://ai.azure.com/.default"

// refreshSkew forces a refresh when less than this remains before expiry.
const refreshSkew = 5 * time.Minute

// Provider supplies bearer tokens. Implementations cache the token and
// refresh it transparently.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// TokenSource caches a bearer token for one scope, refreshing it when less
// than five minutes remain before expiry.
type TokenSource struct {
	cred  azcore.TokenCredential
	scope string

	mu  sync.Mutex
	tok azcore.AccessToken
}

// Options selects the credential to build.
type Options struct {
	TenantID     string
	ClientID     string
	ClientSecret string
}

// NewTokenSource builds a TokenSource for the given scope. Credential
// selection mirrors the deployment model: managed identity inside an Azure
// host, service principal when a client secret is configured, and the
// default chain (CLI login, environment) otherwise.
func NewTokenSource(scope string, opts Options) (*TokenSource, error) {
	cred, err := newCredential(opts)
	if err != nil {
		return nil, fmt.Errorf("build credential: %w", err)
	}
	return &TokenSource{cred: cred, scope: scope}, nil
}

func newCredential(opts Options) (azcore.TokenCredential, error) {
	if config.IsHostedEnvironment() {
		miOpts := &azidentity.ManagedIdentityCredentialOptions{}
		if opts.ClientID != "" {
			slog.Info("using user-assigned managed identity", "client_id", opts.ClientID)
			miOpts.ID = azidentity.ClientID(opts.ClientID)
		} else {
			slog.Info("using system-assigned managed identity")
		}
		return azidentity.NewManagedIdentityCredential(miOpts)
	}

	if opts.ClientID != "" && opts.ClientSecret != "" {
		slog.Info("using service principal credential", "client_id", opts.ClientID)
		return azidentity.NewClientSecretCredential(opts.TenantID, opts.ClientID, opts.ClientSecret, nil)
	}

	slog.Info("no service principal configured, using default credential chain")
	return azidentity.NewDefaultAzureCredential(nil)
}

// Token returns a bearer token, refreshing the cached one when it is
// within the refresh skew of expiry.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tok.Token != "" && time.Until(s.tok.ExpiresOn) > refreshSkew {
		return s.tok.Token, nil
	}

	tok, err := s.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{s.scope}})
	if err != nil {
		return "", fmt.Errorf("acquire token for %s: %w", s.scope, err)
	}
	s.tok = tok
	slog.Info("token refreshed", "scope", s.scope, "expires_on", tok.ExpiresOn.UTC().Format(time.RFC3339))
	return tok.Token, nil
}

// Static returns a Provider that always yields the given token. Used in
// tests and for pre-issued tokens.
func Static(token string) Provider {
	return staticProvider(token)
}

type staticProvider string

func (p staticProvider) Token(context.Context) (string, error) {
	return string(p), nil
}
