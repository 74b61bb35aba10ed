package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/datallboy/gocdse/internal/infra/config"
	"github.com/datallboy/gocdse/internal/infra/logger"
	"github.com/datallboy/gocdse/internal/retry"
)

// TokenProvider performs the OAuth2 password grant and keeps the resulting credential.
type TokenProvider struct {
	cfg    config.AuthConfig
	oauth  *oauth2.Config
	client *http.Client
	policy retry.Policy
	log    *logger.Logger

	mu           sync.Mutex // serializes refreshes
	refreshToken string
	cred         Credential
}

// PolicyFromConfig retries at auth.retry_interval, forever unless auth.max_attempts is set.
func PolicyFromConfig(cfg config.AuthConfig) retry.Policy {
	p := retry.Forever(cfg.RetryInterval)
	p.MaxAttempts = cfg.MaxAttempts
	return p
}

func NewTokenProvider(cfg config.AuthConfig, client *http.Client, policy retry.Policy, log *logger.Logger) *TokenProvider {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "cdse-public"
	}
	return &TokenProvider{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID: cfg.ClientID,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client: client,
		policy: policy,
		log:    log,
	}
}

// Credential returns the read-only handle downloaders use for the Authorization header.
func (p *TokenProvider) Credential() *Credential {
	return &p.cred
}

// Token returns the current bearer token.
func (p *TokenProvider) Token() string {
	return p.cred.Token()
}

// Authenticate obtains a fresh token. Failures are logged and retried per the policy;
// with the default unbounded policy the only possible error is ctx cancellation.
func (p *TokenProvider) Authenticate(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authenticate(ctx)
}

// Refresh re-authenticates after stale was rejected. If another caller already replaced
// stale, the newer token is returned without hitting the endpoint. A refresh_token grant
// is tried once before falling back to the password grant.
func (p *TokenProvider) Refresh(ctx context.Context, stale string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if current := p.cred.Token(); current != "" && current != stale {
		return current, nil
	}

	if p.refreshToken != "" {
		tok, err := p.oauth.TokenSource(p.clientContext(ctx), &oauth2.Token{RefreshToken: p.refreshToken}).Token()
		if err == nil {
			p.store(tok)
			p.log.Info("Access token refreshed")
			return tok.AccessToken, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		p.log.Warn("Refresh token rejected: %v", err)
		p.refreshToken = ""
	}

	p.log.Info("Access token rejected, re-authenticating")
	return p.authenticate(ctx)
}

func (p *TokenProvider) authenticate(ctx context.Context) (string, error) {
	policy := p.policy
	userHook := policy.OnRetry
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		p.log.Error("Token request failed (attempt %d): %v", attempt, err)
		p.log.Info("Waiting %s before requesting a new token...", wait)
		if userHook != nil {
			userHook(attempt, err, wait)
		}
	}

	var tok *oauth2.Token
	err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		t, err := p.oauth.PasswordCredentialsToken(p.clientContext(ctx), p.cfg.Username, p.cfg.Password)
		if err != nil {
			return err
		}
		tok = t
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("authenticate: %w", err)
	}

	p.store(tok)
	p.log.Info("Access token acquired")
	return tok.AccessToken, nil
}

func (p *TokenProvider) store(tok *oauth2.Token) {
	p.cred.set(tok.AccessToken, tok.Expiry)
	if tok.RefreshToken != "" {
		p.refreshToken = tok.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		p.log.Debug("Token valid until %s", tok.Expiry.Format(time.RFC3339))
	}
}

// clientContext routes oauth2 requests through the shared proxy-aware client.
func (p *TokenProvider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.client)
}
