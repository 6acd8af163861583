package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/steward-dev/steward/pkg/config"
)

// AuthProvider supplies authentication headers for MCP server connections.
type AuthProvider interface {
	// GetHeaders returns the HTTP headers to include in MCP requests.
	GetHeaders(ctx context.Context) (map[string]string, error)
}

// authProviderFor builds the provider matching the auth config, or nil
// when no dynamic auth is configured.
func authProviderFor(auth config.AuthConfig) AuthProvider {
	switch auth.Type {
	case "oauth_client_credentials":
		return NewOAuthClientCredentials(auth.TokenURL, auth.ClientID, auth.ClientSecret, auth.Scopes)
	case "jwt":
		ttl := auth.JWTTTL
		if ttl <= 0 {
			ttl = 5 * time.Minute
		}
		return &JWTAuth{
			Secret:   []byte(auth.JWTSecret),
			Issuer:   auth.JWTIssuer,
			Audience: auth.JWTAudience,
			TTL:      ttl,
			nowFunc:  time.Now,
		}
	default:
		return nil
	}
}

// OAuthClientCredentialsAuth obtains access tokens via the OAuth 2.0
// client_credentials grant. Tokens are cached and proactively refreshed
// when 80% of the token lifetime has elapsed. If a proactive refresh
// fails but the cached token is still valid, the cached token is used.
type OAuthClientCredentialsAuth struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string

	mu          sync.Mutex
	cachedToken string
	tokenExpiry time.Time
	refreshAt   time.Time
	httpClient  *http.Client
	nowFunc     func() time.Time // for testing; defaults to time.Now
}

// tokenResponse represents the JSON response from an OAuth 2.0 token endpoint.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// NewOAuthClientCredentials creates an OAuthClientCredentialsAuth provider.
func NewOAuthClientCredentials(tokenURL, clientID, clientSecret string, scopes []string) *OAuthClientCredentialsAuth {
	return &OAuthClientCredentialsAuth{
		TokenURL:     tokenURL,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       scopes,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		nowFunc:      time.Now,
	}
}

// GetHeaders returns an Authorization header with a Bearer token.
func (a *OAuthClientCredentialsAuth) GetHeaders(ctx context.Context) (map[string]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.nowFunc()

	// Cached token still fresh enough: use it.
	if a.cachedToken != "" && now.Before(a.refreshAt) {
		return map[string]string{"Authorization": "Bearer " + a.cachedToken}, nil
	}

	token, expiresIn, err := a.fetchToken(ctx)
	if err != nil {
		// A failed proactive refresh falls back to the cached token
		// while it remains valid.
		if a.cachedToken != "" && now.Before(a.tokenExpiry) {
			return map[string]string{"Authorization": "Bearer " + a.cachedToken}, nil
		}
		return nil, fmt.Errorf("fetching OAuth token: %w", err)
	}

	a.cachedToken = token
	a.tokenExpiry = now.Add(time.Duration(expiresIn) * time.Second)
	a.refreshAt = now.Add(time.Duration(expiresIn) * time.Second * 8 / 10)

	return map[string]string{"Authorization": "Bearer " + a.cachedToken}, nil
}

func (a *OAuthClientCredentialsAuth) fetchToken(ctx context.Context) (string, int, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", a.ClientID)
	form.Set("client_secret", a.ClientSecret)
	if len(a.Scopes) > 0 {
		form.Set("scope", strings.Join(a.Scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", 0, fmt.Errorf("parsing token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", 0, fmt.Errorf("token endpoint returned no access_token")
	}
	expiresIn := tr.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	return tr.AccessToken, expiresIn, nil
}

// JWTAuth mints short-lived HS256-signed bearer tokens from a shared
// secret. Tokens are cached and re-minted when 80% of the TTL elapses.
type JWTAuth struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration

	mu          sync.Mutex
	cachedToken string
	refreshAt   time.Time
	nowFunc     func() time.Time
}

// GetHeaders returns an Authorization header with a freshly signed or
// cached Bearer token.
func (a *JWTAuth) GetHeaders(_ context.Context) (map[string]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.nowFunc()
	if a.cachedToken != "" && now.Before(a.refreshAt) {
		return map[string]string{"Authorization": "Bearer " + a.cachedToken}, nil
	}

	claims := jwt.MapClaims{
		"iat": now.Unix(),
		"exp": now.Add(a.TTL).Unix(),
	}
	if a.Issuer != "" {
		claims["iss"] = a.Issuer
	}
	if a.Audience != "" {
		claims["aud"] = a.Audience
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.Secret)
	if err != nil {
		return nil, fmt.Errorf("signing JWT: %w", err)
	}

	a.cachedToken = token
	a.refreshAt = now.Add(a.TTL * 8 / 10)
	return map[string]string{"Authorization": "Bearer " + token}, nil
}
