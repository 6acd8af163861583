package protocol

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/steward-dev/steward/pkg/config"
)

func TestJWTAuthMintsValidToken(t *testing.T) {
	secret := []byte("shared-secret")
	a := &JWTAuth{
		Secret:   secret,
		Issuer:   "steward",
		Audience: "mcp-server",
		TTL:      time.Minute,
		nowFunc:  time.Now,
	}

	headers, err := a.GetHeaders(context.Background())
	if err != nil {
		t.Fatalf("GetHeaders: %v", err)
	}
	raw := strings.TrimPrefix(headers["Authorization"], "Bearer ")
	if raw == headers["Authorization"] {
		t.Fatal("Authorization header missing Bearer prefix")
	}

	token, err := jwt.Parse(raw, func(*jwt.Token) (any, error) { return secret, nil })
	if err != nil {
		t.Fatalf("parsing minted token: %v", err)
	}
	claims := token.Claims.(jwt.MapClaims)
	if iss, _ := claims.GetIssuer(); iss != "steward" {
		t.Errorf("iss = %q, want steward", iss)
	}
}

func TestJWTAuthCachesUntilRefreshPoint(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	a := &JWTAuth{
		Secret:  []byte("s"),
		TTL:     time.Minute,
		nowFunc: func() time.Time { return now },
	}

	h1, err := a.GetHeaders(context.Background())
	if err != nil {
		t.Fatalf("GetHeaders: %v", err)
	}

	// Before 80% of the TTL the same token is reused.
	now = now.Add(30 * time.Second)
	h2, _ := a.GetHeaders(context.Background())
	if h1["Authorization"] != h2["Authorization"] {
		t.Error("token should be cached before refresh point")
	}

	// After the refresh point a new token is minted.
	now = now.Add(20 * time.Second)
	h3, _ := a.GetHeaders(context.Background())
	if h1["Authorization"] == h3["Authorization"] {
		t.Error("token should be re-minted after refresh point")
	}
}

func TestOAuthClientCredentials(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parsing form: %v", err)
		}
		if r.Form.Get("grant_type") != "client_credentials" {
			t.Errorf("grant_type = %q", r.Form.Get("grant_type"))
		}
		json.NewEncoder(w).Encode(tokenResponse{
			AccessToken: "tok-1",
			TokenType:   "Bearer",
			ExpiresIn:   3600,
		})
	}))
	defer srv.Close()

	a := NewOAuthClientCredentials(srv.URL, "client", "secret", []string{"mcp"})

	headers, err := a.GetHeaders(context.Background())
	if err != nil {
		t.Fatalf("GetHeaders: %v", err)
	}
	if headers["Authorization"] != "Bearer tok-1" {
		t.Errorf("Authorization = %q", headers["Authorization"])
	}

	// Second call within the token lifetime hits the cache.
	if _, err := a.GetHeaders(context.Background()); err != nil {
		t.Fatalf("GetHeaders (cached): %v", err)
	}
	if calls != 1 {
		t.Errorf("token endpoint called %d times, want 1", calls)
	}
}

func TestAuthProviderFor(t *testing.T) {
	if p := authProviderFor(config.AuthConfig{}); p != nil {
		t.Errorf("empty auth config should yield nil provider, got %T", p)
	}
	if _, ok := authProviderFor(config.AuthConfig{Type: "jwt", JWTSecret: "s"}).(*JWTAuth); !ok {
		t.Error("jwt auth config should yield JWTAuth")
	}
	if _, ok := authProviderFor(config.AuthConfig{
		Type:     "oauth_client_credentials",
		TokenURL: "https://idp.example.com/token",
	}).(*OAuthClientCredentialsAuth); !ok {
		t.Error("oauth auth config should yield OAuthClientCredentialsAuth")
	}
}
