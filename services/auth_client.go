package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is what the auth collaborator tells us about the caller.
type Identity struct {
	UserID      string
	DisplayName string
}

// ExchangedToken is a short-lived bearer credential for the document store.
type ExchangedToken struct {
	Raw       string
	ExpiresAt time.Time
}

// Expired reports whether the token needs a refresh. A small skew margin
// avoids presenting a credential that dies mid-request.
func (t *ExchangedToken) Expired(now time.Time) bool {
	return t == nil || !now.Add(30*time.Second).Before(t.ExpiresAt)
}

// TokenExchanger exchanges a user identity for a document-store credential.
type TokenExchanger interface {
	ExchangeToken(ctx context.Context, userID string) (*ExchangedToken, error)
}

// AuthServiceClient calls the external identity provider's token endpoint.
type AuthServiceClient struct {
	BaseURL string
	// Service-to-service token presented to the identity provider.
	Token string
	// Shared HS256 secret used to validate the returned credential.
	SigningSecret []byte
	Client        *http.Client
}

func NewAuthServiceClient(baseURL, token string, signingSecret []byte) *AuthServiceClient {
	return &AuthServiceClient{
		BaseURL:       baseURL,
		Token:         token,
		SigningSecret: signingSecret,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// ExchangeToken calls /auth/token on the identity provider and validates the
// returned JWT before handing it out.
func (c *AuthServiceClient) ExchangeToken(ctx context.Context, userID string) (*ExchangedToken, error) {
	url := fmt.Sprintf("%s/auth/token", c.BaseURL)

	reqBody := map[string]interface{}{
		"user_id":  userID,
		"audience": "document-store",
	}
	jsonData, _ := json.Marshal(reqBody)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode != http.StatusOK {
		log.Printf("AuthService /auth/token returned %d: %s", resp.StatusCode, string(body))
		return nil, fmt.Errorf("token exchange failed: %d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}

	return c.validate(out.Token, userID)
}

func (c *AuthServiceClient) validate(raw, userID string) (*ExchangedToken, error) {
	parsed, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.SigningSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid exchanged token: %w", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type")
	}
	if sub, _ := claims.GetSubject(); sub != userID {
		return nil, fmt.Errorf("exchanged token subject mismatch")
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, fmt.Errorf("exchanged token missing expiry")
	}

	return &ExchangedToken{Raw: raw, ExpiresAt: exp.Time}, nil
}
