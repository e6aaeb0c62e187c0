package lastfm

import (
	"context"
	"encoding/json"
	"fmt"
)

// AuthService handles the Last.fm desktop authentication flow:
// fetch a request token, send the user to the authorization page, then
// exchange the authorized token for a permanent session key.
type AuthService struct {
	client *Client
}

// GetToken fetches a new request token.
func (a *AuthService) GetToken(ctx context.Context) (*Token, error) {
	body, err := a.client.call(ctx, "auth.getToken", nil, false)
	if err != nil {
		return nil, err
	}

	var token Token
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if token.Token == "" {
		return nil, fmt.Errorf("lastfm: empty token in response")
	}

	return &token, nil
}

// GetAuthURL returns the URL where the user must authorize the token.
func (a *AuthService) GetAuthURL(token string) string {
	return AuthURL(a.client.apiKey, token)
}

// GetSession exchanges an authorized request token for a session.
//
// Fails with ErrCodeUnauthorizedToken until the user has approved the token
// in a browser; callers typically poll this after opening the auth URL. On
// success the session key is installed on the client.
func (a *AuthService) GetSession(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, fmt.Errorf("lastfm: token is required")
	}

	body, err := a.client.call(ctx, "auth.getSession", map[string]string{"token": token}, false)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Session Session `json:"session"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse session response: %w", err)
	}
	if envelope.Session.Key == "" {
		return nil, fmt.Errorf("lastfm: empty session key in response")
	}

	a.client.SetSessionKey(envelope.Session.Key)
	return &envelope.Session, nil
}
