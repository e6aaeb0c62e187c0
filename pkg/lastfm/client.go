// Package lastfm implements a signed client for the Last.fm API 2.0.
//
// Requests go out as form-encoded POSTs carrying the MD5 api_sig the
// service requires; responses are read in the JSON flavor (format=json).
// Operations are grouped into two services: Auth covers the desktop
// authentication handshake, Scrobble covers now-playing updates and
// scrobble submission. The package depends only on the standard library
// and works on its own:
//
//	client, err := lastfm.NewClient(lastfm.Config{
//	    APIKey:    "your-api-key",
//	    APISecret: "your-api-secret",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	token, err := client.Auth().GetToken(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Println("Authorize at:", client.Auth().GetAuthURL(token.Token))
package lastfm

import (
	"fmt"
	"net/http"
)

// Config configures a Client. APIKey and APISecret are mandatory; the
// remaining fields default sensibly when zero.
type Config struct {
	APIKey     string
	APISecret  string
	SessionKey string       // session key for authenticated methods, may be installed later
	HTTPClient *http.Client // defaults to http.DefaultClient
	BaseURL    string       // defaults to DefaultBaseURL, overridable for tests
	Logger     Logger       // nil disables debug logging
}

// Logger receives debug lines about outgoing requests. Any printf-style
// logger satisfies it.
type Logger interface {
	Debugf(format string, args ...interface{})
}

// Client holds the credentials and transport shared by the services.
type Client struct {
	apiKey     string
	apiSecret  string
	sessionKey string
	httpClient *http.Client
	baseURL    string
	logger     Logger

	auth     *AuthService
	scrobble *ScrobbleService
}

const (
	// DefaultBaseURL is the default Last.fm API endpoint.
	DefaultBaseURL = "https://ws.audioscrobbler.com/2.0/"
)

// NewClient validates the credentials and builds a client. A session key
// can be supplied up front or installed later with SetSessionKey; the auth
// service installs it automatically after a successful GetSession.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("lastfm: APIKey is required")
	}
	if cfg.APISecret == "" {
		return nil, fmt.Errorf("lastfm: APISecret is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	c := &Client{
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		sessionKey: cfg.SessionKey,
		httpClient: httpClient,
		baseURL:    baseURL,
		logger:     cfg.Logger,
	}

	c.auth = &AuthService{client: c}
	c.scrobble = &ScrobbleService{client: c}

	return c, nil
}

// Auth exposes the desktop authentication flow.
func (c *Client) Auth() *AuthService {
	return c.auth
}

// Scrobble exposes now-playing updates and scrobble submission.
func (c *Client) Scrobble() *ScrobbleService {
	return c.scrobble
}

// SetSessionKey installs the session key used by authenticated methods.
func (c *Client) SetSessionKey(key string) {
	c.sessionKey = key
}

// GetSessionKey reports the session key currently in use, or "".
func (c *Client) GetSessionKey() string {
	return c.sessionKey
}

// logDebugf emits through the optional logger.
func (c *Client) logDebugf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Debugf(format, args...)
	}
}
