// Package config loads client and server settings from the environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

var (
	// ErrInvalid is returned when settings are present but inconsistent.
	ErrInvalid = errors.New("config: invalid settings")
)

// Client configures a subscriber.
type Client struct {
	// BaseURL of the notifications API. ENV: HUMANNEEDED_BASE_URL
	BaseURL string `env:"HUMANNEEDED_BASE_URL,required"`
	// AssistantID optionally scopes the stream. ENV: HUMANNEEDED_ASSISTANT_ID
	AssistantID string `env:"HUMANNEEDED_ASSISTANT_ID"`
	// Token is a static bearer token. ENV: HUMANNEEDED_TOKEN
	Token string `env:"HUMANNEEDED_TOKEN"`
	// HeaderStreams declares that the stream transport can send headers.
	// ENV: HUMANNEEDED_HEADER_STREAMS
	HeaderStreams bool `env:"HUMANNEEDED_HEADER_STREAMS,default=true"`

	// OAuth2 client-credentials settings, used when Token is empty.
	TokenURL     string `env:"AUTH0_TOKEN_URL"`
	ClientID     string `env:"AUTH0_CLIENT_ID"`
	ClientSecret string `env:"AUTH0_CLIENT_SECRET"`
	Audience     string `env:"AUTH0_AUDIENCE"`
	Scopes       string `env:"AUTH0_SCOPES"`
}

// LoadClient reads Client settings from the environment.
func LoadClient() (Client, error) {
	var c Client
	if err := envdecode.StrictDecode(&c); err != nil {
		return Client{}, fmt.Errorf("decode client config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Client{}, err
	}
	return c, nil
}

// Validate checks the settings for consistency.
func (c Client) Validate() error {
	if err := validateURL("HUMANNEEDED_BASE_URL", c.BaseURL); err != nil {
		return err
	}
	if c.Token == "" && c.ClientID != "" && (c.TokenURL == "" || c.ClientSecret == "") {
		return fmt.Errorf("%w: AUTH0_CLIENT_ID requires AUTH0_TOKEN_URL and AUTH0_CLIENT_SECRET", ErrInvalid)
	}
	return nil
}

// TokenSource returns the source of bearer tokens for the stream. It is
// nil when neither a static token nor client credentials are configured.
func (c Client) TokenSource(ctx context.Context) oauth2.TokenSource {
	if c.Token != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.Token, TokenType: "Bearer"})
	}
	if c.ClientID == "" {
		return nil
	}
	cc := clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     c.TokenURL,
		Scopes:       splitList(c.Scopes),
	}
	if c.Audience != "" {
		cc.EndpointParams = url.Values{"audience": {c.Audience}}
	}
	return cc.TokenSource(ctx)
}

// Host backends.
const (
	HostMemory = "memory"
	HostRedis  = "redis"
)

// Server configures the notification hub.
type Server struct {
	// Addr to listen on. ENV: LISTEN_ADDR
	Addr string `env:"LISTEN_ADDR,default=:8080"`

	// Issuer enables bearer authentication when set. ENV: AUTH_ISSUER
	Issuer string `env:"AUTH_ISSUER"`
	// Audience expected in access tokens. ENV: AUTH_AUDIENCE
	Audience string `env:"AUTH_AUDIENCE"`
	// JWKSURL skips OIDC discovery when set. ENV: AUTH_JWKS_URL
	JWKSURL string `env:"AUTH_JWKS_URL"`
	// RequiredScopes is a space or comma separated list. ENV: AUTH_REQUIRED_SCOPES
	RequiredScopes string `env:"AUTH_REQUIRED_SCOPES"`
	// TokenCacheSize bounds the validated-token cache. ENV: AUTH_TOKEN_CACHE_SIZE
	TokenCacheSize int `env:"AUTH_TOKEN_CACHE_SIZE,default=1024"`
	// Realm advertised in bearer challenges. ENV: AUTH_REALM
	Realm string `env:"AUTH_REALM"`

	// Host backend, memory or redis. ENV: ALERTS_HOST
	Host string `env:"ALERTS_HOST,default=memory"`
	// RedisAddr for the redis backend. ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for Redis keys. ENV: ALERTS_KEY_PREFIX
	KeyPrefix string `env:"ALERTS_KEY_PREFIX,default=humanneeded:"`

	// Heartbeat between keep-alive comments. ENV: SSE_HEARTBEAT
	Heartbeat time.Duration `env:"SSE_HEARTBEAT,default=15s"`
	// ConnectionRate is new streams per second, zero for unlimited.
	// ENV: SSE_CONNECTION_RATE
	ConnectionRate float64 `env:"SSE_CONNECTION_RATE,default=0"`
	// ConnectionBurst for the rate limiter. ENV: SSE_CONNECTION_BURST
	ConnectionBurst int `env:"SSE_CONNECTION_BURST,default=20"`

	// FeedFile is an optional JSON alert file to mirror. ENV: ALERTS_FEED_FILE
	FeedFile string `env:"ALERTS_FEED_FILE"`

	// LogLevel is debug, info, warn or error. ENV: LOG_LEVEL
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

// LoadServer reads Server settings from the environment.
func LoadServer() (Server, error) {
	var s Server
	if err := envdecode.StrictDecode(&s); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Server{}, fmt.Errorf("decode server config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Server{}, err
	}
	return s, nil
}

// Validate checks the settings for consistency.
func (s Server) Validate() error {
	switch s.Host {
	case HostMemory, HostRedis:
	default:
		return fmt.Errorf("%w: ALERTS_HOST must be %q or %q, got %q", ErrInvalid, HostMemory, HostRedis, s.Host)
	}
	if s.Issuer != "" && s.Audience == "" {
		return fmt.Errorf("%w: AUTH_AUDIENCE is required with AUTH_ISSUER", ErrInvalid)
	}
	if s.JWKSURL != "" && s.Issuer == "" {
		return fmt.Errorf("%w: AUTH_JWKS_URL requires AUTH_ISSUER", ErrInvalid)
	}
	if s.ConnectionRate < 0 || s.ConnectionBurst < 0 {
		return fmt.Errorf("%w: connection rate and burst must not be negative", ErrInvalid)
	}
	return nil
}

// AuthEnabled reports whether bearer authentication is configured.
func (s Server) AuthEnabled() bool { return s.Issuer != "" }

// Scopes returns RequiredScopes as a list.
func (s Server) Scopes() []string { return splitList(s.RequiredScopes) }

func validateURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("%w: %s must be an absolute http(s) URL", ErrInvalid, name)
	}
	return nil
}

func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == ',' })
}
