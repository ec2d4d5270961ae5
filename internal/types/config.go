package types

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config drives the gateway, the refresh coordinator and the event channel.
// BaseURL is the HTTP API root every gateway operation path is joined to.
// WSURL and WSEndpoint together form the event channel address; the access
// token is appended as the `token` query parameter on each connect.
// RefreshMode selects the refresh endpoint flavour: "endpoint" posts the
// refresh token to BaseURL+RefreshPath, "oauth2" runs a refresh_token grant
// against OAuth2.TokenURL.
// ReconnectBaseDelay and ReconnectMaxAttempts define the reconnect backoff.
type Config struct {
	BaseURL     string        `json:"base_url" yaml:"base_url" env:"TETHER_BASE_URL"`
	WSURL       string        `json:"ws_url" yaml:"ws_url" env:"TETHER_WS_URL"`
	WSEndpoint  string        `json:"ws_endpoint" yaml:"ws_endpoint" env:"TETHER_WS_ENDPOINT"`
	RefreshMode string        `json:"refresh_mode" yaml:"refresh_mode" env:"TETHER_REFRESH_MODE"`
	RefreshPath string        `json:"refresh_path" yaml:"refresh_path" env:"TETHER_REFRESH_PATH"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout" env:"TETHER_TIMEOUT"`

	HandshakeTimeout     time.Duration `json:"handshake_timeout" yaml:"handshake_timeout" env:"TETHER_HANDSHAKE_TIMEOUT"`
	ReconnectBaseDelay   time.Duration `json:"reconnect_base_delay" yaml:"reconnect_base_delay" env:"TETHER_RECONNECT_BASE_DELAY"`
	ReconnectMaxAttempts int           `json:"reconnect_max_attempts" yaml:"reconnect_max_attempts" env:"TETHER_RECONNECT_MAX_ATTEMPTS"`

	OAuth2 OAuth2Config `json:"oauth2" yaml:"oauth2"`

	// TeardownSNSArn, when set, receives a message every time a session is torn down.
	TeardownSNSArn string `json:"teardown_sns_arn" yaml:"teardown_sns_arn" env:"TETHER_TEARDOWN_SNS_ARN"`

	LogLevel string `json:"log_level" yaml:"log_level" env:"TETHER_LOG_LEVEL"`
	LogJSON  bool   `json:"log_json" yaml:"log_json" env:"TETHER_LOG_JSON"`
}

type OAuth2Config struct {
	TokenURL     string   `json:"token_url" yaml:"token_url" env:"TETHER_OAUTH2_TOKEN_URL"`
	ClientID     string   `json:"client_id" yaml:"client_id" env:"TETHER_OAUTH2_CLIENT_ID"`
	ClientSecret string   `json:"client_secret" yaml:"client_secret" env:"TETHER_OAUTH2_CLIENT_SECRET"`
	Scopes       []string `json:"scopes" yaml:"scopes" env:"TETHER_OAUTH2_SCOPES"`
}

const (
	RefreshModeEndpoint = "endpoint"
	RefreshModeOAuth2   = "oauth2"

	DefaultBaseURL              = "http://localhost:8000/api"
	DefaultWSURL                = "ws://localhost:8000/ws"
	DefaultWSEndpoint           = "/notifications"
	DefaultRefreshPath          = "/users/refresh-token/"
	DefaultTimeout              = 30 * time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultReconnectBaseDelay   = time.Second
	DefaultReconnectMaxAttempts = 5

	AuthHeaderName   = "Authorization"
	BearerPrefix     = "Bearer "
	TokenQueryParam  = "token"
	ContentTypeJSON  = "application/json"
	ContentTypeHName = "Content-Type"
)

// WithDefaults returns a copy of c with every unset field filled in.
func (c Config) WithDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.WSURL == "" {
		c.WSURL = DefaultWSURL
	}
	if c.WSEndpoint == "" {
		c.WSEndpoint = DefaultWSEndpoint
	}
	if c.RefreshMode == "" {
		c.RefreshMode = RefreshModeEndpoint
	}
	if c.RefreshPath == "" {
		c.RefreshPath = DefaultRefreshPath
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.ReconnectMaxAttempts == 0 {
		c.ReconnectMaxAttempts = DefaultReconnectMaxAttempts
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return c
}

func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if u, err := url.Parse(c.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("base_url must be an http(s) URL")
	}
	if c.WSURL == "" {
		return fmt.Errorf("ws_url is required")
	}
	if u, err := url.Parse(c.WSURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("ws_url must be a ws(s) URL")
	}
	if c.WSEndpoint != "" && !strings.HasPrefix(c.WSEndpoint, "/") {
		return fmt.Errorf("ws_endpoint must start with '/'")
	}
	switch c.RefreshMode {
	case RefreshModeEndpoint:
		if c.RefreshPath == "" {
			return fmt.Errorf("refresh_path is required when refresh_mode is %q", RefreshModeEndpoint)
		}
	case RefreshModeOAuth2:
		if c.OAuth2.TokenURL == "" {
			return fmt.Errorf("oauth2.token_url is required when refresh_mode is %q", RefreshModeOAuth2)
		}
		if c.OAuth2.ClientID == "" {
			return fmt.Errorf("oauth2.client_id is required when refresh_mode is %q", RefreshModeOAuth2)
		}
	default:
		return fmt.Errorf("refresh_mode must be one of %q or %q", RefreshModeEndpoint, RefreshModeOAuth2)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}
	if c.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("reconnect_base_delay must be positive")
	}
	if c.ReconnectMaxAttempts < 0 {
		return fmt.Errorf("reconnect_max_attempts must be non-negative")
	}
	return nil
}
