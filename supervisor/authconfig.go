package supervisor

import (
	"fmt"
	"strconv"
	"strings"
)

// AuthMode selects how the sidecar authenticates incoming callers.
type AuthMode string

const (
	AuthModeNone   AuthMode = "none"
	AuthModeAPIKey AuthMode = "api-key"
	AuthModeOAuth  AuthMode = "oauth"
)

// AuthConfig describes how a project's sidecar should listen and
// authenticate. The supervisor treats it as opaque data except for
// validation, restart diffing and redaction; everything else is passed
// through to the sidecar command line.
type AuthConfig struct {
	Mode AuthMode

	// Host and Port are where the sidecar binds its endpoint.
	Host string
	Port int

	// APIKey is required context for AuthModeAPIKey.
	APIKey string

	// OAuth settings, required when Mode is AuthModeOAuth.
	OAuthHost          string
	OAuthPort          string
	OAuthServerURL     string
	OAuthCallbackPath  string
	OAuthClientID      string
	OAuthClientSecret  string
	OAuthAuthURL       string
	OAuthTokenURL      string
	OAuthMCPScope      string
	OAuthProviderScope string
}

// Validate checks that the config carries everything the sidecar needs to
// start. OAuth mode requires all of its sub-fields to be non-empty.
func (c *AuthConfig) Validate(project string) error {
	if c == nil {
		return &ConfigurationError{Project: project, Reason: "auth settings are missing"}
	}
	if c.Host == "" {
		return &ConfigurationError{Project: project, Reason: "host is missing"}
	}
	if c.Port <= 0 || c.Port > 65535 {
		return &ConfigurationError{Project: project, Reason: fmt.Sprintf("invalid port %d", c.Port)}
	}
	if c.Mode != AuthModeOAuth {
		return nil
	}
	for name, value := range map[string]string{
		"oauth_host":           c.OAuthHost,
		"oauth_port":           c.OAuthPort,
		"oauth_server_url":     c.OAuthServerURL,
		"oauth_callback_path":  c.OAuthCallbackPath,
		"oauth_client_id":      c.OAuthClientID,
		"oauth_client_secret":  c.OAuthClientSecret,
		"oauth_auth_url":       c.OAuthAuthURL,
		"oauth_token_url":      c.OAuthTokenURL,
		"oauth_mcp_scope":      c.OAuthMCPScope,
		"oauth_provider_scope": c.OAuthProviderScope,
	} {
		if value == "" {
			return &ConfigurationError{Project: project, Reason: fmt.Sprintf("OAuth is enabled but %s is not set", name)}
		}
	}
	return nil
}

// normalize treats empty strings and absent values as the same "no value"
// sentinel so they never trigger a spurious restart.
func normalize(s string) string {
	return strings.TrimSpace(s)
}

// AuthConfigChanged reports whether switching a running sidecar from old to
// updated requires a restart. Only the fields relevant to the (matching) mode
// are compared.
func AuthConfigChanged(old, updated *AuthConfig) bool {
	if old == nil && updated == nil {
		return false
	}
	if old == nil || updated == nil {
		return true
	}
	if old.Mode != updated.Mode {
		return true
	}
	switch old.Mode {
	case AuthModeOAuth:
		pairs := [][2]string{
			{old.Host, updated.Host},
			{strconv.Itoa(old.Port), strconv.Itoa(updated.Port)},
			{old.OAuthHost, updated.OAuthHost},
			{old.OAuthPort, updated.OAuthPort},
			{old.OAuthServerURL, updated.OAuthServerURL},
			{old.OAuthCallbackPath, updated.OAuthCallbackPath},
			{old.OAuthClientID, updated.OAuthClientID},
			{old.OAuthClientSecret, updated.OAuthClientSecret},
			{old.OAuthAuthURL, updated.OAuthAuthURL},
			{old.OAuthTokenURL, updated.OAuthTokenURL},
			{old.OAuthMCPScope, updated.OAuthMCPScope},
			{old.OAuthProviderScope, updated.OAuthProviderScope},
		}
		for _, p := range pairs {
			if normalize(p[0]) != normalize(p[1]) {
				return true
			}
		}
		return false
	case AuthModeAPIKey:
		return normalize(old.APIKey) != normalize(updated.APIKey)
	default:
		return false
	}
}

// envPairs returns the --env KEY VALUE pairs the sidecar needs for the
// configured auth mode, in a stable order.
func (c *AuthConfig) envPairs() [][2]string {
	switch c.Mode {
	case AuthModeOAuth:
		return [][2]string{
			{"OAUTH_HOST", c.OAuthHost},
			{"OAUTH_PORT", c.OAuthPort},
			{"OAUTH_SERVER_URL", c.OAuthServerURL},
			{"OAUTH_CALLBACK_PATH", c.OAuthCallbackPath},
			{"OAUTH_CLIENT_ID", c.OAuthClientID},
			{"OAUTH_CLIENT_SECRET", c.OAuthClientSecret},
			{"OAUTH_AUTH_URL", c.OAuthAuthURL},
			{"OAUTH_TOKEN_URL", c.OAuthTokenURL},
			{"OAUTH_MCP_SCOPE", c.OAuthMCPScope},
			{"OAUTH_PROVIDER_SCOPE", c.OAuthProviderScope},
		}
	case AuthModeAPIKey:
		return [][2]string{{"API_KEY", c.APIKey}}
	default:
		return nil
	}
}

// CommandArgs builds the sidecar command line for this config.
func (c *AuthConfig) CommandArgs(primaryURL, legacyURL string) []string {
	args := []string{
		"--port", strconv.Itoa(c.Port),
		"--host", c.Host,
		"--mode", "http",
		"--endpoint", primaryURL,
		"--sse-url", legacyURL,
	}
	if c.Mode == AuthModeOAuth {
		args = append(args, "--auth_type", "oauth")
	}
	for _, pair := range c.envPairs() {
		args = append(args, "--env", pair[0], pair[1])
	}
	return args
}

// isSecretKey reports whether an env key's value must never be logged.
func isSecretKey(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "secret") || strings.Contains(k, "key") || strings.Contains(k, "token")
}

// RedactArgs returns a copy of a sidecar command line with secret-bearing
// --env values masked. Safe to log.
func RedactArgs(args []string) []string {
	redacted := make([]string, len(args))
	copy(redacted, args)
	for i := 0; i+2 < len(redacted); i++ {
		if redacted[i] == "--env" && isSecretKey(redacted[i+1]) {
			redacted[i+2] = "[redacted]"
		}
	}
	return redacted
}
