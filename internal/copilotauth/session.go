package copilotauth

import "fmt"

const (
	// Copilot token exchange and API constants
	defaultTokenEnv      = "GITHUB_COPILOT_TOKEN"
	defaultTokenEndpoint = "https://api.github.com/copilot_internal/v2/token"
	defaultAPIBaseURL    = "https://api.githubcopilot.com"
	defaultProduct       = "codex-cli"
	defaultIntegrationID = "codex_cli_ts"
)

// Version is stamped at build time with -ldflags "-X copilot-auth/internal/copilotauth.Version=...".
var Version = "0.1.0"

// Session identifies this client to the token endpoint and the Copilot API.
type Session struct {
	Product       string `json:"product" yaml:"product"`
	Version       string `json:"version" yaml:"version"`
	IntegrationID string `json:"integration_id" yaml:"integration_id"`
}

func DefaultSession() Session {
	return Session{
		Product:       defaultProduct,
		Version:       Version,
		IntegrationID: defaultIntegrationID,
	}
}

func (s Session) UserAgent() string {
	return fmt.Sprintf("%s/%s", s.Product, s.Version)
}

// PreliminaryHeaders are sent to the token endpoint with the personal token.
func (s Session) PreliminaryHeaders(personalToken string) map[string]string {
	headers := s.editorHeaders()
	headers["Authorization"] = "Token " + personalToken
	headers["User-Agent"] = s.UserAgent()
	return headers
}

// BearerHeaders are the headers handed to callers of the Copilot API.
func (s Session) BearerHeaders(token string) map[string]string {
	headers := s.editorHeaders()
	headers["Authorization"] = "Bearer " + token
	return headers
}

func (s Session) editorHeaders() map[string]string {
	return map[string]string{
		"Editor-Version":         s.Version,
		"Editor-Plugin-Version":  s.Version,
		"Copilot-Integration-Id": s.IntegrationID,
	}
}
