package copilotauth

import "fmt"

// ConfigurationError reports a required setting that is absent. It is never retried.
type ConfigurationError struct {
	Variable string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("required environment variable %s not set", e.Variable)
}

// TransportError is returned when the token endpoint answers with a non-2xx status.
type TransportError struct {
	StatusCode int
	Body       string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("fetch copilot token failed (%d): %s", e.StatusCode, e.Body)
}

// ParseError wraps a malformed token response.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("decode copilot token response: %v", e.Err)
	}
	return fmt.Sprintf("decode copilot token response: %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
