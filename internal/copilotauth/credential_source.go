package copilotauth

import "context"

// HeaderSource produces the headers for an authenticated Copilot API call.
type HeaderSource interface {
	Headers(ctx context.Context) (map[string]string, error)
}

var _ HeaderSource = (*HeaderCache)(nil)
