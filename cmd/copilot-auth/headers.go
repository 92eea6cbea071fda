package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"copilot-auth/internal/copilotauth"
)

// writeHeaders fetches the Copilot headers once and writes them to w as indented JSON.
func writeHeaders(ctx context.Context, source copilotauth.HeaderSource, w io.Writer) error {
	headers, err := source.Headers(ctx)
	if err != nil {
		return fmt.Errorf("fetch copilot headers: %w", err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(headers); err != nil {
		return fmt.Errorf("write headers: %w", err)
	}
	return nil
}
