package copilotauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const maxResponseSize = 1 << 20 // 1MB limit for token responses

// CopilotToken is the short-lived bearer credential returned by the token endpoint.
type CopilotToken struct {
	Token     string
	ExpiresAt time.Time
}

// TokenFetcher exchanges a personal token for a Copilot bearer token
type TokenFetcher struct {
	endpoint   string
	session    Session
	httpClient *http.Client
}

// TokenFetcherOptions configures the fetcher
type TokenFetcherOptions struct {
	Endpoint   string
	Session    Session
	HTTPClient *http.Client
}

// NewTokenFetcher creates a new Copilot token fetcher
func NewTokenFetcher(opts TokenFetcherOptions) *TokenFetcher {
	if opts.Endpoint == "" {
		opts.Endpoint = defaultTokenEndpoint
	}
	if opts.Session == (Session{}) {
		opts.Session = DefaultSession()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	return &TokenFetcher{
		endpoint:   opts.Endpoint,
		session:    opts.Session,
		httpClient: opts.HTTPClient,
	}
}

func (f *TokenFetcher) Session() Session { return f.session }

// Fetch performs one token exchange. It never retries.
func (f *TokenFetcher) Fetch(ctx context.Context, personalToken string) (*CopilotToken, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	for key, value := range f.session.PreliminaryHeaders(personalToken) {
		req.Header.Set(key, value)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		return nil, &TransportError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}

	var tokenResp struct {
		Token     string          `json:"token"`
		ExpiresAt json.RawMessage `json:"expires_at"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&tokenResp); err != nil {
		return nil, &ParseError{Err: err}
	}
	if tokenResp.Token == "" {
		return nil, &ParseError{Field: "token", Err: errors.New("missing")}
	}

	expiresAt, err := parseExpiry(tokenResp.ExpiresAt)
	if err != nil {
		return nil, &ParseError{Field: "expires_at", Err: err}
	}

	return &CopilotToken{
		Token:     tokenResp.Token,
		ExpiresAt: expiresAt,
	}, nil
}

// Layouts with an explicit zone, and date-only forms, are read as UTC. Date-time forms
// without a zone are read in the local zone.
var (
	zonedExpiryLayouts = []string{
		time.RFC3339Nano,
		time.RFC1123,
		time.RFC1123Z,
		time.DateOnly,
		"2006-01",
		"2006",
	}
	localExpiryLayouts = []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04",
	}
)

// Unix seconds outside [0001-01-01, 9999-12-31] are rejected.
const (
	minUnixSeconds = -62135596800
	maxUnixSeconds = 253402300799
)

// parseExpiry accepts a date/time string, or Unix seconds as a number or numeric string.
func parseExpiry(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, errors.New("missing")
	}

	if raw[0] != '"' {
		var seconds json.Number
		if err := json.Unmarshal(raw, &seconds); err != nil {
			return time.Time{}, err
		}
		return unixSeconds(seconds.String())
	}

	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return time.Time{}, err
	}
	text = strings.TrimSpace(text)
	for _, layout := range zonedExpiryLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t, nil
		}
	}
	for _, layout := range localExpiryLayouts {
		if t, err := time.ParseInLocation(layout, text, time.Local); err == nil {
			return t, nil
		}
	}
	if t, err := unixSeconds(text); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", text)
}

func unixSeconds(text string) (time.Time, error) {
	seconds, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return time.Time{}, err
	}
	// Negated so NaN fails too.
	if !(seconds >= minUnixSeconds && seconds <= maxUnixSeconds) {
		return time.Time{}, fmt.Errorf("unix timestamp %s out of range", text)
	}
	return time.UnixMilli(int64(math.Round(seconds * 1000))), nil
}
