package copilotauth

import (
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newHTTPTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen test server: %v", err)
	}

	server := httptest.NewUnstartedServer(handler)
	server.Listener = l
	server.Start()
	t.Cleanup(server.Close)
	return server
}

// newTokenServer answers every request with the given status and body and counts calls.
func newTokenServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	server := newHTTPTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	return server, &calls
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var testSession = Session{
	Product:       "codex-cli",
	Version:       "1.2.3",
	IntegrationID: "codex_cli_ts",
}

func newTestCache(t *testing.T, endpoint, personalToken string, clock *fakeClock) *HeaderCache {
	t.Helper()
	fetcher := NewTokenFetcher(TokenFetcherOptions{
		Endpoint:   endpoint,
		Session:    testSession,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	})
	opts := HeaderCacheOptions{
		PersonalToken: personalToken,
		Fetcher:       fetcher,
	}
	if clock != nil {
		opts.Now = clock.Now
	}
	cache, err := NewHeaderCache(opts)
	if err != nil {
		t.Fatalf("new header cache: %v", err)
	}
	return cache
}
