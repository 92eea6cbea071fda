package copilotauth

import (
	"net/http"

	"go.uber.org/zap"
)

// NewHeaderCacheFromConfig wires a fetcher and a header cache from configuration. The
// personal token is read from the environment here, once, and injected into the cache.
func NewHeaderCacheFromConfig(cfg Config, httpClient *http.Client, logger *zap.Logger) (*HeaderCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout.Duration}
	}

	fetcher := NewTokenFetcher(TokenFetcherOptions{
		Endpoint:   cfg.TokenEndpoint,
		Session:    cfg.Session,
		HTTPClient: httpClient,
	})

	personalToken := cfg.PersonalToken()
	if personalToken == "" {
		// Not fatal yet: the first cache miss reports it as a ConfigurationError.
		logger.Warn("personal token not set", zap.String("env", cfg.TokenEnv))
	}

	return NewHeaderCache(HeaderCacheOptions{
		PersonalToken: personalToken,
		TokenEnv:      cfg.TokenEnv,
		Fetcher:       fetcher,
		Logger:        logger,
		RefreshMargin: cfg.RefreshMargin.Duration,
	})
}
