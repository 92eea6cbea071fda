package copilotauth

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// parseLogLevel accepts zap level names in any case; empty means info.
func parseLogLevel(level string) (zapcore.Level, error) {
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	return zapcore.ParseLevel(strings.ToLower(level))
}

func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := parseLogLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// maskToken masks a token for safe logging, showing only a short prefix.
func maskToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:8] + "..."
}

// sanitizeHeaders returns a copy of src that is safe to log.
func sanitizeHeaders(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	for _, key := range []string{"Authorization", "Proxy-Authorization"} {
		if val := dst.Get(key); val != "" {
			dst.Set(key, maskToken(val))
		}
	}
	return dst
}

// sanitizeHeaderMap is sanitizeHeaders for the plain mappings HeaderCache produces.
func sanitizeHeaderMap(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		if strings.EqualFold(k, "Authorization") {
			v = maskToken(v)
		}
		dst[k] = v
	}
	return dst
}
