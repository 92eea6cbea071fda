package copilotauth

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxLoggedErrorBodyBytes = 4096

// Service forwards local requests to the Copilot API with cached Copilot headers attached.
type Service struct {
	base    *url.URL
	headers HeaderSource
	auth    *clientAuthenticator
	client  *http.Client
	logger  *zap.Logger
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (lrw *loggingResponseWriter) WriteHeader(status int) {
	lrw.status = status
	lrw.ResponseWriter.WriteHeader(status)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.bytes += int64(n)
	return n, err
}

func (lrw *loggingResponseWriter) Flush() {
	if f, ok := lrw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func NewService(cfg Config, headers HeaderSource, logger *zap.Logger) (*Service, error) {
	if headers == nil {
		return nil, errors.New("header source is required")
	}
	if logger == nil {
		var err error
		logger, err = NewLogger(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
	}

	base, err := url.Parse(cfg.APIBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse copilot api base url: %w", err)
	}

	client := &http.Client{
		Transport: &http.Transport{
			ForceAttemptHTTP2:     true,
			ResponseHeaderTimeout: cfg.RequestTimeout.Duration,
		},
	}

	return &Service{
		base:    base,
		headers: headers,
		auth:    newClientAuthenticator(cfg.Users),
		client:  client,
		logger:  logger,
	}, nil
}

func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	lrw := &loggingResponseWriter{ResponseWriter: w}
	userLabel := "anonymous"
	requestID := uuid.NewString()

	defer func() {
		status := lrw.status
		if status == 0 {
			status = http.StatusOK
		}
		s.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("remote", r.RemoteAddr),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("user", userLabel),
			zap.Int("status", status),
			zap.Int64("bytes", lrw.bytes),
			zap.Duration("duration", time.Since(start).Round(time.Millisecond)),
		)
	}()

	username, ok := s.auth.authenticate(r)
	if !ok {
		s.logger.Warn("authentication failed", zap.String("remote", r.RemoteAddr))
		http.Error(lrw, "unauthorized", http.StatusUnauthorized)
		return
	}
	if username != "" {
		userLabel = username
	}

	upstreamReq, err := http.NewRequestWithContext(r.Context(), r.Method, s.buildURL(r.URL.Path, r.URL.RawQuery), r.Body)
	if err != nil {
		s.logger.Error("build upstream request", zap.Error(err))
		http.Error(lrw, "bad request", http.StatusBadRequest)
		return
	}
	upstreamReq.ContentLength = r.ContentLength
	copyHeaders(upstreamReq.Header, r.Header)

	copilotHeaders, err := s.headers.Headers(r.Context())
	if err != nil {
		status, message := statusForHeaderError(err)
		s.logger.Error("copilot headers unavailable",
			zap.String("request_id", requestID),
			zap.Error(err),
			zap.Int("status", status),
		)
		http.Error(lrw, message, status)
		return
	}
	for key, value := range copilotHeaders {
		upstreamReq.Header.Set(key, value)
	}
	upstreamReq.Header.Set("X-Request-Id", requestID)
	s.logger.Debug("headers upstream", zap.Any("headers", sanitizeHeaders(upstreamReq.Header)))

	resp, err := s.client.Do(upstreamReq)
	if err != nil {
		s.logger.Error("upstream request", zap.Error(err), zap.String("host", upstreamReq.URL.Host))
		http.Error(lrw, "upstream error", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		if isHopByHop(key) {
			continue
		}
		lrw.Header()[key] = values
	}
	lrw.WriteHeader(resp.StatusCode)

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if strings.EqualFold(mediaType, "text/event-stream") {
		s.streamResponse(lrw, resp)
		return
	}

	copyWriter := io.Writer(lrw)
	var bodyTee *limitedBuffer
	if resp.StatusCode >= http.StatusBadRequest {
		bodyTee = &limitedBuffer{limit: maxLoggedErrorBodyBytes}
		copyWriter = io.MultiWriter(lrw, bodyTee)
	}
	if _, err := io.Copy(copyWriter, resp.Body); err != nil {
		s.logger.Warn("copy response", zap.Error(err))
	}

	if bodyTee != nil && bodyTee.buf.Len() > 0 {
		body := strings.TrimSpace(bodyTee.buf.String())
		if bodyTee.truncated {
			body += " ... (truncated)"
		}
		s.logger.Warn("upstream error response",
			zap.String("request_id", requestID),
			zap.String("path", r.URL.Path),
			zap.Int("status", resp.StatusCode),
			zap.String("message", body),
		)
	}
}

func (s *Service) buildURL(path, rawQuery string) string {
	u := *s.base
	u.Path = strings.TrimSuffix(s.base.Path, "/") + path
	u.RawQuery = rawQuery
	return u.String()
}

func (s *Service) streamResponse(w http.ResponseWriter, resp *http.Response) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.logger.Warn("streaming not supported")
		return
	}

	buffer := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buffer)
		if n > 0 {
			if _, writeErr := w.Write(buffer[:n]); writeErr != nil {
				s.logger.Warn("write streaming response", zap.Error(writeErr))
				return
			}
			flusher.Flush()
		}
		if err != nil {
			return
		}
	}
}

// statusForHeaderError maps a HeaderCache failure to what local clients see. Details
// stay in the log.
func statusForHeaderError(err error) (int, string) {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return http.StatusBadGateway, "copilot token exchange failed"
	}
	return http.StatusInternalServerError, "copilot credentials unavailable"
}

func isHopByHop(header string) bool {
	h := strings.ToLower(header)
	if strings.HasPrefix(h, "proxy-") {
		return true
	}
	switch h {
	case "connection", "keep-alive", "te", "trailers", "transfer-encoding", "upgrade", "host":
		return true
	default:
		return false
	}
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if isHopByHop(key) || strings.EqualFold(key, "Authorization") {
			continue
		}
		dst[key] = append([]string(nil), values...)
	}
}

type limitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (lb *limitedBuffer) Write(p []byte) (int, error) {
	remain := lb.limit - lb.buf.Len()
	switch {
	case remain <= 0:
		lb.truncated = true
	case len(p) <= remain:
		lb.buf.Write(p)
	default:
		lb.buf.Write(p[:remain])
		lb.truncated = true
	}
	return len(p), nil
}
