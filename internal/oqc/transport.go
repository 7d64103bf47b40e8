package oqc

import (
	"log/slog"
	"net/http"
	"time"

	"oqcpipe/internal/logging"
)

// tokenTransport sets the OpenQualityChecker "token" header on every request.
// The API does not use bearer auth, so oauth2.Transport cannot be reused here.
type tokenTransport struct {
	token string
	base  http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("token", t.token)
	return t.base.RoundTrip(r)
}

// loggingRoundTripper emits one debug line per request and response
// (including latency). The token header is never logged.
type loggingRoundTripper struct {
	base   http.RoundTripper
	logger *slog.Logger
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	log := logging.FromContext(req.Context(), t.logger)
	log.Debug("openqualitychecker api request", "method", req.Method, "url", req.URL.String())
	resp, err := t.base.RoundTrip(req)
	dur := time.Since(start).Truncate(time.Millisecond)
	if err != nil {
		log.Debug("openqualitychecker api error", "duration", dur, "error", err)
		return resp, err
	}
	log.Debug("openqualitychecker api response", "status", resp.StatusCode, "duration", dur)
	return resp, err
}
