package proxy

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

var ErrNoUpstream = errors.New("no mock and no upstream")

// Proxy forwards calls without a mock to an upstream backend. Scheme and
// host are rewritten; path, query, headers and body are kept.
type Proxy struct {
	target *url.URL
	base   http.RoundTripper
	logger *zap.Logger
}

// New creates a Proxy for the given backend base URL. A path on the target
// is used as a prefix.
func New(target string, logger *zap.Logger) (*Proxy, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse upstream %q: %w", target, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("upstream %q: want an absolute http(s) url", target)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Proxy{target: u, base: http.DefaultTransport, logger: logger}, nil
}

func (p *Proxy) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL.Scheme = p.target.Scheme
	out.URL.Host = p.target.Host
	if prefix := strings.TrimSuffix(p.target.Path, "/"); prefix != "" {
		out.URL.Path = prefix + req.URL.Path
		out.URL.RawPath = ""
	}
	out.Host = p.target.Host
	out.RequestURI = ""

	p.logger.Debug("proxying", zap.String("method", req.Method), zap.String("url", out.URL.String()))
	resp, err := p.base.RoundTrip(out)
	if err != nil {
		return nil, fmt.Errorf("proxy %s %s: %w", req.Method, out.URL, err)
	}
	return resp, nil
}

// NotFound answers every request with a 404 JSON error. It stands in for
// the real transport when no upstream is configured.
func NotFound() http.RoundTripper {
	return notFound{}
}

type notFound struct{}

func (notFound) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
	rec := httptest.NewRecorder()
	rec.Header().Set("Content-Type", "application/json")
	rec.WriteHeader(http.StatusNotFound)
	_, _ = fmt.Fprintf(rec, "{\"error\":%q}\n", ErrNoUpstream.Error())
	resp := rec.Result()
	resp.Request = req
	return resp, nil
}
