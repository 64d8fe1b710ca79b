package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marcaudefroy/hot-api-mock/pkg/history"
	"github.com/marcaudefroy/hot-api-mock/pkg/mocks"
	"github.com/marcaudefroy/hot-api-mock/pkg/schema"
)

// HeaderPattern carries the pattern of the registration that answered.
const HeaderPattern = "X-Mock-Pattern"

// ReplyError is returned by RoundTrip when a matched reply function fails,
// panics, or produces a body that cannot be encoded or validated. Callers
// see it exactly like a transport failure.
type ReplyError struct {
	Method  mocks.Method
	Pattern string
	Err     error
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("mock %s %s: %v", e.Method, e.Pattern, e.Err)
}

func (e *ReplyError) Unwrap() error { return e.Err }

// Transport is an http.RoundTripper answering from a mock registry and
// forwarding everything else to the next transport.
type Transport struct {
	registry  mocks.Registry
	next      http.RoundTripper
	logger    *zap.Logger
	history   history.RegistryWriter
	validator schema.Validator
}

type Option func(*Transport)

// WithNext sets the transport used for unmatched requests.
func WithNext(rt http.RoundTripper) Option {
	return func(t *Transport) { t.next = rt }
}

func WithLogger(l *zap.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

func WithHistory(h history.RegistryWriter) Option {
	return func(t *Transport) { t.history = h }
}

// WithValidator enables body validation for registrations that name a schema.
func WithValidator(v schema.Validator) Option {
	return func(t *Transport) { t.validator = v }
}

func New(registry mocks.Registry, opts ...Option) *Transport {
	t := &Transport{
		registry: registry,
		next:     http.DefaultTransport,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Client returns an http.Client routed through t.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	match, ok := t.registry.FindMatch(mocks.Method(method), req.URL.Path)
	if !ok {
		t.logger.Debug("pass through", zap.String("method", req.Method), zap.String("url", req.URL.String()))
		resp, err := t.next.RoundTrip(req)
		t.record(req, match, resp, nil, err, false, start)
		return resp, err
	}

	resp, body, err := t.dispatch(req, match)
	t.record(req, match, resp, body, err, true, start)
	if err != nil {
		t.logger.Warn("mock failed",
			zap.String("method", req.Method),
			zap.String("url", req.URL.String()),
			zap.String("pattern", match.Registration.Pattern),
			zap.Error(err))
		return nil, err
	}
	t.logger.Debug("mocked",
		zap.String("method", req.Method),
		zap.String("url", req.URL.String()),
		zap.String("pattern", match.Registration.Pattern),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))
	return resp, nil
}

func (t *Transport) dispatch(req *http.Request, match mocks.Match) (*http.Response, []byte, error) {
	ctx := req.Context()
	reg := match.Registration
	fail := func(err error) (*http.Response, []byte, error) {
		return nil, nil, &ReplyError{Method: reg.Method, Pattern: reg.Pattern, Err: err}
	}

	mreq, err := newRequest(req, match)
	if err != nil {
		return fail(err)
	}

	if reg.Delay > 0 {
		timer := time.NewTimer(reg.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, nil, ctx.Err()
		case <-timer.C:
		}
	}

	type result struct {
		reply mocks.Reply
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				t.logger.Error("reply panicked", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
				done <- result{err: fmt.Errorf("reply panicked: %v", p)}
			}
		}()
		reply, err := reg.Reply(ctx, mreq)
		done <- result{reply: reply, err: err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case res = <-done:
	}
	if res.err != nil {
		return fail(res.err)
	}
	// a reply that raced with cancellation is not delivered
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	body, jsonBody, err := encodeBody(res.reply.Body)
	if err != nil {
		return fail(err)
	}
	if reg.Schema != "" && t.validator != nil {
		if err := t.validator.Validate(reg.Schema, body); err != nil {
			return fail(err)
		}
	}
	return newResponse(req, reg, res.reply, body, jsonBody), body, nil
}

func newRequest(req *http.Request, match mocks.Match) (*mocks.Request, error) {
	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		defer req.Body.Close()
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		body = b
	}
	return &mocks.Request{
		Method:     match.Registration.Method,
		URL:        req.URL,
		Path:       req.URL.Path,
		Segments:   strings.FieldsFunc(req.URL.Path, func(r rune) bool { return r == '/' }),
		PathParams: match.PathParams,
		Query:      req.URL.Query(),
		Header:     req.Header.Clone(),
		Body:       body,
	}, nil
}

func encodeBody(v any) (body []byte, isJSON bool, err error) {
	switch b := v.(type) {
	case nil:
		return nil, false, nil
	case []byte:
		return b, false, nil
	case string:
		return []byte(b), false, nil
	case json.RawMessage:
		return b, true, nil
	}
	body, err = json.Marshal(v)
	if err != nil {
		return nil, false, fmt.Errorf("encode reply body: %w", err)
	}
	return body, true, nil
}

func newResponse(req *http.Request, reg mocks.Registration, reply mocks.Reply, body []byte, isJSON bool) *http.Response {
	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	header := reply.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if isJSON && header.Get("Content-Type") == "" {
		header.Set("Content-Type", "application/json")
	}
	header.Set("Content-Length", strconv.Itoa(len(body)))
	header.Set(HeaderPattern, reg.Pattern)

	// HEAD keeps the length of the body it would have sent, without the body.
	var rc io.ReadCloser = io.NopCloser(bytes.NewReader(body))
	if req.Method == http.MethodHead {
		rc = http.NoBody
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          rc,
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

func (t *Transport) record(req *http.Request, match mocks.Match, resp *http.Response, body []byte, err error, mocked bool, start time.Time) {
	if t.history == nil {
		return
	}
	h := history.History{
		ID:       uuid.NewString(),
		Date:     start,
		Duration: time.Since(start),
		Mocked:   mocked,
		Request: history.Request{
			Method:     req.Method,
			URL:        req.URL.String(),
			Pattern:    match.Registration.Pattern,
			PathParams: match.PathParams,
		},
	}
	if resp != nil {
		h.Response.Status = resp.StatusCode
		h.Response.PayloadString = string(body)
	}
	if err != nil {
		h.Error = err.Error()
	}
	t.history.RegisterHistory(h)
}

var _ http.RoundTripper = (*Transport)(nil)

