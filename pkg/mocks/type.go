package mocks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Method is one of the HTTP verbs a registration can be bound to.
type Method string

const (
	MethodGet     Method = http.MethodGet
	MethodPost    Method = http.MethodPost
	MethodPut     Method = http.MethodPut
	MethodPatch   Method = http.MethodPatch
	MethodDelete  Method = http.MethodDelete
	MethodJSONP   Method = "JSONP"
	MethodHead    Method = http.MethodHead
	MethodOptions Method = http.MethodOptions
)

var (
	ErrEmptyPattern      = errors.New("empty url pattern")
	ErrUnsupportedMethod = errors.New("unsupported method")
	ErrNoReply           = errors.New("reply function is nil")
)

var methods = []Method{
	MethodGet, MethodPost, MethodPut, MethodPatch,
	MethodDelete, MethodJSONP, MethodHead, MethodOptions,
}

// Methods returns the supported verbs.
func Methods() []Method {
	out := make([]Method, len(methods))
	copy(out, methods)
	return out
}

// Valid reports whether m belongs to the supported set.
func (m Method) Valid() bool {
	for _, known := range methods {
		if m == known {
			return true
		}
	}
	return false
}

// ParseMethod is case-insensitive.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToUpper(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMethod, s)
	}
	return m, nil
}

// Request is the view of an intercepted call handed to a ReplyFunc.
// It only lives for the duration of one dispatch.
type Request struct {
	Method     Method
	URL        *url.URL
	Path       string
	Segments   []string
	PathParams map[string]string
	Query      url.Values
	Header     http.Header
	Body       []byte
}

// Param returns the captured path parameter, or "" when absent.
func (r *Request) Param(name string) string {
	return r.PathParams[name]
}

// DecodeBody decodes the JSON body of req into a T. Unknown fields are rejected.
func DecodeBody[T any](req *Request) (T, error) {
	var v T
	if len(req.Body) == 0 {
		return v, errors.New("empty request body")
	}
	dec := json.NewDecoder(bytes.NewReader(req.Body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, fmt.Errorf("decode body: %w", err)
	}
	return v, nil
}

// Reply is what a handler answers with. Body is encoded by the dispatcher:
// nil gives an empty body, []byte and string are written as is, anything
// else is marshaled to JSON.
type Reply struct {
	Status int
	Body   any
	Header http.Header
}

// ReplyFunc produces the simulated response for a matched request. It may
// block, and must return when ctx is done.
type ReplyFunc func(ctx context.Context, req *Request) (Reply, error)

// Static always answers with the same status and body.
func Static(status int, body any) ReplyFunc {
	return func(context.Context, *Request) (Reply, error) {
		return Reply{Status: status, Body: body}, nil
	}
}

// Status answers with an empty body.
func Status(status int) ReplyFunc {
	return Static(status, nil)
}

// JSON adapts a typed handler so each endpoint keeps its own body type.
func JSON[T any](fn func(ctx context.Context, req *Request) (int, T, error)) ReplyFunc {
	return func(ctx context.Context, req *Request) (Reply, error) {
		status, body, err := fn(ctx, req)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Status: status, Body: body}, nil
	}
}
