package mocks

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Registry stores handler registrations and resolves requests against them.
//
// Registrations are additive and never removed. When several registrations
// match the same request, the one registered last wins, so a later
// registration shadows an earlier default without a removal API.
type Registry interface {
	Register(method Method, pattern string) *HandlerBuilder
	OnGet(pattern string) *HandlerBuilder
	OnPost(pattern string) *HandlerBuilder
	OnPut(pattern string) *HandlerBuilder
	OnPatch(pattern string) *HandlerBuilder
	OnDelete(pattern string) *HandlerBuilder
	OnJSONP(pattern string) *HandlerBuilder
	OnHead(pattern string) *HandlerBuilder
	OnOptions(pattern string) *HandlerBuilder

	// FindMatch returns the winning registration for method and path.
	FindMatch(method Method, path string) (Match, bool)
	// Registrations lists armed registrations in registration order.
	Registrations() []Registration
	// Err joins every configuration error seen so far.
	Err() error
}

// Registration binds (method, pattern) to a reply function.
type Registration struct {
	Seq     int
	Method  Method
	Pattern string
	Delay   time.Duration
	Schema  string
	Reply   ReplyFunc

	compiled *pattern
}

// Match is the result of a successful lookup.
type Match struct {
	Registration Registration
	PathParams   map[string]string
}

type DefaultRegistry struct {
	registrations   []*Registration
	registrationsMu sync.RWMutex

	errs []error
}

func NewRegistry() *DefaultRegistry {
	return &DefaultRegistry{}
}

// Register stores a new registration whose reply is attached later by the
// returned builder. Invalid input is recorded and surfaced by Err and Reply.
func (r *DefaultRegistry) Register(method Method, raw string) *HandlerBuilder {
	b := &HandlerBuilder{registry: r}
	if !method.Valid() {
		b.err = fmt.Errorf("register %s %s: %w", method, raw, ErrUnsupportedMethod)
	}
	compiled, err := compilePattern(raw)
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("register %s %q: %w", method, raw, err)
	}

	r.registrationsMu.Lock()
	defer r.registrationsMu.Unlock()
	if b.err != nil {
		r.errs = append(r.errs, b.err)
		return b
	}
	reg := &Registration{
		Seq:      len(r.registrations),
		Method:   method,
		Pattern:  raw,
		compiled: compiled,
	}
	r.registrations = append(r.registrations, reg)
	b.reg = reg
	return b
}

func (r *DefaultRegistry) OnGet(p string) *HandlerBuilder     { return r.Register(MethodGet, p) }
func (r *DefaultRegistry) OnPost(p string) *HandlerBuilder    { return r.Register(MethodPost, p) }
func (r *DefaultRegistry) OnPut(p string) *HandlerBuilder     { return r.Register(MethodPut, p) }
func (r *DefaultRegistry) OnPatch(p string) *HandlerBuilder   { return r.Register(MethodPatch, p) }
func (r *DefaultRegistry) OnDelete(p string) *HandlerBuilder  { return r.Register(MethodDelete, p) }
func (r *DefaultRegistry) OnJSONP(p string) *HandlerBuilder   { return r.Register(MethodJSONP, p) }
func (r *DefaultRegistry) OnHead(p string) *HandlerBuilder    { return r.Register(MethodHead, p) }
func (r *DefaultRegistry) OnOptions(p string) *HandlerBuilder { return r.Register(MethodOptions, p) }

// FindMatch scans from the most recent registration backwards; the first
// hit is therefore the last registered one.
func (r *DefaultRegistry) FindMatch(method Method, path string) (Match, bool) {
	segs := splitPath(path)

	r.registrationsMu.RLock()
	defer r.registrationsMu.RUnlock()
	for i := len(r.registrations) - 1; i >= 0; i-- {
		reg := r.registrations[i]
		if reg.Reply == nil || reg.Method != method {
			continue
		}
		if params, ok := reg.compiled.match(segs); ok {
			return Match{Registration: *reg, PathParams: params}, true
		}
	}
	return Match{}, false
}

func (r *DefaultRegistry) Registrations() []Registration {
	r.registrationsMu.RLock()
	defer r.registrationsMu.RUnlock()
	out := make([]Registration, 0, len(r.registrations))
	for _, reg := range r.registrations {
		if reg.Reply != nil {
			out = append(out, *reg)
		}
	}
	return out
}

func (r *DefaultRegistry) Err() error {
	r.registrationsMu.RLock()
	defer r.registrationsMu.RUnlock()
	return errors.Join(r.errs...)
}

func (r *DefaultRegistry) fail(err error) {
	r.registrationsMu.Lock()
	r.errs = append(r.errs, err)
	r.registrationsMu.Unlock()
}

// HandlerBuilder attaches a reply (and options) to a registration.
type HandlerBuilder struct {
	registry *DefaultRegistry
	reg      *Registration
	err      error
}

// Delay sets the simulated latency applied before the reply is delivered.
func (b *HandlerBuilder) Delay(d time.Duration) *HandlerBuilder {
	if b.reg != nil && d > 0 {
		b.registry.registrationsMu.Lock()
		b.reg.Delay = d
		b.registry.registrationsMu.Unlock()
	}
	return b
}

// Schema names a protobuf message the reply body must conform to.
func (b *HandlerBuilder) Schema(fullName string) *HandlerBuilder {
	if b.reg != nil {
		b.registry.registrationsMu.Lock()
		b.reg.Schema = fullName
		b.registry.registrationsMu.Unlock()
	}
	return b
}

// Reply arms the registration. It returns the configuration error of the
// registration, if any.
func (b *HandlerBuilder) Reply(fn ReplyFunc) error {
	if b.err != nil {
		return b.err
	}
	if fn == nil {
		b.err = fmt.Errorf("register %s %q: %w", b.reg.Method, b.reg.Pattern, ErrNoReply)
		b.registry.fail(b.err)
		return b.err
	}
	b.registry.registrationsMu.Lock()
	b.reg.Reply = fn
	b.registry.registrationsMu.Unlock()
	return nil
}

func (b *HandlerBuilder) ReplyStatic(status int, body any) error {
	return b.Reply(Static(status, body))
}
