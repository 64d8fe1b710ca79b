package mocks

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidPattern = errors.New("invalid url pattern")

type segmentKind int

const (
	segLiteral segmentKind = iota
	segParam
	segCatchAll
)

type segment struct {
	kind  segmentKind
	value string // literal text or parameter name
}

// pattern is the compiled form of a url pattern.
//
//	/api/summary                 literal
//	/api/device/:wwn/details     :name parameter
//	/api/zfs/pool/{guid}/label   {name} parameter
//	/static/*  /static/*rest  /static/{rest...}   trailing catch-all
type pattern struct {
	raw      string
	segments []segment
}

func splitPath(p string) []string {
	return strings.Split(strings.Trim(p, "/"), "/")
}

func compilePattern(raw string) (*pattern, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrEmptyPattern
	}
	path := raw
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	parts := splitPath(path)
	p := &pattern{raw: raw, segments: make([]segment, 0, len(parts))}
	for i, part := range parts {
		seg, err := compileSegment(part)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidPattern, raw, err)
		}
		if seg.kind == segCatchAll && i != len(parts)-1 {
			return nil, fmt.Errorf("%w %q: catch-all must be the last segment", ErrInvalidPattern, raw)
		}
		p.segments = append(p.segments, seg)
	}
	return p, nil
}

func compileSegment(part string) (segment, error) {
	switch {
	case part == "*":
		return segment{kind: segCatchAll, value: "*"}, nil
	case strings.HasPrefix(part, "*"):
		return segment{kind: segCatchAll, value: part[1:]}, nil
	case strings.HasPrefix(part, ":"):
		if len(part) == 1 {
			return segment{}, errors.New("parameter without a name")
		}
		return segment{kind: segParam, value: part[1:]}, nil
	case strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}"):
		name := part[1 : len(part)-1]
		if rest, ok := strings.CutSuffix(name, "..."); ok {
			if rest == "" {
				return segment{}, errors.New("catch-all without a name")
			}
			return segment{kind: segCatchAll, value: rest}, nil
		}
		if name == "" {
			return segment{}, errors.New("parameter without a name")
		}
		return segment{kind: segParam, value: name}, nil
	}
	return segment{kind: segLiteral, value: part}, nil
}

// match compares the request path segment by segment. On success it
// returns the captured parameters (never nil).
func (p *pattern) match(segs []string) (map[string]string, bool) {
	params := map[string]string{}
	for i, seg := range p.segments {
		if seg.kind == segCatchAll {
			rest := segs[min(i, len(segs)):]
			if len(rest) == 0 || (len(rest) == 1 && rest[0] == "") {
				return nil, false
			}
			params[seg.value] = strings.Join(rest, "/")
			return params, true
		}
		if i >= len(segs) {
			return nil, false
		}
		switch seg.kind {
		case segLiteral:
			if seg.value != segs[i] {
				return nil, false
			}
		case segParam:
			if segs[i] == "" {
				return nil, false
			}
			params[seg.value] = segs[i]
		}
	}
	if len(segs) != len(p.segments) {
		return nil, false
	}
	return params, true
}
