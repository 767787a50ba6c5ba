package rest

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// Template is a parsed URI template such as "/{Bucket}/{Key+}?x-id=GetObject".
type Template struct {
	raw      string
	segments []segment
	query    []queryLiteral
}

type segment struct {
	literal string
	label   string
	greedy  bool
}

type queryLiteral struct {
	key      string
	value    string
	hasValue bool
}

// ParseTemplate parses a URI template. Labels must be whole segments, a
// greedy label may only appear last and label names must be unique.
func ParseTemplate(raw string) (*Template, error) {
	path, query, _ := strings.Cut(raw, "?")
	if !strings.HasPrefix(path, "/") {
		return nil, errors.New("template path must start with /")
	}

	t := &Template{raw: raw}
	labels := make(map[string]struct{})
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed != "" {
		parts := strings.Split(trimmed, "/")
		for i, part := range parts {
			seg, err := parseSegment(part)
			if err != nil {
				return nil, err
			}
			if seg.greedy && i != len(parts)-1 {
				return nil, fmt.Errorf("greedy label {%s+} must be the last segment", seg.label)
			}
			if seg.label != "" {
				if _, dup := labels[seg.label]; dup {
					return nil, fmt.Errorf("label %q appears twice", seg.label)
				}
				labels[seg.label] = struct{}{}
			}
			t.segments = append(t.segments, seg)
		}
	}

	if query != "" {
		for _, pair := range strings.Split(query, "&") {
			key, value, hasValue := strings.Cut(pair, "=")
			if key == "" {
				return nil, fmt.Errorf("empty query literal in %q", query)
			}
			if strings.ContainsAny(pair, "{}") {
				return nil, errors.New("query labels are not part of the route")
			}
			t.query = append(t.query, queryLiteral{key: key, value: value, hasValue: hasValue})
		}
	}
	return t, nil
}

func parseSegment(part string) (segment, error) {
	if part == "" {
		return segment{}, errors.New("empty path segment")
	}
	if !strings.HasPrefix(part, "{") {
		if strings.ContainsAny(part, "{}") {
			return segment{}, fmt.Errorf("label in %q must span the whole segment", part)
		}
		return segment{literal: part}, nil
	}
	if !strings.HasSuffix(part, "}") {
		return segment{}, fmt.Errorf("unterminated label %q", part)
	}
	name := part[1 : len(part)-1]
	greedy := strings.HasSuffix(name, "+")
	name = strings.TrimSuffix(name, "+")
	if name == "" || strings.ContainsAny(name, "{}+") {
		return segment{}, fmt.Errorf("invalid label %q", part)
	}
	return segment{label: name, greedy: greedy}, nil
}

// String returns the template as registered.
func (t *Template) String() string {
	return t.raw
}

// Match binds the template against an escaped path and the request query.
func (t *Template) Match(escapedPath string, query url.Values) (map[string]string, bool) {
	var parts []string
	if trimmed := strings.TrimPrefix(escapedPath, "/"); trimmed != "" {
		parts = strings.Split(trimmed, "/")
	}

	var labels map[string]string
	bind := func(name, value string) {
		if labels == nil {
			labels = make(map[string]string)
		}
		labels[name] = value
	}

	for i, seg := range t.segments {
		if seg.greedy {
			if i >= len(parts) {
				return nil, false
			}
			rest, err := url.PathUnescape(strings.Join(parts[i:], "/"))
			if err != nil || strings.Trim(rest, "/") == "" {
				return nil, false
			}
			bind(seg.label, rest)
			break
		}
		if i >= len(parts) {
			return nil, false
		}
		value, err := url.PathUnescape(parts[i])
		if err != nil {
			return nil, false
		}
		if seg.label == "" {
			if value != seg.literal {
				return nil, false
			}
			continue
		}
		if value == "" {
			return nil, false
		}
		bind(seg.label, value)
	}
	if !t.greedy() && len(parts) != len(t.segments) {
		return nil, false
	}

	for _, q := range t.query {
		values, ok := query[q.key]
		if !ok {
			return nil, false
		}
		if q.hasValue && !slices.Contains(values, q.value) {
			return nil, false
		}
	}
	return labels, true
}

func (t *Template) greedy() bool {
	return len(t.segments) > 0 && t.segments[len(t.segments)-1].greedy
}

func (t *Template) literals() int {
	n := 0
	for _, seg := range t.segments {
		if seg.label == "" {
			n++
		}
	}
	return n
}

// moreSpecific orders templates so that the most constrained match wins.
func moreSpecific(a, b *Template) bool {
	if a.literals() != b.literals() {
		return a.literals() > b.literals()
	}
	if len(a.query) != len(b.query) {
		return len(a.query) > len(b.query)
	}
	if a.greedy() != b.greedy() {
		return !a.greedy()
	}
	if len(a.segments) != len(b.segments) {
		return len(a.segments) > len(b.segments)
	}
	return a.raw < b.raw
}
