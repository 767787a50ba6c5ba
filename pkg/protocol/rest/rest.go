// Package rest implements the restJson1 and restXml protocols, which address
// operations by HTTP method and URI template.
package rest

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/nimburion/rpcserver/pkg/pipeline"
	"github.com/nimburion/rpcserver/pkg/protocol"
	"github.com/nimburion/rpcserver/pkg/routing"
)

// Protocol names.
const (
	NameJSON = "restJson1"
	NameXML  = "restXml"
)

// Protocol is a REST protocol flavour.
type Protocol struct {
	name        string
	contentType string
	encode      func(protocol.Fault) ([]byte, error)
}

// NewJSON returns the restJson1 protocol.
func NewJSON() *Protocol {
	return &Protocol{name: NameJSON, contentType: "application/json", encode: encodeJSON}
}

// NewXML returns the restXml protocol.
func NewXML() *Protocol {
	return &Protocol{name: NameXML, contentType: "application/xml", encode: encodeXML}
}

// Name returns the protocol identifier.
func (p *Protocol) Name() string {
	return p.name
}

// ContentType returns the media type of error bodies.
func (p *Protocol) ContentType() string {
	return p.contentType
}

// Compile parses every target as a URI template. Templates that differ only
// in label names would match the same requests and are rejected.
func (p *Protocol) Compile(targets []string) (routing.Matcher, error) {
	templates := make([]*Template, 0, len(targets))
	shapes := make(map[string]string, len(targets))
	for _, target := range targets {
		t, err := ParseTemplate(target)
		if err != nil {
			return nil, fmt.Errorf("template %q: %w", target, err)
		}
		shape := t.shape()
		if other, clash := shapes[shape]; clash {
			return nil, fmt.Errorf("templates %q and %q match the same requests", other, target)
		}
		shapes[shape] = target
		templates = append(templates, t)
	}
	sort.SliceStable(templates, func(i, j int) bool {
		return moreSpecific(templates[i], templates[j])
	})
	return matcher(templates), nil
}

type matcher []*Template

// Match returns every template matching the request, most specific first.
func (m matcher) Match(req *http.Request) []routing.Candidate {
	if req.URL == nil {
		return nil
	}
	path := req.URL.EscapedPath()
	if path == "" {
		path = "/"
	}
	query := req.URL.Query()

	var candidates []routing.Candidate
	for _, t := range m {
		labels, ok := t.Match(path, query)
		if !ok {
			continue
		}
		candidates = append(candidates, routing.Candidate{Target: t.raw, Params: labels})
	}
	return candidates
}

// Render converts err into an error response in the protocol's encoding.
func (p *Protocol) Render(err error) *pipeline.Response {
	return protocol.Render(p, err)
}

// EncodeError serializes f. The error type travels in the X-Amzn-Errortype
// header; the body adds the message for operation errors.
func (p *Protocol) EncodeError(f protocol.Fault) ([]byte, error) {
	return p.encode(f)
}

type jsonError struct {
	Message string `json:"message,omitempty"`
}

func encodeJSON(f protocol.Fault) ([]byte, error) {
	return json.Marshal(jsonError{Message: f.Message})
}

type xmlErrorResponse struct {
	XMLName xml.Name `xml:"ErrorResponse"`
	Error   xmlError `xml:"Error"`
}

type xmlError struct {
	Code    string `xml:"Code"`
	Message string `xml:"Message,omitempty"`
}

func encodeXML(f protocol.Fault) ([]byte, error) {
	return xml.Marshal(xmlErrorResponse{Error: xmlError{Code: f.Type, Message: f.Message}})
}

func (t *Template) shape() string {
	var b strings.Builder
	for _, seg := range t.segments {
		b.WriteByte('/')
		switch {
		case seg.greedy:
			b.WriteString("{+}")
		case seg.label != "":
			b.WriteString("{}")
		default:
			b.WriteString(seg.literal)
		}
	}
	query := make([]string, 0, len(t.query))
	for _, q := range t.query {
		if q.hasValue {
			query = append(query, q.key+"="+q.value)
		} else {
			query = append(query, q.key)
		}
	}
	sort.Strings(query)
	return b.String() + "?" + strings.Join(query, "&")
}
