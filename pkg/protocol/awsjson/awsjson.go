// Package awsjson implements the awsJson1_0 and awsJson1_1 protocols.
//
// Every operation is addressed by the X-Amz-Target header ("Service.Operation")
// on a request to the root path.
package awsjson

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/nimburion/rpcserver/pkg/pipeline"
	"github.com/nimburion/rpcserver/pkg/protocol"
	"github.com/nimburion/rpcserver/pkg/routing"
)

// TargetHeader names the operation of an awsJson request.
const TargetHeader = "X-Amz-Target"

// Protocol names.
const (
	NameV10 = "awsJson1_0"
	NameV11 = "awsJson1_1"
)

// Protocol is an awsJson protocol version.
type Protocol struct {
	name        string
	contentType string
}

// New10 returns the awsJson1_0 protocol.
func New10() *Protocol {
	return &Protocol{name: NameV10, contentType: "application/x-amz-json-1.0"}
}

// New11 returns the awsJson1_1 protocol.
func New11() *Protocol {
	return &Protocol{name: NameV11, contentType: "application/x-amz-json-1.1"}
}

// Target builds the route target of an operation.
func Target(service, operation string) string {
	return service + "." + operation
}

// Name returns the protocol identifier.
func (p *Protocol) Name() string {
	return p.name
}

// ContentType returns the media type of request and response bodies.
func (p *Protocol) ContentType() string {
	return p.contentType
}

// Compile checks that every target is a valid header value.
func (p *Protocol) Compile(targets []string) (routing.Matcher, error) {
	known := make(map[string]struct{}, len(targets))
	for _, target := range targets {
		if target == "" || strings.ContainsAny(target, " \t\r\n/") {
			return nil, fmt.Errorf("target %q cannot be carried in %s", target, TargetHeader)
		}
		known[target] = struct{}{}
	}
	return matcher(known), nil
}

type matcher map[string]struct{}

// Match yields at most one candidate: the X-Amz-Target value, when the request
// addresses the root path and the target is known.
func (m matcher) Match(req *http.Request) []routing.Candidate {
	if req.URL == nil || (req.URL.Path != "/" && req.URL.Path != "") {
		return nil
	}
	target := req.Header.Get(TargetHeader)
	if _, ok := m[target]; !ok {
		return nil
	}
	return []routing.Candidate{{Target: target}}
}

// Render converts err into an awsJson error response.
func (p *Protocol) Render(err error) *pipeline.Response {
	return protocol.Render(p, err)
}

type errorBody struct {
	Type    string `json:"__type"`
	Message string `json:"message,omitempty"`
}

// EncodeError writes the error type into the __type member.
func (p *Protocol) EncodeError(f protocol.Fault) ([]byte, error) {
	return json.Marshal(errorBody{Type: f.Type, Message: f.Message})
}
