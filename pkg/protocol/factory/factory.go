// Package factory creates wire protocols from configuration.
package factory

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nimburion/rpcserver/pkg/protocol/awsjson"
	"github.com/nimburion/rpcserver/pkg/protocol/rest"
	"github.com/nimburion/rpcserver/pkg/routing"
)

// Default is used when no protocol is configured.
const Default = awsjson.NameV11

var supported = map[string]func() routing.Protocol{
	strings.ToLower(awsjson.NameV10): func() routing.Protocol { return awsjson.New10() },
	strings.ToLower(awsjson.NameV11): func() routing.Protocol { return awsjson.New11() },
	strings.ToLower(rest.NameJSON):   func() routing.Protocol { return rest.NewJSON() },
	strings.ToLower(rest.NameXML):    func() routing.Protocol { return rest.NewXML() },
}

// NewProtocol creates a protocol by name. Names are case-insensitive.
func NewProtocol(name string) (routing.Protocol, error) {
	key := strings.TrimSpace(strings.ToLower(name))
	if key == "" {
		key = strings.ToLower(Default)
	}
	if create, ok := supported[key]; ok {
		return create(), nil
	}

	return nil, fmt.Errorf("unsupported protocol %q (supported: %s)", name, strings.Join(SupportedNames(), ", "))
}

// SupportedNames returns the supported protocol names.
func SupportedNames() []string {
	names := make([]string, 0, len(supported))
	for _, create := range supported {
		names = append(names, create().Name())
	}
	sort.Strings(names)
	return names
}
