// Command rpcserver serves an in-memory object store over the configured
// protocol.
package main

import (
	"github.com/nimburion/rpcserver/pkg/cli"
	"github.com/nimburion/rpcserver/pkg/config"
	"github.com/nimburion/rpcserver/pkg/demo"
	"github.com/nimburion/rpcserver/pkg/observability/logger"
	"github.com/nimburion/rpcserver/pkg/observability/sensitive"
	"github.com/nimburion/rpcserver/pkg/routing"
)

func register(b *routing.Builder, p routing.Protocol, cfg *config.Config, log logger.Logger) error {
	policy, err := sensitive.ParsePolicy(cfg.Logging.Redaction)
	if err != nil {
		return err
	}
	store := demo.NewStore(demo.WithRedaction(policy))
	return demo.NewService(store, log, policy).Register(b, p)
}

func main() {
	cli.Execute(cli.NewRootCommand(cli.Options{
		Name:        "rpcserver",
		Description: "Protocol-pluggable RPC server",
		Register:    register,
	}))
}
