// Package cli assembles the command line of an RPC server binary.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nimburion/rpcserver/pkg/config"
	"github.com/nimburion/rpcserver/pkg/observability/logger"
	"github.com/nimburion/rpcserver/pkg/observability/sensitive"
	"github.com/nimburion/rpcserver/pkg/protocol/factory"
	"github.com/nimburion/rpcserver/pkg/routing"
	"github.com/nimburion/rpcserver/pkg/server"
	"github.com/nimburion/rpcserver/pkg/server/transport"
	"github.com/nimburion/rpcserver/pkg/version"
)

// RegisterFunc adds a service's operations to b for protocol p.
type RegisterFunc func(b *routing.Builder, p routing.Protocol, cfg *config.Config, log logger.Logger) error

// Options defines the service-specific parts of the command line.
type Options struct {
	Name        string
	Description string
	// ConfigPath is the default for --config-file.
	ConfigPath string
	// EnvPrefix defaults to config.DefaultEnvPrefix.
	EnvPrefix string
	// Register is required by serve and routes.
	Register RegisterFunc
	// CustomCommands are added to the root command.
	CustomCommands []*cobra.Command
}

// Overrides are command line values that take precedence over the loaded
// configuration.
type Overrides struct {
	ServiceName string
	Protocol    string
	Transport   string
}

// NewRootCommand creates the serve, routes, config, presign and version
// subcommands. Running the root command without a subcommand serves.
func NewRootCommand(opts Options) *cobra.Command {
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = config.DefaultEnvPrefix
	}

	var configPath string
	flags := &Overrides{}
	rootCmd := &cobra.Command{
		Use:           opts.Name,
		Short:         opts.Description,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config-file", "c", opts.ConfigPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&flags.ServiceName, "service-name", "", "service name override")
	rootCmd.PersistentFlags().StringVar(&flags.Protocol, "protocol", "", "protocol override ("+strings.Join(factory.SupportedNames(), ", ")+")")
	rootCmd.PersistentFlags().StringVar(&flags.Transport, "transport", "", "transport override ("+strings.Join(transport.SupportedTypes(), ", ")+")")

	loadConfig := func() (*config.Config, error) {
		return LoadConfig(configPath, opts.EnvPrefix, opts.Name, *flags)
	}

	serveCmd := newServeCommand(opts, loadConfig)
	rootCmd.AddCommand(serveCmd)
	rootCmd.RunE = serveCmd.RunE

	rootCmd.AddCommand(newRoutesCommand(opts, loadConfig))
	rootCmd.AddCommand(newConfigCommand(loadConfig))
	rootCmd.AddCommand(newPresignCommand(loadConfig))
	rootCmd.AddCommand(newVersionCommand(opts.Name))

	for _, cmd := range opts.CustomCommands {
		rootCmd.AddCommand(cmd)
	}
	return rootCmd
}

// LoadConfig loads and validates configuration, then applies flag overrides.
func LoadConfig(path, envPrefix, defaultName string, overrides Overrides) (*config.Config, error) {
	cfg, err := config.NewViperLoader(path, envPrefix).Load()
	if err != nil {
		return nil, err
	}
	if name := strings.TrimSpace(overrides.ServiceName); name != "" {
		cfg.Service.Name = name
	} else if cfg.Service.Name == config.DefaultConfig().Service.Name && defaultName != "" {
		cfg.Service.Name = defaultName
	}
	if overrides.Protocol != "" {
		cfg.Protocol = overrides.Protocol
	}
	if overrides.Transport != "" {
		cfg.Transport = overrides.Transport
	}
	if overrides.Protocol != "" || overrides.Transport != "" {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

// NewLogger creates the zap logger described by cfg.
func NewLogger(cfg *config.Config, out io.Writer) (*logger.ZapLogger, error) {
	log, err := logger.NewZapLogger(logger.Config{
		Level:  logger.LogLevel(cfg.Logging.Level),
		Format: logger.LogFormat(cfg.Logging.Format),
		Output: out,
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return log, nil
}

func newServeCommand(opts Options, loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the RPC server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Register == nil {
				return errors.New("no operations to serve")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log, err := NewLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			tp, err := server.InitTracing(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tp.Shutdown(ctx); err != nil {
					log.Warn("tracer shutdown failed", "error", err)
				}
			}()

			app, err := buildApp(cfg, log, opts.Register)
			if err != nil {
				return err
			}
			return app.RunWithSignals()
		},
	}
}

func buildApp(cfg *config.Config, log logger.Logger, register RegisterFunc) (*server.App, error) {
	var registerErr error
	app, err := server.Build(server.Options{
		Config: cfg,
		Logger: log,
		Routes: func(b *routing.Builder) {
			p, err := factory.NewProtocol(cfg.Protocol)
			if err != nil {
				registerErr = err
				return
			}
			registerErr = register(b, p, cfg, log)
		},
	})
	if registerErr != nil {
		return nil, fmt.Errorf("register operations: %w", registerErr)
	}
	if err != nil {
		return nil, err
	}
	return app, nil
}

func newRoutesCommand(opts Options, loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "List the operations registered for the configured protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Register == nil {
				return errors.New("no operations registered")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			p, err := factory.NewProtocol(cfg.Protocol)
			if err != nil {
				return err
			}
			b := routing.NewBuilder(p)
			if err := opts.Register(b, p, cfg, logger.NewNop()); err != nil {
				return err
			}
			router, err := b.Build()
			if err != nil {
				return err
			}
			return writeRoutes(cmd.OutOrStdout(), router)
		},
	}
}

func writeRoutes(out io.Writer, router *routing.Router) error {
	routes := router.Routes()
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Target != routes[j].Target {
			return routes[i].Target < routes[j].Target
		}
		return routes[i].Method < routes[j].Method
	})

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "PROTOCOL\tMETHOD\tTARGET\n")
	for _, r := range routes {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", router.Protocol().Name(), r.Method, r.Target)
	}
	return tw.Flush()
}

func newConfigCommand(loadConfig func() (*config.Config, error)) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	})

	var showSecrets bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			policy := sensitive.PolicyRedact
			if showSecrets {
				policy = sensitive.PolicyReveal
			}
			out, err := cfg.YAML(policy)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	showCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "show secret values")
	configCmd.AddCommand(showCmd)

	return configCmd
}

func newVersionCommand(name string) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Current(name)
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			fmt.Fprintf(out, "Service:    %s\n", info.Service)
			fmt.Fprintf(out, "Version:    %s\n", info.Version)
			fmt.Fprintf(out, "Commit:     %s\n", info.Commit)
			fmt.Fprintf(out, "Build Time: %s\n", info.BuildTime)
			fmt.Fprintf(out, "Go:         %s\n", info.GoVersion)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

// Execute runs the command and exits with a non-zero code on failure.
func Execute(cmd *cobra.Command) {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
