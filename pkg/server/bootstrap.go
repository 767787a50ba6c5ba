package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/nimburion/rpcserver/pkg/config"
	"github.com/nimburion/rpcserver/pkg/health"
	"github.com/nimburion/rpcserver/pkg/middleware/compression"
	"github.com/nimburion/rpcserver/pkg/middleware/concurrency"
	"github.com/nimburion/rpcserver/pkg/middleware/logging"
	metricsmw "github.com/nimburion/rpcserver/pkg/middleware/metrics"
	"github.com/nimburion/rpcserver/pkg/middleware/recovery"
	"github.com/nimburion/rpcserver/pkg/middleware/requestid"
	"github.com/nimburion/rpcserver/pkg/middleware/requestsize"
	"github.com/nimburion/rpcserver/pkg/middleware/timeout"
	tracingmw "github.com/nimburion/rpcserver/pkg/middleware/tracing"
	"github.com/nimburion/rpcserver/pkg/observability/logger"
	"github.com/nimburion/rpcserver/pkg/observability/metrics"
	"github.com/nimburion/rpcserver/pkg/observability/sensitive"
	"github.com/nimburion/rpcserver/pkg/observability/tracing"
	"github.com/nimburion/rpcserver/pkg/pipeline"
	"github.com/nimburion/rpcserver/pkg/protocol/factory"
	"github.com/nimburion/rpcserver/pkg/routing"
	"github.com/nimburion/rpcserver/pkg/server/transport"
	"github.com/nimburion/rpcserver/pkg/version"
)

// Options defines inputs for building the servers.
type Options struct {
	Config *config.Config
	Logger logger.Logger

	// Routes registers the operations served by the public listener.
	Routes func(b *routing.Builder)

	// Metrics defaults to a fresh registry.
	Metrics *metrics.Registry
	// Health defaults to a registry checking the pipeline's readiness.
	Health *health.Registry
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// App is a built server: the routed pipeline and the listeners serving it.
type App struct {
	Config     *config.Config
	Logger     logger.Logger
	Protocol   routing.Protocol
	Router     *routing.Router
	Service    pipeline.Service
	Handler    http.Handler
	Public     *Server
	Management *Server
	Metrics    *metrics.Registry
	Health     *health.Registry
}

// Build resolves the protocol, builds the router and the pipeline around it,
// and prepares both listeners. Route registration errors abort the build.
func Build(opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	if opts.Routes == nil {
		return nil, errors.New("routes are required")
	}

	protocol, err := factory.NewProtocol(cfg.Protocol)
	if err != nil {
		return nil, err
	}

	builder := routing.NewBuilder(protocol).WithLogger(log)
	opts.Routes(builder)
	router, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("build router: %w", err)
	}

	reg := opts.Metrics
	if reg == nil {
		reg = metrics.NewRegistry()
	}

	layers, err := Layers(cfg, log, protocol, metrics.NewRequestMetrics(reg.Registerer()), opts.TracerProvider)
	if err != nil {
		return nil, err
	}
	svc := pipeline.NewBuilder().Use(layers...).Build(router)

	handler, err := transport.Mount(cfg.Transport, Handler(svc, protocol, log))
	if err != nil {
		return nil, err
	}

	checks := opts.Health
	if checks == nil {
		checks = health.NewRegistry()
		checks.Register(health.NewReadinessChecker("pipeline", svc, 0))
	}

	app := &App{
		Config:   cfg,
		Logger:   log,
		Protocol: protocol,
		Router:   router,
		Service:  svc,
		Handler:  handler,
		Metrics:  reg,
		Health:   checks,
	}
	app.Public = NewServer("public", Config{
		Port:            cfg.HTTP.Port,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		IdleTimeout:     cfg.HTTP.IdleTimeout,
		ShutdownTimeout: cfg.Service.ShutdownTimeout,
	}, handler, log)

	if cfg.Management.Enabled {
		info := version.Current(cfg.Service.Name)
		app.Management = NewServer("management", Config{
			Port:            cfg.Management.Port,
			ReadTimeout:     cfg.Management.ReadTimeout,
			WriteTimeout:    cfg.Management.WriteTimeout,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: cfg.Service.ShutdownTimeout,
		}, ManagementHandler(checks, reg, info), log)
	}

	return app, nil
}

// Layers returns the pipeline stages, outermost first: recovery, request ID,
// logging, tracing, metrics, body limit, timeout, backpressure and
// compression. Stages switched off by cfg are omitted.
func Layers(cfg *config.Config, log logger.Logger, protocol routing.Protocol, m *metrics.RequestMetrics, tp trace.TracerProvider) ([]pipeline.Layer, error) {
	policy, err := sensitive.ParsePolicy(cfg.Logging.Redaction)
	if err != nil {
		return nil, err
	}

	var requestIDOpts []requestid.Option
	if header := strings.TrimSpace(cfg.RequestID.ResponseHeader); header != "" {
		requestIDOpts = append(requestIDOpts, requestid.WithResponseHeader(header))
	}

	logCfg := logging.DefaultConfig()
	logCfg.Enabled = cfg.Logging.Requests
	logCfg.LogStart = cfg.Logging.LogStart
	if len(cfg.Logging.Fields) > 0 {
		logCfg.Fields = cfg.Logging.Fields
	}
	logCfg.ExcludedPathPrefixes = cfg.Logging.ExcludedPathPrefixes
	logCfg.Sensitivity = logging.Sensitivity{
		Policy:    policy,
		Headers:   cfg.Logging.SensitiveHeaders,
		Path:      cfg.Logging.SensitivePath,
		QueryKeys: cfg.Logging.SensitiveQueryKeys,
	}

	layers := []pipeline.Layer{
		recovery.Layer(log, protocol),
		requestid.Layer(requestIDOpts...),
		logging.WithConfig(log, logCfg),
		tracingmw.Layer(tracingmw.Config{
			TracerName:     cfg.Service.Name,
			TracerProvider: tp,
			Protocol:       protocol.Name(),
			OmitPath:       cfg.Logging.SensitivePath,
		}),
		metricsmw.Layer(m, protocol.Name()),
	}

	if cfg.Limits.MaxBodyBytes > 0 {
		layers = append(layers, requestsize.Layer(cfg.Limits.MaxBodyBytes))
	}

	if cfg.Limits.Timeout > 0 {
		layers = append(layers, timeout.Layer(timeout.Config{Enabled: true, Default: cfg.Limits.Timeout}, protocol))
	}

	limits := concurrency.Config{
		MaxInFlight:       cfg.Limits.MaxInFlight,
		RequestsPerSecond: cfg.Limits.Rate,
		Burst:             cfg.Limits.Burst,
	}
	if limits.Enabled() {
		layers = append(layers, concurrency.Layer(limits))
	}

	if cfg.Compression.Enabled {
		compressionCfg := compression.DefaultConfig()
		compressionCfg.EnableGzip = cfg.Compression.Gzip
		compressionCfg.EnableBrotli = cfg.Compression.Brotli
		compressionCfg.MinSize = cfg.Compression.MinSize
		layers = append(layers, compression.Layer(compressionCfg))
	}

	return layers, nil
}

// Run starts the public listener and, when configured, the management
// listener. The first failure stops both.
func (a *App) Run(ctx context.Context) error {
	info := version.Current(a.Config.Service.Name)
	a.Logger.Info("application version metadata",
		"service", info.Service,
		"version", info.Version,
		"commit", info.Commit,
		"protocol", a.Protocol.Name(),
		"transport", a.Config.Transport,
		"routes", len(a.Router.Routes()),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	servers := []*Server{a.Public}
	if a.Management != nil {
		servers = append(servers, a.Management)
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *Server) { errCh <- srv.Start(runCtx) }(srv)
	}

	var firstErr error
	for range servers {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}
	return firstErr
}

// RunWithSignals runs the app until one of signals arrives. It defaults to
// SIGINT and SIGTERM.
func (a *App) RunWithSignals(signals ...os.Signal) error {
	if len(signals) == 0 {
		signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	ctx, stop := signal.NotifyContext(context.Background(), signals...)
	defer stop()
	return a.Run(ctx)
}

// InitTracing creates the tracer provider described by cfg and installs it
// globally. A disabled configuration yields a provider that samples nothing.
func InitTracing(ctx context.Context, cfg *config.Config) (*tracing.TracerProvider, error) {
	info := version.Current(cfg.Service.Name)
	return tracing.NewTracerProvider(ctx, tracing.TracerConfig{
		ServiceName:    info.Service,
		ServiceVersion: info.Version,
		Environment:    cfg.Service.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRate:     cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
	})
}
