// Package main provides the CLI entry point for eliocore, a hybrid
// on-device/peer-to-peer LLM assistant.
//
// eliocore connects an on-device (or cloud-fallback) agent orchestration
// core to a Bonjour-discovered mesh of peer devices, each advertising its
// own inference capability, so a request can be answered locally, by a
// nearby capable peer, or by falling back to a cloud provider.
//
// # Basic Usage
//
// Start the mesh daemon:
//
//	eliocore serve --config eliocore.yaml
//
// Send a one-shot prompt through the orchestrator:
//
//	eliocore chat --message "what's the weather like"
//
// Inspect this device's identity and daily stats:
//
//	eliocore status
//
// Rotate the advertised pairing code:
//
//	eliocore pair rotate
//
// # Environment Variables
//
//   - ELIOCORE_HOST, ELIOCORE_PORT, ELIOCORE_METRICS_PORT: server overrides
//   - ANTHROPIC_API_KEY: Cloud backend credential
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/eliochat/eliocore/internal/agent"
	"github.com/eliochat/eliocore/internal/agent/providers"
	"github.com/eliochat/eliocore/internal/arena"
	"github.com/eliochat/eliocore/internal/config"
	"github.com/eliochat/eliocore/internal/device"
	"github.com/eliochat/eliocore/internal/infra"
	"github.com/eliochat/eliocore/internal/mesh"
	"github.com/eliochat/eliocore/internal/mesh/discovery"
	"github.com/eliochat/eliocore/internal/mesh/speculative"
	"github.com/eliochat/eliocore/internal/nodes"
	"github.com/eliochat/eliocore/internal/observability"
	"github.com/eliochat/eliocore/internal/ratelimit"
	"github.com/eliochat/eliocore/internal/relay"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "eliocore",
		Short: "eliocore - hybrid on-device / peer-to-peer LLM assistant",
		Long: `eliocore runs a streaming tool-calling agent loop over a local model,
a cloud provider, or a mesh of Bonjour-discovered peer devices, forwarding
requests to whichever backend is ready and best-scored.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	root.AddCommand(
		buildServeCmd(),
		buildChatCmd(),
		buildStatusCmd(),
		buildPairCmd(),
	)
	return root
}

func loadConfig(path string) (*config.Config, error) {
	if strings.TrimSpace(path) == "" {
		path = "eliocore.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the mesh daemon: listener, discovery, relay, and router",
		Long: `Start the eliocore mesh daemon.

The daemon:
1. Loads configuration and opens the sqlite-backed device identity store
2. Starts the TCP mesh listener peers connect to
3. Advertises this device over Bonjour and browses for peers
4. Answers RelayRequest and SpecVerifyRequest envelopes from peers
5. Runs the daily stats-rollover scheduler

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "eliocore.yaml", "Path to YAML configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "eliocore",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Attributes:     cfg.Tracing.Attributes,
		EnableInsecure: cfg.Tracing.Insecure,
	})
	_ = tracer // spans are started around orchestrator/mesh operations elsewhere

	metrics := observability.NewMetrics()

	shutdown := infra.NewShutdownCoordinator(10*time.Second, slog.Default())
	shutdown.RegisterFunc("tracer", infra.PhaseCleanup, func(ctx context.Context) error {
		shutdownTracer(ctx)
		return nil
	})

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler: metricsMux,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn(ctx, "metrics server exited", "error", err)
		}
	}()
	shutdown.RegisterService("metrics-server", func(ctx context.Context) error {
		return metricsServer.Shutdown(ctx)
	})

	store, err := device.Open(cfg.Device.IdentityPath)
	if err != nil {
		return fmt.Errorf("failed to open device store: %w", err)
	}
	shutdown.RegisterConnection("device-store", func(context.Context) error { return store.Close() })

	deviceID, err := store.DeviceID(ctx)
	if err != nil {
		return fmt.Errorf("failed to load device id: %w", err)
	}

	pairingCode, ok, err := store.PairingCode(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pairing code: %w", err)
	}
	if !ok {
		if pairingCode, err = device.GeneratePairingCode(); err != nil {
			return fmt.Errorf("failed to generate pairing code: %w", err)
		}
		if err := store.SetPairingCode(ctx, pairingCode); err != nil {
			return fmt.Errorf("failed to persist pairing code: %w", err)
		}
	}

	logger.Info(ctx, "starting eliocore mesh daemon",
		"version", version, "device_id", deviceID, "mesh_port", cfg.Mesh.Port)

	selfID := nodes.PeerID(deviceID)
	directory := nodes.NewDirectory(nodes.NewMemoryStore(), nodes.DirectoryConfig{
		StaleTimeout: cfg.Mesh.StalePeerTimeout,
	}, slog.Default())

	var local mesh.LocalInferer
	if backend, err := buildCloudBackend(cfg); err == nil {
		local = backend
	} else {
		logger.Warn(ctx, "no local/cloud inference backend configured; mesh will forward-only", "error", err)
	}

	// The Client needs a Sender (the live connection table), which only the
	// Server owns, and the Server needs a Router, which needs the Client as
	// its Forwarder. lazySender breaks that cycle: the Client is built
	// against it immediately, and it's pointed at the real Server once
	// constructed below.
	sender := &lazySender{}
	client := mesh.NewClient(mesh.ClientConfig{
		SelfID:         selfID,
		MaxHops:        cfg.Mesh.MaxHops,
		ForwardTimeout: cfg.Mesh.ForwardTimeout,
	}, directory, sender, slog.Default())

	router := mesh.NewRouter(mesh.RouterConfig{
		SelfID:          selfID,
		SelfDisplayName: cfg.Mesh.ServiceInstanceName,
		ForwardTimeout:  cfg.Mesh.ForwardTimeout,
	}, directory, local, client, store, slog.Default())
	router.SetMetrics(metrics)

	relayHandler := relay.NewHandler(relay.Config{
		AllowedHosts:   cfg.Relay.AllowedHosts,
		ConnectTimeout: cfg.Relay.ConnectTimeout,
		TotalTimeout:   cfg.Relay.TotalTimeout,
		RateLimit: ratelimit.SlidingWindowConfig{
			MaxRequests: cfg.Relay.RateLimitPerWindow,
			Window:      cfg.Relay.RateLimitWindow,
		},
	}, slog.Default())
	relayHandler.SetMetrics(metrics)

	var specHandler mesh.SpecVerifyHandler
	if local != nil {
		verifier := speculative.NewVerifier(greedyAdapter{local})
		verifier.SetMetrics(metrics)
		specHandler = verifier
	}

	server := mesh.NewServer(mesh.ServerConfig{
		SelfID:          selfID,
		SelfDisplayName: cfg.Mesh.ServiceInstanceName,
		MaxFrameBytes:   cfg.Mesh.MaxFrameBytes,
	}, directory, router, client, relayHandler, specHandler, nil, slog.Default())

	sender.bind(server)

	heartbeat := infra.NewHeartbeatRunner(infra.HeartbeatConfig{
		Interval: cfg.Mesh.CapabilityHeartbeat,
		OnHeartbeat: func(context.Context) (string, bool) {
			server.BroadcastCapability(nodes.Capability{HasLocalLLM: local != nil})
			metrics.SetMeshPeersKnown(len(directory.List()))
			return "broadcast", true
		},
	})
	heartbeat.Start(ctx)
	shutdown.RegisterService("capability-heartbeat", func(context.Context) error {
		heartbeat.Stop()
		return nil
	})

	rollover, err := device.NewScheduler(store, device.RolloverConfig{
		Expr:   cfg.Device.StatsRolloverCron,
		Retain: 90 * 24 * time.Hour,
		Logger: slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("failed to build stats rollover scheduler: %w", err)
	}
	rollover.Start(ctx)
	shutdown.RegisterService("stats-rollover", func(context.Context) error {
		rollover.Stop()
		return nil
	})

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	capability := nodes.Capability{HasLocalLLM: local != nil}

	listenAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Mesh.Port)
	serverErrCh := make(chan error, 1)
	go func() { serverErrCh <- server.Listen(ctx, listenAddr, capability) }()

	discoveryListener := discovery.NewListener(slog.Default())
	discCfg := discovery.Config{
		InstanceName: cfg.Mesh.ServiceInstanceName,
		ServiceType:  cfg.Mesh.ServiceType,
		Domain:       cfg.Mesh.Domain,
		Port:         cfg.Mesh.Port,
		PairingCode:  pairingCode,
	}
	if discCfg.InstanceName == "" {
		discCfg.InstanceName = deviceID
	}
	if err := discoveryListener.Start(discCfg); err != nil {
		logger.Warn(ctx, "bonjour advertisement failed to start", "error", err)
	}
	shutdown.RegisterFunc("bonjour-discovery", infra.PhasePreShutdown, func(context.Context) error {
		discoveryListener.Stop()
		return nil
	})

	// Bounded dial pool: mDNS can announce a burst of peers at once (e.g. on
	// network join), and each dial attempt blocks briefly on TCP connect, so
	// outbound handshakes are throttled through a fixed-size worker pool
	// rather than spawned unbounded per discovery event.
	dialPool := infra.NewWorkerPool(infra.WorkerPoolConfig[discovery.DiscoveredPeer, struct{}]{
		Workers:   4,
		QueueSize: 64,
		Processor: func(dialCtx context.Context, p discovery.DiscoveredPeer) (struct{}, error) {
			return struct{}{}, dialDiscoveredPeer(dialCtx, server, p, capability, logger)
		},
	})
	dialPool.Start()
	shutdown.RegisterService("peer-dialer", func(context.Context) error {
		dialPool.Stop()
		return nil
	})

	go func() {
		err := discovery.Browse(ctx, cfg.Mesh.ServiceType, cfg.Mesh.Domain, func(p discovery.DiscoveredPeer) {
			if p.InstanceName == discCfg.InstanceName {
				return
			}
			logger.Debug(ctx, "discovered mesh peer", "instance", p.InstanceName, "port", p.Port)
			if !dialPool.Submit(infra.Job[discovery.DiscoveredPeer]{ID: p.InstanceName, Data: p, Context: ctx}) {
				logger.Debug(ctx, "dial queue full, dropping discovery", "instance", p.InstanceName)
			}
		})
		if err != nil && ctx.Err() == nil {
			logger.Warn(ctx, "bonjour browse stopped", "error", err)
		}
	}()

	logger.Info(ctx, "eliocore mesh daemon started", "addr", listenAddr, "pairing_code", pairingCode)

	select {
	case <-ctx.Done():
		logger.Info(ctx, "shutdown signal received, stopping")
	case err := <-serverErrCh:
		if err != nil {
			logger.Error(ctx, "mesh listener exited with error", "error", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	shutdown.Shutdown(shutdownCtx)

	return nil
}

// dialDiscoveredPeer opens an outbound connection to a peer surfaced by
// Bonjour browsing and hands it to the server's handshake/dispatch loop.
// HandleConn blocks for the lifetime of the connection, so this runs the
// handshake itself inline (bounded by the caller's worker pool) and then
// lets the connection run out on its own goroutine.
func dialDiscoveredPeer(ctx context.Context, server *mesh.Server, p discovery.DiscoveredPeer, capability nodes.Capability, logger *observability.Logger) error {
	if len(p.Addrs) == 0 {
		return fmt.Errorf("peer %s advertised no addresses", p.InstanceName)
	}

	addr := net.JoinHostPort(p.Addrs[0].String(), strconv.Itoa(p.Port))
	dialer := net.Dialer{Timeout: 10 * time.Second}
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	go func() {
		if err := server.HandleConn(ctx, nc, capability); err != nil && ctx.Err() == nil {
			logger.Debug(ctx, "outbound peer connection closed", "peer", p.InstanceName, "error", err)
		}
	}()
	return nil
}

// lazySender defers to a *mesh.Server that doesn't exist yet at the point
// the mesh.Client is constructed, breaking the Client/Router/Server
// construction cycle.
type lazySender struct {
	mu     sync.Mutex
	target mesh.Sender
}

func (l *lazySender) bind(s *mesh.Server) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.target = s
}

func (l *lazySender) SendForward(ctx context.Context, peer nodes.Peer, req mesh.ForwardRequest) error {
	l.mu.Lock()
	target := l.target
	l.mu.Unlock()
	if target == nil {
		return fmt.Errorf("mesh: server not yet listening")
	}
	return target.SendForward(ctx, peer, req)
}

func buildCloudBackend(cfg *config.Config) (*providers.AnthropicBackend, error) {
	p, ok := cfg.Backend.Providers["anthropic"]
	if !ok || strings.TrimSpace(p.APIKey) == "" {
		return nil, fmt.Errorf("no anthropic credentials configured")
	}
	return providers.NewAnthropicBackend(providers.AnthropicConfig{
		APIKey:  p.APIKey,
		BaseURL: p.BaseURL,
		Model:   p.DefaultModel,
	})
}

// greedyAdapter implements speculative.TargetModel over a LocalInferer by
// running one full Generate call per requested token and taking its first
// emitted token as the greedy continuation. A real local-model backend
// would expose single-token greedy decoding directly; this adapter lets
// the speculative verifier exercise whatever Backend is configured in its
// absence.
type greedyAdapter struct {
	inferer mesh.LocalInferer
}

func (g greedyAdapter) GreedyNext(ctx context.Context, precedingTokens []string, settings map[string]any) (string, error) {
	prompt := strings.Join(precedingTokens, " ")
	var first string
	sink := func(token string) bool {
		if first == "" {
			first = token
		}
		return false // stop after the first token
	}
	history := []agent.Message{{Role: agent.RoleUser, Content: prompt}}
	if _, err := g.inferer.Generate(ctx, history, "", sink); err != nil {
		return "", err
	}
	return first, nil
}

func buildChatCmd() *cobra.Command {
	var (
		configPath string
		message    string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Send a single prompt through the agent orchestration core",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if strings.TrimSpace(message) == "" {
				return fmt.Errorf("--message is required")
			}

			backend, err := buildCloudBackend(cfg)
			if err != nil {
				return fmt.Errorf("no usable backend: %w", err)
			}

			registry := agent.NewToolRegistry()
			a := arena.New()
			history := []agent.Message{{Role: agent.RoleUser, Content: message}}

			orchCfg := agent.DefaultOrchestratorConfig()
			orchCfg.MaxIterations = cfg.Orchestrator.MaxIterations
			orchCfg.MaxToolResultLen = cfg.Orchestrator.MaxToolResultLen
			orchCfg.UseJapanese = cfg.Orchestrator.UseJapanese
			orchCfg.Metrics = observability.NewMetrics()
			orchCfg.OnToken = func(token string) bool {
				fmt.Fprint(cmd.OutOrStdout(), token)
				return true
			}

			state := agent.NewState(a, backend, registry, registry.Definitions(), history, orchCfg)
			result, err := state.Run(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if result.Err != nil {
				return result.Err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "eliocore.yaml", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&message, "message", "m", "", "Prompt to send")
	return cmd
}

func buildStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show this device's identity, pairing code, and today's stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			store, err := device.Open(cfg.Device.IdentityPath)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			id, err := store.DeviceID(ctx)
			if err != nil {
				return err
			}
			code, _, err := store.PairingCode(ctx)
			if err != nil {
				return err
			}
			stats, err := store.Stats(ctx, time.Now())
			if err != nil {
				return err
			}

			health := infra.NewHealthCheckRegistry()
			health.RegisterSimple("device-store", func(ctx context.Context) error {
				_, err := store.DeviceID(ctx)
				return err
			})
			health.RegisterSimple("cloud-backend", func(context.Context) error {
				_, err := buildCloudBackend(cfg)
				return err
			})
			report := health.CheckAll(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "health: %s\n", report.Status)
			for _, r := range report.Checks {
				if r.Status != infra.ServiceHealthHealthy {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s (%s)\n", r.Name, r.Status, r.Message)
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "device_id: %s\npairing_code: %s\nrequests_today: %d\nearned_units_today: %d\n",
				id, code, stats.Requests, stats.EarnedUnits)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "eliocore.yaml", "Path to YAML configuration file")
	return cmd
}

func buildPairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Manage the advertised pairing code",
	}
	cmd.AddCommand(buildPairRotateCmd())
	return cmd
}

func buildPairRotateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Rotate the device pairing code; restarts the Bonjour listener on next serve",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			store, err := device.Open(cfg.Device.IdentityPath)
			if err != nil {
				return err
			}
			defer store.Close()

			code, err := device.GeneratePairingCode()
			if err != nil {
				return err
			}
			if err := store.SetPairingCode(cmd.Context(), code); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "new pairing code: %s (takes effect on next `eliocore serve`)\n", code)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "eliocore.yaml", "Path to YAML configuration file")
	return cmd
}
