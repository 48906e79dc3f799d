// engine-runner is the on-device AI engine service: it discovers the
// runners the host supports, loads models lazily, and serves capability
// requests over a unix socket or TCP, with optional TLS.
package main

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/edgehive/engine-runner/pkg/engine"
	"github.com/edgehive/engine-runner/pkg/engine/coordinator"
	"github.com/edgehive/engine-runner/pkg/engine/discovery"
	"github.com/edgehive/engine-runner/pkg/engine/manager"
	"github.com/edgehive/engine-runner/pkg/engine/models"
	"github.com/edgehive/engine-runner/pkg/engine/registry"
	"github.com/edgehive/engine-runner/pkg/engine/reload"
	"github.com/edgehive/engine-runner/pkg/engine/runners"
	"github.com/edgehive/engine-runner/pkg/engine/server"
	"github.com/edgehive/engine-runner/pkg/engine/settings"
	"github.com/edgehive/engine-runner/pkg/engine/state"
	"github.com/edgehive/engine-runner/pkg/logging"
	"github.com/edgehive/engine-runner/pkg/metrics"
	"github.com/edgehive/engine-runner/pkg/middleware"
	"github.com/edgehive/engine-runner/pkg/routing"
	enginetls "github.com/edgehive/engine-runner/pkg/tls"
)

const (
	// DefaultTLSPort is the TLS listener port when none is configured.
	DefaultTLSPort = "13444"

	defaultIdleTimeout = 5 * time.Minute

	serviceName    = "engine-runner"
	serviceVersion = "1.0.0"
)

var log = logrus.New()

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := logging.NewLogrusAdapter(log)

	sockName := os.Getenv("ENGINE_RUNNER_SOCK")
	if sockName == "" {
		sockName = "engine-runner.sock"
	}

	userHomeDir, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("Failed to get user home directory: %v", err)
	}
	modelsPath := os.Getenv("ENGINE_MODELS_PATH")
	if modelsPath == "" {
		modelsPath = filepath.Join(userHomeDir, ".edgehive", "models")
	}
	settingsPath := os.Getenv("ENGINE_SETTINGS_PATH")
	if settingsPath == "" {
		settingsPath = filepath.Join(userHomeDir, ".edgehive", "engine-settings.json")
	}

	idleTimeout := defaultIdleTimeout
	if v := os.Getenv("ENGINE_IDLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Fatalf("Malformed ENGINE_IDLE_TIMEOUT %q: %v", v, err)
		}
		idleTimeout = d
	}

	// Metrics pipeline. The provider is global; instruments are handed to
	// the manager and coordinator explicitly.
	var met *metrics.Metrics
	var metricsShutdown func(context.Context) error
	if os.Getenv("DISABLE_METRICS") != "1" {
		provider, shutdown, err := metrics.InitProvider(serviceName, serviceVersion)
		if err != nil {
			log.Fatalf("Failed to initialize metrics: %v", err)
		}
		metricsShutdown = shutdown
		met, err = metrics.NewMetrics(provider)
		if err != nil {
			log.Fatalf("Failed to create metric instruments: %v", err)
		}
	}

	pub := state.NewPublisher(logger.WithField("component", "state"))
	modelStore := models.NewStore(logger.WithField("component", "models"), modelsPath, pub)

	reg := registry.New(logger.WithField("component", "registry"))
	disc := discovery.New(logger.WithField("component", "discovery"), reg, discovery.ProbeHost(logger))
	disc.Add(runners.Factories(modelStore)...)

	if catalogPath := os.Getenv("ENGINE_CATALOG_PATH"); catalogPath != "" {
		catalog, err := discovery.LoadCatalog(catalogPath)
		if err != nil {
			log.Fatalf("Failed to load runner catalog: %v", err)
		}
		disc.UseCatalog(catalog)
		for _, src := range catalog.Models {
			modelStore.AddSource(src.ID, src.URL)
		}
	}
	registered := disc.Run()
	log.Infof("Discovered %d runner(s)", registered)

	settingsStore := settings.NewStore(logger.WithField("component", "settings"), settingsPath)
	if _, err := settingsStore.Load(); err != nil {
		log.Warnf("Failed to load settings, using defaults: %v", err)
	}

	mgr := manager.New(logger.WithField("component", "manager"), reg, disc, settingsStore, idleTimeout)
	mgr.SetMetrics(met)
	mgr.ApplySettings(settingsStore.Current())

	coord := coordinator.New(logger.WithField("component", "coordinator"), mgr, pub, met)
	reloader := reload.New(logger.WithField("component", "reload"), mgr, settingsStore)

	engineServer := server.New(
		logger.WithField("component", "server"),
		coord, mgr, reg, pub, reloader, settingsStore, modelStore,
	)

	router := routing.NewNormalizedServeMux()
	engineServer.RegisterRoutes(router.ServeMux)

	// Alias the bare OpenAI-style prefix onto the engine API so clients
	// may omit /engine.
	router.Handle("/v1/", &middleware.AliasHandler{Handler: router.ServeMux})

	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Engine runner is running"))
	})

	if met != nil {
		router.Handle("/metrics", metrics.NewAggregatedHandler(
			logger.WithField("component", "metrics"),
			func() []metrics.Endpoint { return runnerMetricsEndpoints(mgr, reg) },
		))
		log.Info("Metrics endpoint enabled at /metrics")
	}

	var handler http.Handler = router
	if met != nil {
		handler = otelhttp.NewHandler(handler, "engine-runner")
	}
	handler = middleware.CORS(nil, handler)

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return mgr.Run(gctx)
	})

	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if tcpPort := os.Getenv("ENGINE_RUNNER_PORT"); tcpPort != "" {
		httpServer.Addr = ":" + tcpPort
		log.Infof("Listening on TCP port %s", tcpPort)
		group.Go(func() error {
			return serveUntilShutdown(gctx, httpServer, func() error {
				return httpServer.ListenAndServe()
			})
		})
	} else {
		if err := os.Remove(sockName); err != nil && !os.IsNotExist(err) {
			log.Fatalf("Failed to remove existing socket: %v", err)
		}
		ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: sockName, Net: "unix"})
		if err != nil {
			log.Fatalf("Failed to listen on socket: %v", err)
		}
		log.Infof("Listening on unix socket %s", sockName)
		group.Go(func() error {
			return serveUntilShutdown(gctx, httpServer, func() error {
				return httpServer.Serve(ln)
			})
		})
	}

	if os.Getenv("ENGINE_RUNNER_TLS_ENABLED") == "true" {
		tlsServer, err := buildTLSServer(handler)
		if err != nil {
			log.Fatalf("Failed to configure TLS: %v", err)
		}
		ln, err := tls.Listen("tcp", tlsServer.Addr, tlsServer.TLSConfig)
		if err != nil {
			log.Fatalf("Failed to listen on TLS port: %v", err)
		}
		log.Infof("Listening on TLS address %s", tlsServer.Addr)
		group.Go(func() error {
			return serveUntilShutdown(gctx, tlsServer, func() error {
				return tlsServer.Serve(ln)
			})
		})
	}

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Errorf("Server error: %v", err)
	}

	log.Infoln("Shutdown signal received")
	coord.Shutdown()
	if n := mgr.UnloadAllModels(); n > 0 {
		log.Infof("Unloaded %d runner(s)", n)
	}
	mgr.ForceCleanupAll()
	if metricsShutdown != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsShutdown(shutdownCtx); err != nil {
			log.Warnf("Metrics shutdown error: %v", err)
		}
		cancelShutdown()
	}
	log.Infoln("Engine runner stopped")
}

// serveUntilShutdown runs serve and closes srv when ctx is cancelled.
// http.ErrServerClosed is treated as a clean exit.
func serveUntilShutdown(ctx context.Context, srv *http.Server, serve func() error) error {
	errs := make(chan error, 1)
	go func() { errs <- serve() }()
	select {
	case err := <-errs:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
		}
		<-errs
		return ctx.Err()
	}
}

// buildTLSServer configures the TLS listener, auto-generating a
// self-signed certificate when none is provided.
func buildTLSServer(handler http.Handler) (*http.Server, error) {
	tlsPort := os.Getenv("ENGINE_RUNNER_TLS_PORT")
	if tlsPort == "" {
		tlsPort = DefaultTLSPort
	}
	certPath := os.Getenv("ENGINE_RUNNER_TLS_CERT")
	keyPath := os.Getenv("ENGINE_RUNNER_TLS_KEY")
	if certPath == "" || keyPath == "" {
		var err error
		certPath, keyPath, err = enginetls.EnsureCertificates("", "")
		if err != nil {
			return nil, err
		}
		log.Infof("Using TLS certificate: %s", certPath)
	}
	tlsConfig, err := enginetls.LoadTLSConfig(certPath, keyPath)
	if err != nil {
		return nil, err
	}
	return &http.Server{
		Addr:              ":" + tlsPort,
		Handler:           handler,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}

// runnerMetricsEndpoints collects the scrape endpoints of loaded runners
// whose backing subprocess exposes one.
func runnerMetricsEndpoints(mgr *manager.Manager, reg *registry.Registry) []metrics.Endpoint {
	var endpoints []metrics.Endpoint
	for _, st := range mgr.Statuses() {
		if !st.Loaded {
			continue
		}
		runner, _, err := reg.GetByName(st.Descriptor.Name)
		if err != nil {
			continue
		}
		source, ok := runner.(engine.MetricsSource)
		if !ok {
			continue
		}
		url, client, ok := source.MetricsEndpoint()
		if !ok {
			continue
		}
		endpoints = append(endpoints, metrics.Endpoint{
			Runner: st.Descriptor.Name,
			Model:  st.ModelID,
			URL:    url,
			Client: client,
		})
	}
	return endpoints
}
