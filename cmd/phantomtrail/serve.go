package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/YrFnS/Phantom-Trail-sub001/internal/collector"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/event"
	httpx "github.com/YrFnS/Phantom-Trail-sub001/internal/http"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/metrics"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/sink"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/store"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/tracker"
	"github.com/YrFnS/Phantom-Trail-sub001/pkg/config"
)

// retentionInterval is how often expired events and idle tabs are dropped
const retentionInterval = time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the detection API, metrics endpoint and retention loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Check /healthz of a running server (for container health checks)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return performHealthCheck(localAddr(cfg.ServerAddr))
	},
}

func serve(ctx context.Context, cfg config.Config) error {
	appMetrics := metrics.GetMetrics()
	metricsServer := metrics.NewServer(metrics.LoadConfig(), appMetrics)
	if err := metricsServer.Start(ctx); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}

	classifier, err := loadClassifier(cfg)
	if err != nil {
		return err
	}
	cache, err := collector.NewClassifyCache(ctx, classifier, cfg.ClassifyCacheMB, cfg.ClassifyCacheTTL, appMetrics)
	if err != nil {
		return err
	}
	defer cache.Close()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	sinks := initializeSinks(ctx, cfg.Outputs)
	defer closeSinks(sinks)

	col := collector.New(collector.Config{
		Classifier: cache,
		Store:      st,
		Emit:       createEmitFunc(sinks, appMetrics),
		Metrics:    appMetrics,
	})

	env := httpx.Env{
		Cfg:        cfg,
		Collector:  col,
		Classifier: cache,
		Store:      st,
		HMACAuth:   initializeHMACAuth(cfg),
		Metrics:    appMetrics,
		Ready: func(ctx context.Context) error {
			_, err := st.Query(ctx, store.Query{Limit: 1})
			return err
		},
	}
	srv := startHTTPServer(cfg, env)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runRetention(gctx, st, col, cfg, retentionInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Printf("phantomtrail: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("phantomtrail: metrics shutdown: %v", err)
		}
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// loadClassifier merges TRACKERS_FILE over the built-in database
func loadClassifier(cfg config.Config) (*tracker.Classifier, error) {
	db := tracker.Default()
	if cfg.TrackersFile != "" {
		ext, err := tracker.LoadFile(cfg.TrackersFile)
		if err != nil {
			return nil, err
		}
		db = db.Merge(ext)
		log.Printf("phantomtrail: loaded %d trackers (with %s)", db.Len(), cfg.TrackersFile)
	}
	return tracker.NewClassifier(db), nil
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.Store {
	case "", "memory":
		return store.NewMemoryStore(), nil
	case "sqlite":
		return store.NewSQLiteStore(cfg.SQLitePath)
	case "redis":
		return store.NewRedisStore(ctx, store.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Store)
}

// initializeSinks starts the sinks named in outputs. Unknown names and
// sinks that fail to start are logged and skipped.
func initializeSinks(ctx context.Context, outputs []string) []sink.Sink {
	var sinks []sink.Sink
	for _, name := range outputs {
		var s sink.Sink
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "log":
			s = sink.NewLogSink()
		case "kafka":
			s = sink.NewKafkaSinkFromEnv()
		case "postgres", "pg":
			s = sink.NewPGSinkFromEnv()
		default:
			log.Printf("phantomtrail: unknown output %q, skipping", name)
			continue
		}
		if err := s.Start(ctx); err != nil {
			log.Printf("phantomtrail: %s sink failed to start: %v", s.Name(), err)
			continue
		}
		log.Printf("phantomtrail: %s sink started", s.Name())
		sinks = append(sinks, s)
	}
	return sinks
}

func closeSinks(sinks []sink.Sink) {
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			log.Printf("phantomtrail: closing %s sink: %v", s.Name(), err)
		}
	}
}

// createEmitFunc fans an event out to every sink. A failing sink does not
// keep the event from the others.
func createEmitFunc(sinks []sink.Sink, m *metrics.Metrics) func(event.TrackingEvent) {
	return func(e event.TrackingEvent) {
		for _, s := range sinks {
			start := time.Now()
			if err := s.Enqueue(e); err != nil {
				log.Printf("phantomtrail: %s sink enqueue: %v", s.Name(), err)
				m.IncrementSinkErrors(s.Name(), "enqueue")
				continue
			}
			m.IncrementEventsIngested(s.Name())
			m.ObserveSinkLatency(s.Name(), time.Since(start))
		}
	}
}

func initializeHMACAuth(cfg config.Config) *httpx.HMACAuth {
	if cfg.HMACSecret == "" {
		return nil
	}
	auth := httpx.NewHMACAuth(cfg.HMACSecret, cfg.HMACPublicKey, cfg.RequireHMAC, cfg.TrustProxy)
	log.Printf("phantomtrail: HMAC authentication enabled (required=%v)", cfg.RequireHMAC)
	return auth
}

func startHTTPServer(cfg config.Config, env httpx.Env) *http.Server {
	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           httpx.NewMux(env),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("phantomtrail: listening on %s", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("phantomtrail: server error: %v", err)
		}
	}()
	return srv
}

// runRetention prunes on every tick until ctx ends
func runRetention(ctx context.Context, st store.Store, col *collector.Collector, cfg config.Config, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if _, _, err := pruneOnce(ctx, st, col, cfg, now); err != nil {
				log.Printf("phantomtrail: retention: %v", err)
			}
		}
	}
}

// pruneOnce drops events past retention and tabs idle past SessionIdle
func pruneOnce(ctx context.Context, st store.Store, col *collector.Collector, cfg config.Config, now time.Time) (int, int, error) {
	events := 0
	if keep := cfg.Retention(); keep > 0 {
		n, err := st.Prune(ctx, now.Add(-keep))
		if err != nil {
			return 0, 0, err
		}
		events = n
	}
	tabs := 0
	if cfg.SessionIdle > 0 {
		tabs = col.PruneSessions(cfg.SessionIdle)
	}
	if events > 0 || tabs > 0 {
		log.Printf("phantomtrail: retention pruned events=%d tabs=%d", events, tabs)
	}
	return events, tabs, nil
}

// localAddr turns a listen address such as ":19890" into a dialable one
func localAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

func performHealthCheck(addr string) error {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get("http://" + addr + "/healthz")
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected response from %s: %s", addr, resp.Status)
	}
	return nil
}
