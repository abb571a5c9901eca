// Package server exposes the view counter over HTTP and owns the process
// runtime: store lifecycle, listeners, janitor and usage reporting.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/developingchet/view-count/internal/config"
	"github.com/developingchet/view-count/internal/counter"
	"github.com/developingchet/view-count/internal/metrics"
	"github.com/developingchet/view-count/internal/storage"
	"github.com/developingchet/view-count/internal/telemetry"
)

// DBFile is the bbolt file name inside the data directory.
const DBFile = "counts.db"

var closeShutdownTimeout = 5 * time.Second

// Server wires the store, the counter and the HTTP listeners together.
type Server struct {
	cfg        *config.Config
	store      storage.Store
	counter    *counter.ViewCounter
	badges     *BadgeHandler
	sender     *telemetry.Sender
	httpSrv    *http.Server
	metricsSrv *http.Server // nil when MetricsAddr == ""
}

// OpenStore opens the backend selected by cfg.
func OpenStore(cfg *config.Config) (storage.Store, error) {
	if cfg.StoreBackend == config.BackendMemory {
		return storage.NewMemStore(cfg.StoreMaxAttempts), nil
	}
	return storage.Open(filepath.Join(cfg.DataDir, DBFile), cfg.StoreOpenTimeout)
}

// New creates a Server and initialises all dependencies.
func New(cfg *config.Config) (*Server, error) {
	store, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}
	return newWithStore(cfg, store), nil
}

func newWithStore(cfg *config.Config, store storage.Store) *Server {
	usage := telemetry.NewCounter()
	vc := counter.New(store, counter.Options{
		ViewsStyle:    cfg.BadgeStyle(cfg.BadgeLabelViews),
		VisitorsStyle: cfg.BadgeStyle(cfg.BadgeLabelVisitors),
		Usage:         usage,
	})

	var pusher telemetry.Pusher = telemetry.LogPusher{}
	if cfg.UsageWebhookURL != "" {
		pusher = telemetry.NewWebhookPusher(telemetry.WebhookConfig{
			URL:   cfg.UsageWebhookURL,
			Token: cfg.UsageWebhookToken,
		})
	}

	s := &Server{
		cfg:     cfg,
		store:   store,
		counter: vc,
		badges:  NewBadgeHandler(vc, cfg.CacheTTL, cfg.CDNCacheBypass),
		sender:  telemetry.NewSender(cfg.BuildVersion, time.Now(), cfg.UsageReportInterval, usage, pusher),
	}

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", s.serveHealthz)
		mux.HandleFunc("/readyz", s.serveReadyz)
		s.metricsSrv = &http.Server{
			Addr:         cfg.MetricsAddr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  30 * time.Second,
		}
	}

	return s
}

// Handler returns the badge listener's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /views", s.badgeRoute(counter.ModeViews))
	mux.HandleFunc("GET /visitors", s.badgeRoute(counter.ModeVisitors))
	mux.HandleFunc("GET /healthz", s.serveHealthz)
	mux.HandleFunc("GET /readyz", s.serveReadyz)
	mux.HandleFunc("GET /{$}", serveIndex)
	mux.HandleFunc("/", serveNotFound)
	return mux
}

func (s *Server) badgeRoute(mode counter.Mode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ex := newHTTPExchange(w, r, s.cfg.Proxies)
		s.badges.Serve(r.Context(), mode, ex, ex)
	}
}

func (s *Server) serveHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) serveReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.Healthy(r.Context()); err != nil {
		log.Warn().Err(err).Msg("readiness check failed")
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Run serves badges until ctx is cancelled. Failure to bind the badge
// listener is fatal; a metrics listener failure is only logged.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	bgCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	// Start metrics / health HTTP server.
	if s.metricsSrv != nil {
		go func() {
			log.Info().Str("addr", s.cfg.MetricsAddr).Msg("metrics server listening")
			if err := s.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		runJanitor(bgCtx, s.store, s.cfg.JanitorInterval)
	}()
	go func() {
		defer wg.Done()
		s.sender.Run(bgCtx)
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpSrv.Serve(ln) }()

	log.Info().
		Str("addr", ln.Addr().String()).
		Str("backend", s.cfg.StoreBackend).
		Str("cache_ttl", s.cfg.CacheTTL.String()).
		Bool("cdn_cache_bypass", s.cfg.CDNCacheBypass).
		Int("trusted_proxies", len(s.cfg.Proxies)).
		Str("log_level", s.cfg.LogLevel).
		Msg("badge server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), closeShutdownTimeout)
		defer cancelShutdown()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("badge server shutdown error")
		}
		log.Info().Msg("server stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("badge server: %w", err)
	}
}

// Healthy reports whether the store can serve requests.
func (s *Server) Healthy(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		metrics.StoreErrors.WithLabelValues("ping").Inc()
		return err
	}
	return nil
}

// Close performs graceful shutdown.
func (s *Server) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), closeShutdownTimeout)
	defer cancel()
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("badge server shutdown error")
		}
	}
	if s.metricsSrv != nil {
		if err := s.metricsSrv.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("metrics server shutdown error")
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Warn().Err(err).Msg("store close failed")
		}
	}
}
