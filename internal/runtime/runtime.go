package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/loqalabs/totali/internal/bus"
	"github.com/loqalabs/totali/internal/config"
	"github.com/loqalabs/totali/internal/eventstore"
	"github.com/loqalabs/totali/internal/grader"
	"github.com/loqalabs/totali/internal/natsserver"
	"github.com/loqalabs/totali/internal/stt"
	"github.com/loqalabs/totali/internal/tts"
	"golang.org/x/sync/errgroup"
)

const pruneInterval = time.Hour

type service interface {
	Start() error
	Close()
	Healthy() bool
}

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger
	ready  atomic.Bool

	embedded *natsserver.EmbeddedServer
	bus      *bus.Client
	store    *eventstore.Store
	grader   *grader.Service
	services []service
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings the runtime up and blocks until ctx is cancelled or the HTTP
// server fails.
func (r *Runtime) Start(ctx context.Context) error {
	shutdownTelemetry, metricsHandler, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if tErr := shutdownTelemetry(shutdownCtx); tErr != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", tErr.Error()))
		}
	}()

	defer r.close()
	if err := r.startServices(ctx); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", r.handleHealth)
	mux.HandleFunc("GET /readyz", r.handleReady)
	mux.HandleFunc("GET /session", r.handleSession)
	mux.Handle("GET /metrics", metricsHandler)

	addr := net.JoinHostPort(r.cfg.HTTP.Bind, strconv.Itoa(r.cfg.HTTP.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		r.ready.Store(false)
		r.logger.Info("runtime stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		r.pruneLoop(gctx)
		return nil
	})

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	return g.Wait()
}

func (r *Runtime) startServices(ctx context.Context) error {
	busCfg := r.cfg.Bus
	embedded, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return err
	}
	r.embedded = embedded
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}

	r.bus, err = bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return err
	}

	r.store, err = eventstore.Open(ctx, r.cfg.EventStore, r.logger.With(slog.String("component", "eventstore")))
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}

	recognizer, err := newRecognizer(r.cfg.STT)
	if err != nil {
		return err
	}
	synth, err := newSynthesizer(r.cfg.TTS)
	if err != nil {
		return err
	}

	r.grader = grader.NewService(ctx, r.cfg.Grading, r.bus, r.store, r.logger)
	candidates := []service{
		stt.NewService(ctx, r.cfg.STT, r.bus, recognizer),
		tts.NewService(ctx, r.cfg.TTS, r.bus, synth, r.logger),
		r.grader,
	}
	for _, svc := range candidates {
		if err := svc.Start(); err != nil {
			return fmt.Errorf("start service: %w", err)
		}
		r.services = append(r.services, svc)
	}
	return nil
}

// close releases everything startServices acquired, in reverse order. The
// grader is closed before the bus so a listening session can still publish
// its stop.
func (r *Runtime) close() {
	for i := len(r.services) - 1; i >= 0; i-- {
		r.services[i].Close()
	}
	r.services = nil
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("event store close error", slog.String("error", err.Error()))
		}
	}
	r.bus.Close()
	r.embedded.Shutdown()
}

func (r *Runtime) pruneLoop(ctx context.Context) {
	if !r.store.Enabled() {
		return
	}
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.store.Prune(ctx); err != nil {
				r.logger.Warn("event store prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

func newRecognizer(cfg config.STTConfig) (stt.Recognizer, error) {
	if cfg.Mode == "exec" {
		rec, err := stt.NewExecRecognizer(cfg)
		if err != nil {
			return nil, fmt.Errorf("stt backend: %w", err)
		}
		return rec, nil
	}
	return stt.NewMockRecognizer(), nil
}

func newSynthesizer(cfg config.TTSConfig) (tts.Synthesizer, error) {
	if cfg.Mode == "exec" {
		synth, err := tts.NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels)
		if err != nil {
			return nil, fmt.Errorf("tts backend: %w", err)
		}
		return synth, nil
	}
	return tts.NewMockSynth(cfg.SampleRate, cfg.Channels), nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.bus.Healthy() && r.servicesHealthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) servicesHealthy() bool {
	for _, svc := range r.services {
		if !svc.Healthy() {
			return false
		}
	}
	return true
}

func (r *Runtime) handleSession(w http.ResponseWriter, _ *http.Request) {
	if r.grader == nil {
		http.Error(w, "grader not running", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(r.grader.Snapshot()); err != nil {
		r.logger.Warn("failed to encode session snapshot", slog.String("error", err.Error()))
	}
}
