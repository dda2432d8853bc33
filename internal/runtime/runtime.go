// Package runtime assembles the parrot process from configuration and runs
// it until the supervisor stops or the context is cancelled.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/loqalabs/loqa-parrot/internal/bus"
	"github.com/loqalabs/loqa-parrot/internal/capture"
	"github.com/loqalabs/loqa-parrot/internal/config"
	"github.com/loqalabs/loqa-parrot/internal/hotkey"
	"github.com/loqalabs/loqa-parrot/internal/journal"
	"github.com/loqalabs/loqa-parrot/internal/natsserver"
	"github.com/loqalabs/loqa-parrot/internal/presenter"
	"github.com/loqalabs/loqa-parrot/internal/session"
	"github.com/loqalabs/loqa-parrot/internal/stt"
	"github.com/loqalabs/loqa-parrot/internal/supervisor"
	"github.com/loqalabs/loqa-parrot/internal/tts"
	"github.com/loqalabs/loqa-parrot/internal/voices"
)

const instrumentation = "github.com/loqalabs/loqa-parrot"

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	out         io.Writer
	servers     []*http.Server
	tracerClose func(context.Context) error
	store       *session.Store
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
		out:    os.Stdout,
	}
}

// ListVoices returns the voices installed for the configured TTS engine.
func ListVoices(ctx context.Context, cfg config.Config, logger *slog.Logger) ([]tts.Voice, error) {
	engine, err := tts.NewEngine(ctx, cfg.TTS, logger)
	if err != nil {
		return nil, err
	}
	defer closeQuietly(engine)
	return engine.Voices(ctx)
}

// Start blocks until the supervisor returns. Voice list errors are returned
// wrapped so callers can match them with errors.Is.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	defer r.closeTelemetry()

	engine, err := tts.NewEngine(ctx, r.cfg.TTS, r.logger)
	if err != nil {
		return fmt.Errorf("tts engine: %w", err)
	}
	defer closeQuietly(engine)

	registry, err := voices.Ensure(ctx, r.cfg.Voices.File, engine, r.logger)
	if err != nil {
		return fmt.Errorf("voice list: %w", err)
	}

	player, err := tts.NewPlayer(r.cfg.TTS)
	if err != nil {
		return err
	}

	source, err := capture.NewSource(r.cfg.Audio, r.logger)
	if err != nil {
		return fmt.Errorf("audio source: %w", err)
	}

	recognizer, err := stt.New(ctx, r.cfg.STT, r.logger)
	if err != nil {
		return fmt.Errorf("recognizer: %w", err)
	}
	defer closeQuietly(recognizer)

	store, err := journal.Open(ctx, r.cfg.Journal, r.logger)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	defer store.Close()
	if err := store.Prune(ctx); err != nil {
		r.logger.Warn("journal prune failed", slog.String("error", err.Error()))
	}

	r.store = session.NewStore(initialState(r.cfg, registry, r.logger))
	speaker := tts.NewSpeaker(engine, player, r.store.Muted,
		time.Duration(r.cfg.TTS.TimeoutMS)*time.Millisecond, r.logger)

	commands := make(chan hotkey.Command, 16)
	if r.cfg.Hotkeys.Enabled {
		kb := hotkey.NewKeyboardSource(hotkey.KeymapFrom(r.cfg.Hotkeys), r.logger)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := kb.Run(ctx, commands); err != nil {
				r.logger.Warn("hotkeys unavailable", slog.String("error", err.Error()))
			}
		}()
	}

	var publisher supervisor.Publisher
	if r.cfg.Bus.Enabled {
		client, stopBus, err := r.startBus(ctx, commands)
		if err != nil {
			return err
		}
		defer stopBus()
		publisher = client
	}

	metrics, err := supervisor.NewMetrics(otel.Meter(instrumentation))
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	sup, err := supervisor.New(supervisor.Options{
		Source:       source,
		Recognizer:   recognizer,
		StreamConfig: stt.StreamConfigFrom(r.cfg.Audio, r.cfg.STT),
		Speaker:      speaker,
		Presenter:    presenter.New(r.out),
		Voices:       registry,
		Store:        r.store,
		Commands:     commands,
		Budget:       time.Duration(r.cfg.Session.BudgetMS) * time.Millisecond,
		Retry:        r.cfg.Retry,
		Journal:      store,
		Publisher:    publisher,
		Indicator:    presenter.NewPausedSpinner(r.out),
		Metrics:      metrics,
		Tracer:       otel.Tracer(instrumentation),
		Logger:       r.logger,
	})
	if err != nil {
		return err
	}

	r.startHTTP(metricHandler)

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.Int("voices", registry.Len()),
		slog.String("stt", r.cfg.STT.Mode),
		slog.String("tts", r.cfg.TTS.Mode))

	runErr := sup.Run(ctx)

	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	cancel()
	r.stopHTTP()
	r.wg.Wait()
	return runErr
}

// startBus starts the embedded server when configured, connects, and routes
// control messages into commands.
func (r *Runtime) startBus(ctx context.Context, commands chan<- hotkey.Command) (*bus.Client, func(), error) {
	busCfg := r.cfg.Bus
	var embedded *natsserver.EmbeddedServer
	if busCfg.Embedded {
		srv, err := natsserver.Start(busCfg, r.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("embedded nats: %w", err)
		}
		embedded = srv
		busCfg.Servers = []string{srv.ClientURL()}
	}

	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		if embedded != nil {
			embedded.Shutdown()
		}
		return nil, nil, fmt.Errorf("bus connect: %w", err)
	}

	maxAge := time.Duration(r.cfg.Journal.RetentionDays) * 24 * time.Hour
	if err := client.EnsureTranscriptStream(maxAge); err != nil {
		r.logger.Warn("transcript stream unavailable", slog.String("error", err.Error()))
	}

	sub, err := client.SubscribeControl(ctx, commands)
	if err != nil {
		r.logger.Warn("control subscription failed", slog.String("error", err.Error()))
	}

	stop := func() {
		if sub != nil {
			_ = sub.Unsubscribe()
		}
		client.Close()
		if embedded != nil {
			embedded.Shutdown()
		}
	}
	return client, stop, nil
}

func (r *Runtime) startHTTP(metricHandler http.Handler) {
	if r.cfg.HTTP.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", r.handleHealth)
		mux.HandleFunc("/readyz", r.handleReady)
		mux.HandleFunc("/state", r.handleState)
		if metricHandler != nil && r.cfg.Telemetry.PrometheusBind == "" {
			mux.Handle("/metrics", metricHandler)
		}
		r.serve(fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port), mux)
	}
	if metricHandler != nil && r.cfg.Telemetry.PrometheusBind != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricHandler)
		r.serve(r.cfg.Telemetry.PrometheusBind, mux)
	}
}

func (r *Runtime) serve(addr string, handler http.Handler) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.servers = append(r.servers, srv)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("addr", addr), slog.String("error", err.Error()))
		}
	}()
	r.logger.Info("http listening", slog.String("addr", addr))
}

func (r *Runtime) stopHTTP() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range r.servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) closeTelemetry() {
	if r.tracerClose == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.tracerClose(ctx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
}

// initialState applies the configured start flags and preferred voice. An
// unknown preferred voice falls back to slot 0.
func initialState(cfg config.Config, registry *voices.Registry, logger *slog.Logger) session.State {
	st := session.State{
		Listening: cfg.Session.StartListening,
		Muted:     cfg.Session.StartMuted,
		Phase:     session.Idle,
	}
	slot := 0
	if cfg.TTS.Voice != "" {
		if n, ok := registry.Find(cfg.TTS.Voice); ok {
			slot = n
		} else {
			logger.Warn("preferred voice not in voice list", slog.String("voice", cfg.TTS.Voice))
		}
	}
	if v, ok := registry.Slot(slot); ok {
		st.VoiceSlot = slot
		st.Voice = v
	}
	return st
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

type stateView struct {
	Phase        string    `json:"phase"`
	Listening    bool      `json:"listening"`
	Muted        bool      `json:"muted"`
	VoiceSlot    int       `json:"voice_slot"`
	Voice        string    `json:"voice"`
	SessionID    string    `json:"session_id,omitempty"`
	SessionStart time.Time `json:"session_start"`
}

func (r *Runtime) handleState(w http.ResponseWriter, _ *http.Request) {
	if r.store == nil {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	st := r.store.Load()
	view := stateView{
		Phase:        st.Phase.String(),
		Listening:    st.Listening,
		Muted:        st.Muted,
		VoiceSlot:    st.VoiceSlot,
		Voice:        st.Voice.Name,
		SessionID:    st.SessionID,
		SessionStart: st.SessionStart,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(view)
}

func closeQuietly(v any) {
	if c, ok := v.(io.Closer); ok {
		_ = c.Close()
	}
}
