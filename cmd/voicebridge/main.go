package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/spanearme/voicebridge/internal/audio"
	"github.com/spanearme/voicebridge/internal/capture"
	"github.com/spanearme/voicebridge/internal/config"
	"github.com/spanearme/voicebridge/internal/crm"
	"github.com/spanearme/voicebridge/internal/observability"
	"github.com/spanearme/voicebridge/internal/playback"
	"github.com/spanearme/voicebridge/internal/session"
	"github.com/spanearme/voicebridge/internal/tools"
	"github.com/spanearme/voicebridge/internal/transcript"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.SystemPolicy == "" {
		cfg.SystemPolicy = defaultSystemPolicy
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("model", cfg.GeminiModel).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("voicebridge starting")

	// Wire the call engine.
	leads := crm.NewLeadLog()
	crmClient := crm.NewClient(cfg, logger)

	registry := tools.NewRegistry(cfg.ToolTimeoutDuration(), logger)
	if err := registry.Register(tools.NewLeadDefinition(crmClient, leads, logger)); err != nil {
		logger.Fatal().Err(err).Msg("failed to register lead tool")
	}

	sink := playback.NewWriterSink(openPlayer(logger), cfg.PlaybackBufferSize, logger)
	defer sink.Close()
	scheduler := playback.NewScheduler(sink, logger)
	defer scheduler.Close()

	controller := session.New(session.Deps{
		Config: cfg,
		Dial:   session.GeminiDialer(logger),
		NewDevice: func() capture.Device {
			return capture.NewRecorderDevice(cfg.CaptureCommand, cfg.CaptureDevice, cfg.FrameSize, logger)
		},
		Scheduler:  scheduler,
		Registry:   registry,
		Reconciler: transcript.NewReconciler(),
		Leads:      leads,
		Logger:     logger,
	})

	// Call-control surface for the rendering layer.
	mux := http.NewServeMux()
	mux.HandleFunc("POST /call/start", func(w http.ResponseWriter, r *http.Request) {
		if err := controller.Start(r.Context()); err != nil {
			writeJSON(w, startCallStatus(err), map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"state": string(controller.State())})
	})
	mux.HandleFunc("POST /call/end", func(w http.ResponseWriter, r *http.Request) {
		controller.End()
		writeJSON(w, http.StatusOK, map[string]string{"state": string(controller.State())})
	})
	mux.HandleFunc("GET /call", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, controller.Snapshot())
	})

	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"capture": func(ctx context.Context) (bool, error) {
			if _, err := exec.LookPath(cfg.CaptureCommand); err != nil {
				return false, err
			}
			return true, nil
		},
		"crm": func(ctx context.Context) (bool, error) {
			// Configuration-level check only; no paid API call.
			return crmClient != nil, nil
		},
	}))

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("control surface listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	controller.End()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("voicebridge exited gracefully")
}

// openPlayer starts an external raw-PCM player for the 24kHz inbound leg and
// returns its stdin. Falls back to discarding audio when no player is
// available, so the transcript/tool pipeline still works headless.
func openPlayer(logger zerolog.Logger) io.Writer {
	path, err := exec.LookPath("aplay")
	if err != nil {
		logger.Warn().Msg("no audio player found, playback audio will be discarded")
		return io.Discard
	}

	cmd := exec.Command(path,
		"-q",
		"-f", "S16_LE",
		"-r", fmt.Sprintf("%d", audio.OutputSampleRate),
		"-c", "1",
		"-t", "raw",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		logger.Warn().Err(err).Msg("player pipe failed, playback audio will be discarded")
		return io.Discard
	}
	if err := cmd.Start(); err != nil {
		logger.Warn().Err(err).Msg("player start failed, playback audio will be discarded")
		return io.Discard
	}

	logger.Info().Str("player", path).Msg("playback device acquired")
	return stdin
}

// startCallStatus maps a call-start failure to its HTTP status: busy calls
// are a conflict, a missing microphone is the service's dependency being
// unavailable, anything else is an internal failure.
func startCallStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrCallInProgress):
		return http.StatusConflict
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
