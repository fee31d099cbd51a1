package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	hatoverlay "github.com/menta2k/hat-overlay"
	"github.com/menta2k/hat-overlay/internal/config"
	"github.com/menta2k/hat-overlay/internal/httpserver"
	"github.com/menta2k/hat-overlay/internal/logging"
	"github.com/menta2k/hat-overlay/internal/metrics"
	"github.com/menta2k/hat-overlay/pkg/asset"
	"github.com/menta2k/hat-overlay/pkg/client"
	"github.com/menta2k/hat-overlay/pkg/compositor"
	"github.com/menta2k/hat-overlay/pkg/edit"
	"github.com/menta2k/hat-overlay/pkg/gemini"
	"github.com/menta2k/hat-overlay/pkg/ollama"
	"github.com/menta2k/hat-overlay/pkg/placement"
)

type backends struct {
	vision client.VisionClient
	editor client.ImageEditor
	model  string
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// setupBackends builds the model clients. A missing Gemini key is not fatal:
// editing is disabled and placement falls back unless ollama serves it.
func setupBackends(cfg *config.Config, domain *metrics.DomainMetrics) backends {
	var b backends

	gc, err := gemini.NewClient(gemini.Config{
		APIKey:        cfg.GeminiAPIKey,
		BaseURL:       cfg.GeminiBaseURL,
		Timeout:       cfg.EditTimeout,
		OnStateChange: domain.BreakerStateChanged,
	})
	switch {
	case errors.Is(err, client.ErrNotConfigured):
		slog.Warn("GEMINI_API_KEY not set, image editing disabled")
	case err != nil:
		slog.Error("Failed to create Gemini client", "error", err)
		os.Exit(1)
	default:
		b.editor = domain.InstrumentEditor(gc)
	}

	switch cfg.VisionBackend {
	case "ollama":
		oc, err := ollama.NewClient(cfg.OllamaURL)
		if err != nil {
			slog.Error("Failed to create Ollama client", "error", err)
			os.Exit(1)
		}
		b.vision = domain.InstrumentVision(oc)
		b.model = cfg.OllamaModel
	default:
		if gc != nil {
			b.vision = domain.InstrumentVision(gc)
		} else {
			slog.Warn("No vision backend available, placement uses the fallback")
		}
		b.model = cfg.PlacementModel
	}

	return b
}

func setupService(cfg *config.Config, b backends, cache *asset.Cache) *hatoverlay.HatOverlay {
	pcfg := placement.DefaultConfig()
	pcfg.Model = b.model
	pcfg.FallbackAnchorX = cfg.FallbackAnchorX
	pcfg.FallbackAnchorY = cfg.FallbackAnchorY
	pcfg.FallbackWidthRatio = cfg.FallbackWidthRatio
	pcfg.SendMaxDim = cfg.SendMaxDim
	pcfg.SendQuality = cfg.SendQuality
	pcfg.Timeout = cfg.UpstreamTimeout
	estimator := placement.NewWithConfig(b.vision, pcfg)

	pipeline := edit.NewWithConfig(b.editor, edit.Config{Model: cfg.EditModel, Timeout: cfg.EditTimeout})
	comp := compositor.NewWithConfig(compositor.Config{AnchorRatio: cfg.HatAnchorRatio})

	return hatoverlay.NewWithConfig(estimator, cache, comp, pipeline)
}

func runGracefulShutdown(srv *httpserver.Server, cfg *config.Config) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", hatoverlay.GetVersion())

	registry := metrics.NewRegistry()
	domain := metrics.NewDomainMetrics(registry)

	b := setupBackends(cfg, domain)

	cache := asset.NewCache(cfg.HatURL,
		asset.WithClock(clock),
		asset.WithTimeout(cfg.AssetFetchTimeout),
		asset.WithObserver(domain.ObserveAssetFetch),
	)

	svc := setupService(cfg, b, cache)

	srv, err := httpserver.NewServer(cfg, httpserver.Dependencies{
		Service:  svc,
		Assets:   cache,
		Registry: registry,
		Domain:   domain,
		HealthChecks: []httpserver.HealthCheck{
			{Name: "hat_asset", Check: cache.Check},
		},
		Clock: clock,
	})
	if err != nil {
		slog.Error("Failed to create server", "error", err)
		os.Exit(1)
	}

	done := runGracefulShutdown(srv, cfg)

	slog.Info("Server starting", "port", cfg.Port, "hat", cache.Source(), "editing", b.editor != nil)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
