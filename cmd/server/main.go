package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hls-relay/internal/discovery"
	"hls-relay/internal/platform/config"
	"hls-relay/internal/platform/logger"
	"hls-relay/internal/platform/metrics"
	"hls-relay/internal/proxy"
	"hls-relay/internal/upstream"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "3000")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	shutdownTimeout := config.GetEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second)

	log := logger.New(logLevel, logFormat)

	policy, err := upstream.ParseHeaderPolicy(config.GetEnv("HEADER_POLICY", "forward"))
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	identity := upstream.Identity{
		UserAgent: config.GetEnv("FIXED_USER_AGENT", upstream.DefaultUserAgent),
		Referer:   config.GetEnv("FIXED_REFERER", ""),
	}
	fetcher := upstream.New(upstream.Options{
		Policy:                policy,
		Identity:              identity,
		DialTimeout:           config.GetEnvDuration("UPSTREAM_DIAL_TIMEOUT", upstream.DefaultDialTimeout),
		TLSHandshakeTimeout:   config.GetEnvDuration("UPSTREAM_TLS_TIMEOUT", upstream.DefaultTLSHandshakeTimeout),
		ResponseHeaderTimeout: config.GetEnvDuration("UPSTREAM_HEADER_TIMEOUT", upstream.DefaultResponseHeaderTimeout),
		PlaylistTimeout:       config.GetEnvDuration("PLAYLIST_TIMEOUT", upstream.DefaultPlaylistTimeout),
		IdleTimeout:           config.GetEnvDuration("SEGMENT_IDLE_TIMEOUT", upstream.DefaultIdleTimeout),
		MaxPlaylistBytes:      int64(config.GetEnvInt("MAX_PLAYLIST_BYTES", upstream.DefaultMaxPlaylistBytes)),
	})

	met := metrics.New()
	svc := proxy.NewService(fetcher, log, met)

	var disc discovery.Discoverer
	discoveryEnabled := config.GetEnvBool("DISCOVERY_ENABLED", true)
	if discoveryEnabled {
		browser := discovery.NewBrowser(discovery.BrowserOptions{
			ExecPath:          config.GetEnv("CHROME_PATH", ""),
			UserAgent:         identity.UserAgent,
			NavigationTimeout: config.GetEnvDuration("DISCOVERY_NAV_TIMEOUT", discovery.DefaultNavigationTimeout),
			Settle:            config.GetEnvDuration("DISCOVERY_SETTLE", discovery.DefaultSettle),
		}, log)
		defer browser.Close()

		limited := discovery.NewLimited(browser,
			config.GetEnvInt("DISCOVERY_MAX_CONCURRENT", 2),
			config.GetEnvInt("DISCOVERY_RATE_PER_MIN", 30),
			config.GetEnvDuration("DISCOVERY_QUEUE_TIMEOUT", discovery.DefaultQueueTimeout))
		disc = &discovery.Retrying{
			Next:    limited,
			Backoff: config.GetEnvDuration("DISCOVERY_RETRY_BACKOFF", discovery.DefaultRetryBackoff),
			Log:     log,
		}
	}

	h := proxy.NewHandler(svc, disc, log, met)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Use(proxy.CORS)
	r.Method(http.MethodGet, "/metrics", met.Handler())
	h.Register(r)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"header_policy", policy.String(),
		"discovery", discoveryEnabled,
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
