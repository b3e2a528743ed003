package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ipishield/ipishield/internal/audit"
	"github.com/ipishield/ipishield/internal/config"
	"github.com/ipishield/ipishield/internal/gateway"
	"github.com/ipishield/ipishield/internal/logging"
	"github.com/ipishield/ipishield/internal/notify"
	"github.com/ipishield/ipishield/internal/ratelimit"
	"github.com/ipishield/ipishield/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Setup("error", os.Stderr).Error("config load failed", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.LogLevel, os.Stdout)
	logger.Info("starting IPI Shield")

	// Audit store: Redis when configured, in-memory otherwise.
	var store audit.Store = audit.NewMemoryStore()
	var redisStore *audit.RedisStore
	if cfg.Redis.Addr != "" {
		redisStore = audit.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisStore.Ping(ctx)
		cancel()
		if err != nil {
			logger.Warn("Redis not available, keeping audit trail in memory", "error", err)
			redisStore.Close()
			redisStore = nil
		} else {
			logger.Info("Redis connected", "addr", cfg.Redis.Addr)
			store = redisStore
		}
	}

	// Downstream model: real client only with an API key.
	var llm gateway.LLM = gateway.NewMockLLM()
	if cfg.LLM.APIKey != "" {
		llm = gateway.NewOpenAIClient(cfg.LLM.APIKey, cfg.LLM.BaseURL)
		logger.Info("LLM client configured", "base_url", cfg.LLM.BaseURL)
	} else {
		logger.Info("no API key configured, using simulated LLM")
	}

	opts := []gateway.Option{
		gateway.WithStore(store),
		gateway.WithLLM(llm),
	}

	var dispatcher *notify.Dispatcher
	if len(cfg.Webhooks) > 0 {
		whCfg := notify.DefaultConfig()
		whCfg.Destinations = cfg.Webhooks
		dispatcher = notify.NewDispatcher(whCfg)
		defer dispatcher.Close()
		opts = append(opts, gateway.WithNotifier(dispatcher))
		logger.Info("webhook notifications enabled", "destinations", len(cfg.Webhooks))
	}

	gw := gateway.New(opts...)

	srvOpts := []server.Option{
		server.WithSanitizeDefaults(cfg.Sanitization.DefaultMode, cfg.Sanitization.CustomPatterns),
	}
	if cfg.RateLimit.Enabled {
		rl := ratelimit.New(ratelimit.Config{
			MaxRequests:     cfg.RateLimit.MaxRequests,
			Window:          time.Duration(cfg.RateLimit.WindowSec) * time.Second,
			CleanupInterval: 5 * time.Minute,
		})
		defer rl.Close()
		srvOpts = append(srvOpts, server.WithRateLimiter(rl))
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      server.New(gw, srvOpts...).Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("listening", "addr", cfg.Server.ListenAddr)
		if cfg.Server.TLSCert != "" && cfg.Server.TLSKey != "" {
			logger.Info("TLS enabled", "cert", cfg.Server.TLSCert)
			if err := httpServer.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey); err != nil && err != http.ErrServerClosed {
				logger.Error("server error", "error", err)
				os.Exit(1)
			}
		} else {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("server error", "error", err)
				os.Exit(1)
			}
		}
	}()

	<-done
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if redisStore != nil {
		if err := redisStore.Close(); err != nil {
			logger.Error("redis close error", "error", err)
		}
	}

	logger.Info("stopped")
}
