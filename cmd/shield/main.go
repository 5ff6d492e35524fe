package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"dpdpshield/internal/artifact"
	"dpdpshield/internal/auth"
	"dpdpshield/internal/config"
	"dpdpshield/internal/domain"
	"dpdpshield/internal/dsr"
	"dpdpshield/internal/incident"
	"dpdpshield/internal/ledger"
	"dpdpshield/internal/notify"
	"dpdpshield/internal/otp"
	"dpdpshield/internal/ratelimit"
	"dpdpshield/internal/seed"
	"dpdpshield/internal/server"
	"dpdpshield/internal/settings"
	"dpdpshield/internal/tabstore"
	"dpdpshield/internal/util"
	"dpdpshield/internal/vector"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	store, err := tabstore.New(cfg.DataDir)
	if err != nil {
		log.Fatalf("failed to open record store: %v", err)
	}
	if err := store.CreateTable(domain.TableCustomers, domain.CustomerSchema); err != nil {
		log.Fatalf("failed to create customers table: %v", err)
	}
	led, err := ledger.New(store)
	if err != nil {
		log.Fatalf("failed to init ledger: %v", err)
	}
	renderer, err := artifact.NewRenderer(cfg.ArtifactDir)
	if err != nil {
		log.Fatalf("failed to init artifact renderer: %v", err)
	}
	authn, err := auth.New(store, cfg.JWTSecret, cfg.AdminEmail, cfg.AdminPassword)
	if err != nil {
		log.Fatalf("failed to init auth: %v", err)
	}
	state, err := incident.NewStateStore(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("failed to init incident state store: %v", err)
	}
	otpStore, err := otp.NewStore(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("failed to init otp store: %v", err)
	}
	cfgStore, err := settings.NewStore(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("failed to init settings store: %v", err)
	}

	notifier := notify.NewSMTPNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
	engine := incident.NewEngine(state, store, led, renderer, notifier)
	pipeline, err := dsr.NewPipeline(store, led, renderer, otpStore, notifier)
	if err != nil {
		log.Fatalf("failed to init dsr pipeline: %v", err)
	}

	if err := seed.Customers(store, cfg.SeedCustomers); err != nil {
		log.Fatalf("failed to seed customers: %v", err)
	}
	if err := seed.SampleIncident(led, renderer); err != nil {
		log.Fatalf("failed to seed sample incident: %v", err)
	}

	var loginLimiter, verifyLimiter *ratelimit.FixedWindowLimiter
	if cfg.LoginRateLimitPerMinute > 0 {
		loginLimiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword,
			"shield:ratelimit:login", cfg.LoginRateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init login rate limiter: %v", err)
		}
	}
	if cfg.VerifyRateLimitPerMinute > 0 {
		verifyLimiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword,
			"shield:ratelimit:verify", cfg.VerifyRateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init verify rate limiter: %v", err)
		}
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	httpServer := server.New(server.Config{
		Auth:           authn,
		Store:          store,
		Ledger:         led,
		Renderer:       renderer,
		Engine:         engine,
		Pipeline:       pipeline,
		Analyzer:       vector.NewAnalyzer(cfgStore, renderer, led),
		Settings:       cfgStore,
		Notifier:       notifier,
		LoginLimiter:   loginLimiter,
		VerifyLimiter:  verifyLimiter,
		TrustedProxies: trusted,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("shield server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
