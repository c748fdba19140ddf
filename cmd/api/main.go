package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"bonanza-lottery/internal/access"
	"bonanza-lottery/internal/cache"
	"bonanza-lottery/internal/config"
	"bonanza-lottery/internal/coupon"
	"bonanza-lottery/internal/database"
	"bonanza-lottery/internal/events"
	"bonanza-lottery/internal/features"
	"bonanza-lottery/internal/handler"
	"bonanza-lottery/internal/keeper"
	"bonanza-lottery/internal/metrics"
	"bonanza-lottery/internal/middleware"
	"bonanza-lottery/internal/randomness"
	"bonanza-lottery/internal/referral"
	"bonanza-lottery/internal/service"
	"bonanza-lottery/internal/token"
	"bonanza-lottery/internal/tracing"
)

// memoryDSN keeps all engine state in process.
const memoryDSN = "memory"

var version = "dev"

func main() {
	configFile := flag.String("config", "", "Path to a JSON config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	logger := newLogger(cfg.Logging)

	if _, err := tracing.InitTracing(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: "bonanza-lottery",
		Version:     version,
		Environment: cfg.Tracing.Environment,
		SampleRatio: cfg.Tracing.SampleRatio,
	}); err != nil {
		logger.Fatalf("Failed to initialize tracing: %v", err)
	}

	store, err := openStore(cfg.Database.DSN)
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	c, err := openCache(cfg.Redis, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize cache: %v", err)
	}

	flags := features.NewManager()
	features.RegisterDefaults(flags)
	for name, enabled := range cfg.Features {
		if !flags.Set(name, enabled) {
			logger.WithField("feature", name).Warn("Ignoring unknown feature flag")
		}
	}

	roles, affiliateReceiver, err := newRoles(cfg.Admin)
	if err != nil {
		logger.Fatalf("Invalid admin configuration: %v", err)
	}

	settings, err := cfg.ToSettings()
	if err != nil {
		logger.Fatalf("Invalid lottery configuration: %v", err)
	}
	engineAddr, err := config.Address("chain.engine_address", cfg.Chain.EngineAddress)
	if err != nil {
		logger.Fatalf("Invalid chain configuration: %v", err)
	}

	verifier, redeemer, err := newCoupons(cfg, c)
	if err != nil {
		logger.Fatalf("Invalid coupon configuration: %v", err)
	}

	var (
		source  randomness.Source
		results *randomness.Fixed
	)
	switch cfg.Randomness.Mode {
	case "fixed":
		results = randomness.NewFixed()
		source = results
	case "", "generator":
		source = randomness.NewGenerator()
	default:
		logger.Fatalf("Unknown randomness mode %q", cfg.Randomness.Mode)
	}

	em := events.NewManager(flags.IsEnabled(features.FeatureEventHooks), logger)
	subscribeLogging(em, logger)
	defer em.Shutdown()

	ledger := token.NewMemoryLedger()

	svc, err := service.NewService(service.Options{
		Store:             store,
		Ledger:            ledger,
		Randomness:        source,
		Referrals:         referral.NewMemoryLedger(),
		Coupons:           verifier,
		Redeemer:          redeemer,
		Roles:             roles,
		Events:            em,
		Features:          flags,
		Cache:             c,
		Logger:            logger,
		Settings:          settings,
		Address:           engineAddr,
		AffiliateReceiver: affiliateReceiver,
	})
	if err != nil {
		logger.Fatalf("Failed to initialize engine: %v", err)
	}

	if cfg.Keeper.Enabled {
		k := keeper.New(keeper.Options{
			Engine:     svc,
			Randomness: source,
			Features:   flags,
			Operator:   func() (common.Address, bool) { return roles.Member(access.RoleOperator) },
			Logger:     logger,
		})
		if err := k.Start(cfg.Keeper.Schedule); err != nil {
			logger.Fatalf("Failed to start keeper: %v", err)
		}
		defer k.Stop()
	}

	// The in-memory ledger stands in for the payment token; the dev endpoints fund it.
	h := handler.NewHandlerWithOptions(svc, handler.NewHandlerOptions{
		MaxBodySize: cfg.Security.MaxRequestBodySize,
		Features:    flags,
		Faucet:      ledger,
		Results:     results,
		Roles:       roles,
		Logger:      logger,
	})

	r := chi.NewRouter()

	// Middleware (order matters)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(cfg.Security.AllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.CallerHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.TracingMiddleware())
	r.Use(metrics.InstrumentHandler)
	r.Use(middleware.NewAuth(cfg.Auth.JWTSecret, cfg.Auth.AllowCallerHeader, logger).Handler)

	if cfg.RateLimit.Enabled {
		rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.Rate, time.Duration(cfg.RateLimit.Window)*time.Second, logger)
		defer rateLimiter.Stop()
		r.Use(middleware.RateLimitMiddleware(rateLimiter))
	}

	h.Routes(r)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	protocol := "HTTP"
	if cfg.Server.EnableTLS {
		protocol = "HTTPS"
	}
	logger.WithFields(logrus.Fields{
		"addr":       addr,
		"protocol":   protocol,
		"database":   cfg.Database.DSN,
		"randomness": cfg.Randomness.Mode,
		"keeper":     cfg.Keeper.Enabled,
	}).Info("Starting server")

	errc := make(chan error, 1)
	go func() {
		if cfg.Server.EnableTLS {
			errc <- server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
			return
		}
		errc <- server.ListenAndServe()
	}()

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed: %v", err)
		}
	case <-sigint:
		logger.Info("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Errorf("Error closing server: %v", err)
		}
		if err := tracing.Shutdown(ctx); err != nil {
			logger.Errorf("Error flushing traces: %v", err)
		}
	}
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

func openStore(dsn string) (database.Store, error) {
	if dsn == memoryDSN {
		return database.NewMemoryStore(), nil
	}
	return database.NewDB(dsn)
}

func openCache(cfg config.RedisConfig, logger logrus.FieldLogger) (cache.Cache, error) {
	if !cfg.Enabled {
		return cache.NewInMemoryCache(), nil
	}
	rc, err := cache.NewRedisCache(cfg.Addr, cfg.Password, cfg.DB, cfg.Prefix)
	if err != nil {
		return nil, err
	}
	logger.WithField("addr", cfg.Addr).Info("Connected to Redis")
	return rc, nil
}

// newRoles grants the configured role holders. Unset roles stay empty.
func newRoles(cfg config.AdminConfig) (*access.Control, common.Address, error) {
	admin, err := config.Address("admin.admin", cfg.Admin)
	if err != nil {
		return nil, common.Address{}, err
	}
	roles := access.NewControl(admin)

	grants := []struct {
		field string
		value string
		role  access.Role
	}{
		{"admin.operator", cfg.Operator, access.RoleOperator},
		{"admin.treasury", cfg.Treasury, access.RoleTreasury},
		{"admin.injector", cfg.Injector, access.RoleInjector},
	}
	for _, g := range grants {
		account, err := config.Address(g.field, g.value)
		if err != nil {
			return nil, common.Address{}, err
		}
		if account != (common.Address{}) {
			roles.Grant(g.role, account)
		}
	}

	receiver, err := config.Address("admin.affiliate_receiver", cfg.AffiliateReceiver)
	if err != nil {
		return nil, common.Address{}, err
	}
	return roles, receiver, nil
}

// newCoupons returns a nil verifier when no signer is configured; coupons are then rejected.
func newCoupons(cfg *config.Config, c cache.Cache) (*coupon.Verifier, coupon.Redeemer, error) {
	signer, err := config.Address("chain.coupon_signer", cfg.Chain.CouponSigner)
	if err != nil {
		return nil, nil, err
	}
	contract, err := config.Address("chain.verifying_contract", cfg.Chain.VerifyingContract)
	if err != nil {
		return nil, nil, err
	}

	var redeemer coupon.Redeemer = coupon.Unlimited{}
	if cfg.Coupon.SingleUse {
		redeemer = coupon.NewCacheRedeemer(c, time.Duration(cfg.Coupon.RedemptionTTL)*time.Second)
	}
	if signer == (common.Address{}) {
		return nil, redeemer, nil
	}
	domain := coupon.NewDomain(big.NewInt(cfg.Chain.ChainID), contract)
	return coupon.NewVerifier(domain, signer), redeemer, nil
}

func subscribeLogging(em *events.Manager, logger logrus.FieldLogger) {
	types := []events.EventType{
		events.EventLotteryOpen,
		events.EventLotteryClose,
		events.EventLotteryInjection,
		events.EventTicketsPurchase,
		events.EventNumberDrawn,
		events.EventTicketsClaim,
		events.EventWithdrawal,
		events.EventAdminUpdated,
	}
	for _, t := range types {
		em.Subscribe(t, func(ctx context.Context, e events.Event) error {
			logger.WithFields(logrus.Fields{
				"event_id": e.ID,
				"event":    e.Type,
				"data":     e.Data,
			}).Info("Engine event")
			return nil
		})
	}
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
