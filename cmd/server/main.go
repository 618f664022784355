package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ethapplist/internal/config"
	"ethapplist/internal/db"
	"ethapplist/internal/identity"
	"ethapplist/internal/kv"
	"ethapplist/internal/logger"
	"ethapplist/internal/middleware"
	"ethapplist/internal/router"
	"ethapplist/internal/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, finding env vars from system")
	}

	configPath := os.Getenv("CONFIG_FILE")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLog := logger.New(logger.Config{Level: cfg.Logging.Level, Environment: cfg.App.Environment})
	defer appLog.Sync()

	// Initialize Database
	gdb, err := db.Open(cfg.Database.URL, appLog)
	if err != nil {
		appLog.Fatal("Failed to open database", "error", err)
	}

	store, err := kv.Open(cfg.KV.Path, appLog)
	if err != nil {
		appLog.Fatal("Failed to open key/value store", "error", err)
	}
	defer store.Close()
	if err := store.StartGC(cfg.KV.GCSchedule); err != nil {
		appLog.Fatal("Failed to schedule key/value GC", "error", err)
	}

	verifier := identity.NewVerifier(identity.Config{
		AppName:      cfg.Auth.AppName,
		HashKey:      []byte(cfg.Auth.SessionSecret),
		BlockKey:     []byte(cfg.Auth.BlockSecret),
		SessionTTL:   cfg.Auth.SessionTTL,
		AcceptWindow: cfg.Auth.ChallengeWindow,
	}, kv.NewTokenStore(store), appLog)

	catalog := services.NewCatalog(gdb, appLog)
	revisions := services.NewRevisionStore(gdb, appLog)
	revisions.OnCommit(func(*services.CommitResult) { catalog.InvalidateCounts() })
	votes := services.NewVoteLedger(gdb, appLog)
	ranker := services.NewTrendingRanker(gdb, votes, appLog)
	deps := router.Deps{
		DB:        gdb,
		Verifier:  verifier,
		Accounts:  services.NewAccounts(gdb, cfg.Roles.Admins, cfg.Roles.Curators),
		Catalog:   catalog,
		Revisions: revisions,
		Votes:     votes,
		Ranker:    ranker,
		Listings:  services.NewListings(gdb, ranker),
		Ratings:   services.NewRatings(gdb, revisions),
		Queue: services.NewModerationQueue(store.DB, revisions, catalog, services.ModerationConfig{
			ClaimTTL:     cfg.Moderation.ClaimTTL,
			DecisionWait: cfg.Moderation.DecisionWait,
		}, appLog),
	}

	// Initialize Gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(appLog))
	r.Use(cors.New(corsConfig(cfg.App.AllowedOrigins)))

	// Setup Sessions
	sessionStore := cookie.NewStore([]byte(cfg.Auth.SessionSecret))
	sessionStore.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.Auth.SessionTTL / time.Second),
		HttpOnly: true,
		Secure:   cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions("ethapplist_session", sessionStore))

	router.RegisterRoutes(r, deps)

	srv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		appLog.Info("EthAppList server starting", "port", cfg.App.Port, "environment", cfg.App.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Fatal("Server failed", "error", err)
		}
	}()

	<-ctx.Done()
	appLog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("Graceful shutdown failed", "error", err)
	}
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowHeaders = append(cfg.AllowHeaders, "Authorization", middleware.RequestIDHeader)
	cfg.ExposeHeaders = []string{middleware.RequestIDHeader}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}
