package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"kontoros.org/internal/auth"
	"kontoros.org/internal/config"
	"kontoros.org/internal/httpapi"
	"kontoros.org/internal/oauth"
	"kontoros.org/internal/obs"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.New()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	dsn, err := cfg.DSN()
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	privPEM, pubPEM, err := cfg.JWTKeys()
	if err != nil {
		log.Fatalf("jwt keys: %v", err)
	}

	store := auth.NewPGStore(db)
	svc, err := auth.NewService(store, auth.WithRS256Keys(privPEM, pubPEM))
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	flow := buildFlow(cfg, svc)

	api := httpapi.New(cfg, svc, flow, db, version)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting kontoros-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = db.Close()
	log.Println("Stopped")
}

// buildFlow registers a federation provider for each configured credential
// pair. Returns nil when none are configured; the oauth routes then 404.
func buildFlow(cfg *config.Config, svc *auth.Service) *oauth.Flow {
	var providers []oauth.Provider

	if cfg.GoogleClientID != "" && cfg.GoogleClientSecret != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		g, err := oauth.NewGoogle(ctx, cfg.GoogleClientID, cfg.GoogleClientSecret,
			cfg.PublicURL+"/auth/oauth/google/callback")
		cancel()
		if err != nil {
			log.Fatalf("google provider: %v", err)
		}
		providers = append(providers, g)
	}
	if cfg.FacebookClientID != "" && cfg.FacebookClientSecret != "" {
		providers = append(providers, oauth.NewFacebook(
			cfg.FacebookClientID, cfg.FacebookClientSecret,
			cfg.PublicURL+"/auth/oauth/facebook/callback"))
	}

	if len(providers) == 0 {
		return nil
	}
	return oauth.NewFlow(svc, providers)
}
