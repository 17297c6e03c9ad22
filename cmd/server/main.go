package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/pavelq/cowatch/internal/adapters/http"
	"github.com/pavelq/cowatch/internal/adapters/ws"
	"github.com/pavelq/cowatch/internal/app"
	"github.com/pavelq/cowatch/internal/clients"
	"github.com/pavelq/cowatch/internal/config"
	"github.com/pavelq/cowatch/internal/party"
	"github.com/pavelq/cowatch/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	db, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("db_path", cfg.DBPath).Msg("failed to open party store")
	}
	defer db.Close()

	parties := party.NewService(store.NewPartyStore(db))
	coord := app.NewCoordinator(app.NewRegistry(), parties, cfg.MaxPartySize)

	limiter := ws.NewJoinRateLimiter(cfg.JoinRateLimit, cfg.JoinRateWin)
	wsCtl := ws.NewController(coord, limiter)

	handlers := &router.PartyHandlers{
		Parties: parties,
		Coord:   coord,
		Catalog: clients.NewCatalog(cfg.CatalogURL),
		Friends: clients.NewFriends(cfg.FriendsURL),
	}

	r := router.SetupRouter(ctx, cfg, handlers, wsCtl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("cowatch server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
