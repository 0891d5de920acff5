package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pushpaanand/teleconsult/internal/api"
	"github.com/pushpaanand/teleconsult/internal/config"
	"github.com/pushpaanand/teleconsult/internal/ledger"
	"github.com/pushpaanand/teleconsult/internal/postcall"
	"github.com/pushpaanand/teleconsult/internal/provider"
	"github.com/pushpaanand/teleconsult/internal/provider/httpkit"
	"github.com/pushpaanand/teleconsult/internal/repository"
	"github.com/pushpaanand/teleconsult/internal/resolver"
	"github.com/pushpaanand/teleconsult/internal/session"
	"github.com/pushpaanand/teleconsult/internal/utils"
	"github.com/pushpaanand/teleconsult/internal/web"
)

const providerRequestTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			return serve(cfg, utils.NewLogger(cfg.Log.Level, cfg.Log.Format, os.Stderr))
		},
	}
}

// application is the wired process: every collaborator behind the HTTP handler
type application struct {
	handler http.Handler
	manager *session.Manager
	events  *web.Broadcaster
	closers []func() error
	log     zerolog.Logger
}

func newApplication(cfg *config.Config, logger zerolog.Logger) (*application, error) {
	app := &application{log: logger}

	creds := provider.CredentialsFromConfig(cfg.Provider)
	if _, err := creds.Validate(); err != nil {
		// Consultations still open so the page can show the init error
		logger.Warn().Err(err).Msg("Provider credentials are unusable, every join will fail")
	}

	repo, err := repository.NewRepository(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize repository: %w", err)
	}
	app.closers = append(app.closers, repo.Close)

	var recorder session.Recorder
	if cfg.Ledger.Path != "" {
		l, err := ledger.Open(cfg.Ledger.Path)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("failed to open outcome ledger: %w", err)
		}
		app.closers = append(app.closers, l.Close)
		recorder = l
	}

	catalog, err := postcall.Load(cfg.Session.PostCallScripts)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("failed to load post-call scripts: %w", err)
	}
	logger.Info().Int("departments", catalog.Len()).Msg("Post-call scripts loaded")

	kits := httpkit.New(cfg.Provider.BaseURL, providerRequestTimeout, logger)
	res := resolver.New(resolver.NewDecryptClient(cfg.Decrypt.URL, cfg.Decrypt.Timeout), repo, logger)

	app.events = web.NewBroadcaster(logger)
	app.manager = session.NewManager(session.ManagerConfig{
		Credentials:    creds,
		FallbackWindow: cfg.Session.JoinFallbackWindow,
		PollInterval:   cfg.Session.PollInterval,
		Retention:      cfg.Session.Retention,
		Resolver:       res,
		NewAdapter: func() session.Adapter {
			return provider.NewAdapter(kits, cfg.Provider.TokenTTL, logger)
		},
		Store:    repo,
		Ledger:   recorder,
		PostCall: catalog,
		Logger:   logger,
	})

	// Register the SSE update callback with the session manager
	app.manager.RegisterUpdateCallback(app.events.HandleUpdate)
	app.events.TrackSubscribers(app.manager)

	mux := api.SetupRoutes(api.Dependencies{
		Sessions: app.manager,
		Store:    repo,
		Events:   app.events,
		Logger:   logger,
	})
	app.handler = web.Wrap(mux, logger)
	return app, nil
}

// shutdown ends every consultation, recording its outcome, then closes streams and stores
func (a *application) shutdown() {
	if a.manager != nil {
		a.manager.Shutdown()
	}
	if a.events != nil {
		a.events.Close()
	}
	a.close()
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Error().Err(err).Msg("Error closing resource")
		}
	}
	a.closers = nil
}

func serve(cfg *config.Config, logger zerolog.Logger) error {
	app, err := newApplication(cfg, logger)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      app.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // Disable write timeout for SSE connections
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("port", cfg.Server.Port).Msg("Starting teleconsult server")
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		app.shutdown()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("error starting server: %w", err)

	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down server")

		// Consultations end, and their outcomes are recorded, before the streams close
		app.shutdown()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			server.Close()
			return fmt.Errorf("error shutting down server: %w", err)
		}

		logger.Info().Msg("Server gracefully stopped")
		return nil
	}
}
