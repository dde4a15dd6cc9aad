package daemon

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jsherman999/watercooler/internal/api"
	"github.com/jsherman999/watercooler/internal/bus"
	"github.com/jsherman999/watercooler/internal/config"
	"github.com/jsherman999/watercooler/internal/hub"
	"github.com/jsherman999/watercooler/internal/signing"
)

func Main() {
	var cfgPath string

	root := &cobra.Command{Use: "watercoolerd", Short: "Watercooler update hub daemon"}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (yaml)")

	root.AddCommand(serveCmd(&cfgPath))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the update hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			setupLogging(cfg)

			if cfg.UsingDefaultSecret() {
				log.Warn().Msg("using the built-in signing secret; set WATERCOOLER_SECRET in production")
			}

			b, err := bus.Open(cfg)
			if err != nil {
				return fmt.Errorf("open bus: %w", err)
			}
			defer b.Close()

			signer := signing.New(cfg.Secret)
			h := hub.New(cfg, signer, b, log.Logger)
			a := api.New(cfg, signer, h, log.Logger)
			srv := &http.Server{Addr: cfg.Listen, Handler: a.Router()}

			bgCtx, bgCancel := context.WithCancel(context.Background())
			defer bgCancel()

			go h.Run(bgCtx)
			if err := b.Start(bgCtx, h.Dispatch); err != nil {
				return fmt.Errorf("start bus: %w", err)
			}

			go func() {
				log.Info().Str("listen", cfg.Listen).Str("bus", cfg.Bus.Kind).Msg("watercoolerd listening")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error().Err(err).Msg("listen error")
				}
			}()

			stop := make(chan os.Signal, 2)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			<-stop
			log.Info().Msg("shutting down")

			// Stop accepting, drain in-flight requests, then drop the
			// remaining WebSocket sessions.
			shCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.Grace)
			defer cancel()
			if err := srv.Shutdown(shCtx); err != nil {
				log.Warn().Err(err).Msg("shutdown grace expired")
			}
			bgCancel()
			select {
			case <-h.Stopped():
			case <-time.After(time.Second):
			}
			return nil
		},
	}
}

func setupLogging(cfg *config.Config) {
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Logging.Format == "json" {
		writer = os.Stdout
	}
	log.Logger = zerolog.New(writer).With().Timestamp().Logger()
	if cfg.Logging.Verbose {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	} else {
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}
}
