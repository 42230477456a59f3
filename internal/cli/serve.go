package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/chatrelay/internal/config"
	"github.com/Tyrowin/chatrelay/internal/logging"
	"github.com/Tyrowin/chatrelay/internal/server"
)

func newServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
				cfg = config.Sanitize(cfg)
			}
			if logLevel == "" && cfg.Logging.Level != "info" {
				log = logging.New(nil, cfg.Logging.Level)
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			return serve(cfg)
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "listen address, overrides SERVER_PORT")
	return cmd
}

func serve(cfg config.Config) error {
	srv, err := server.New(cfg, log)
	if err != nil {
		return err
	}

	// Block until SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv.Start()
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Info().
		Str("port", cfg.Port).
		Str("contentRoot", cfg.ContentRoot).
		Bool("tls", cfg.TLS.Enabled()).
		Int("names", len(cfg.Names)).
		Msg("chatrelay started")

	select {
	case err := <-errCh:
		shutdownErr := srv.Shutdown()
		if err != nil {
			return errors.Join(fmt.Errorf("http server: %w", err), shutdownErr)
		}
		return shutdownErr
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
		return srv.Shutdown()
	}
}
