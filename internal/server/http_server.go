package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Tyrowin/chatrelay/internal/config"
	"github.com/Tyrowin/chatrelay/internal/logging"
)

// CreateServer creates and configures an HTTP server with the specified port and handler.
// It sets reasonable timeout values for production use.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// StartServer listens until the server is shut down, serving TLS when a key
// pair is configured. A graceful shutdown is not reported as an error.
func StartServer(server *http.Server, tls config.TLSConfig, log *logging.Logger) error {
	var err error
	if tls.Enabled() {
		log.Info().Str("addr", server.Addr).Msg("listening (tls)")
		err = server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
	} else {
		log.Info().Str("addr", server.Addr).Msg("listening")
		err = server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ShutdownServer gracefully shuts down the HTTP server without interrupting active connections.
// It waits for active connections to close or until the timeout is reached.
func ShutdownServer(server *http.Server, timeout time.Duration, log *logging.Logger) error {
	log.Info().Msg("shutting down http server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http server shutdown")
		return err
	}

	log.Info().Msg("http server shutdown completed")
	return nil
}
