package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ShutdownGrace bounds how long in-flight requests get once ctx is cancelled.
const ShutdownGrace = 5 * time.Second

// RunHTTPServer serves handler until ctx is cancelled, then shuts down
// gracefully. There is no write timeout: run-now submissions block until the
// job finishes.
func RunHTTPServer(ctx context.Context, host string, port int, handler http.Handler, log zerolog.Logger) error {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return Serve(ctx, ln, handler, log)
}

// Serve is RunHTTPServer on an existing listener.
func Serve(ctx context.Context, ln net.Listener, handler http.Handler, log zerolog.Logger) error {
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http shutdown")
		}
	}()

	log.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		<-done
		return nil
	}
	return err
}
