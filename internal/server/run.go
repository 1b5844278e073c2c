package server

import (
	"context"
	"errors"
	"kniffel/internal/config"
	"kniffel/internal/node"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// Run serves the scoresheet until ctx is cancelled or the listener fails.
func Run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	n, err := node.Open(cfg, log, node.Options{})
	if err != nil {
		return err
	}
	defer n.Close()

	g, gctx := errgroup.WithContext(ctx)
	n.Start(gctx)

	srv := New(gctx, n, cfg.PublicURL, log)
	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		// Streams end with the group, so Shutdown does not wait on them.
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		return srv.Forward(gctx)
	})
	g.Go(func() error {
		srv.log.Info().Str("addr", httpSrv.Addr).Str("public_url", cfg.PublicURL).Msg("listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
