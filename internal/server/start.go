package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"
)

// Run starts the presence registry, both websocket bridges and the HTTP
// server, and blocks until ctx is canceled or one of them fails. On return
// every session has been closed and the HTTP server has shut down.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.registry.Run(ctx) })
	g.Go(func() error { return s.presenceBridge.Run(ctx) })
	g.Go(func() error { return s.chatBridge.Run(ctx) })

	g.Go(func() error {
		s.logger.Info("HTTP server listening", "addr", s.addr)
		if err := s.E.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		return s.shutdown()
	})

	return g.Wait()
}
