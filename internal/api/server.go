package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/datallboy/gocdse/internal/app"
	"github.com/datallboy/gocdse/internal/engine"
)

// NewServer builds the echo instance with every route registered.
func NewServer(app *app.Context, batch *engine.Batch) *echo.Echo {
	e := echo.New()
	RegisterRoutes(e, app, batch)
	return e
}

// Serve listens on the configured port until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, app *app.Context, batch *engine.Batch) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort("", app.Config.Server.Port),
		Handler:           NewServer(app, batch),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		app.Logger.Info("API listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
