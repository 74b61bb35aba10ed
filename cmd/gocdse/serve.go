package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/datallboy/gocdse/internal/api"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the download batch in the background and expose its status over HTTP",
		Long: `Start the status API on server.port and run the same batch as "download" in the
background. The API keeps serving after the batch finishes until interrupted.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().StringP("out", "o", "", "Output directory (overrides download.out_dir)")
	cmd.Flags().String("port", "", "Listen port (overrides server.port)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	svc, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	if port, _ := cmd.Flags().GetString("port"); port != "" {
		svc.app.Config.Server.Port = port
	}

	g, ctx := errgroup.WithContext(cmd.Context())

	g.Go(func() error {
		return api.Serve(ctx, svc.app, svc.batch)
	})

	g.Go(func() error {
		summary, err := svc.download(ctx, false)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			// Keep serving so the failure is visible through the API
			svc.app.Logger.Error("Batch aborted: %v", err)
			return nil
		}
		svc.app.Logger.Info("Batch complete: %d completed, %d failed, %d skipped", summary.Completed, summary.Failed, summary.Skipped)
		return nil
	})

	return g.Wait()
}
