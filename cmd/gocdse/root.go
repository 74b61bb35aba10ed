package main

import (
	"github.com/spf13/cobra"

	"github.com/datallboy/gocdse/internal/infra/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gocdse",
		Short: "Bulk downloader for the Copernicus Data Space catalog",
		Long: `gocdse authenticates against the Copernicus Data Space identity service, pages
through a saved OData search query and downloads every matching product to
<out_dir>/Finish/<Name>.zip. Interrupted downloads resume from their .part file.

Configuration is read from config.yaml (or --config) and GOCDSE_* environment variables.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringP("config", "c", config.DefaultPath, "Path to the YAML config file")
	root.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")

	root.AddCommand(newSearchCmd())
	root.AddCommand(newDownloadCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newConfigCmd())

	return root
}

func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}

func isVerbose(cmd *cobra.Command) bool {
	verbose, _ := cmd.Flags().GetBool("verbose")
	return verbose
}
