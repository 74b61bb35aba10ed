package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDownloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download every product matched by the saved search query",
		Long: `Authenticate, run the search query and download each product in turn to
<out_dir>/Finish/<Name>.zip. A failed product is logged and skipped; the
batch only stops early on Ctrl+C. Re-running resumes any .part files.`,
		Example: `  gocdse download
  gocdse download --out /data/sentinel --config prod.yaml`,
		Args: cobra.NoArgs,
		RunE: runDownload,
	}

	cmd.Flags().StringP("out", "o", "", "Output directory (overrides download.out_dir)")
	cmd.Flags().Bool("no-progress", false, "Disable the progress bar")
	return cmd
}

func runDownload(cmd *cobra.Command, args []string) error {
	svc, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	noProgress, _ := cmd.Flags().GetBool("no-progress")

	summary, err := svc.download(cmd.Context(), !noProgress)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Done: %d completed, %d failed, %d skipped of %d\n",
		summary.Completed, summary.Failed, summary.Skipped, summary.Total)
	return nil
}
