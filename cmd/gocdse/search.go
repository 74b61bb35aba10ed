package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search",
		Short: "List the products matched by the saved search query",
		Long: `Run the OData search query from catalog.query (or catalog.query_file), page through
every result and print one "<Id>\t<Name>" line per product. Results are also
recorded in the store.`,
		Example: `  # Print products from SearchURL.txt
  gocdse search

  # Emit JSON
  gocdse search --json`,
		Args: cobra.NoArgs,
		RunE: runSearch,
	}

	cmd.Flags().Bool("json", false, "Print products as a JSON array")
	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
	svc, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	products, err := svc.search(cmd.Context())
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(products)
	}

	for _, p := range products {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", p.ID, p.Name)
	}
	return nil
}
