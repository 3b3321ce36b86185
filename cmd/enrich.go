package main

import (
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var enrichNoCache bool

var enrichCmd = &cobra.Command{
	Use:   "enrich <email>",
	Short: "Run enrichment for one email and print the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		svc := env.Enrich
		if enrichNoCache {
			svc = newUncachedEnricher()
		}

		result, err := svc.Enrich(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "enrich")
		}

		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return eris.Wrap(err, "marshal result")
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	enrichCmd.Flags().BoolVar(&enrichNoCache, "no-cache", false, "bypass the enrichment cache")
	rootCmd.AddCommand(enrichCmd)
}
