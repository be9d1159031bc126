package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/depfollow/internal/app"
	"github.com/JakeFAU/depfollow/internal/follower"
)

func newCheckpointCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Prints the stored resume sequence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			store, release, err := app.OpenStore(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := release(cmd.Context()); cerr != nil {
					rt.logger.Warn("close store", zap.Error(cerr))
				}
			}()

			seq, found, err := follower.ReadCheckpoint(cmd.Context(), store)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(map[string]any{"sequence": seq, "found": found})
			}
			if !found {
				fmt.Fprintln(out, "no checkpoint stored")
				return nil
			}
			fmt.Fprintln(out, seq)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print {\"sequence\", \"found\"} as JSON")
	return cmd
}
