package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fairyhunter13/biodata-screener/internal/app"
)

func newModelsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models available on the inference backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			gw, _, err := app.BuildGateway(ctx, cfg)
			if err != nil {
				return err
			}
			models, err := gw.ListModels(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, m := range models {
				marker := ""
				if m == cfg.DefaultModel || m == cfg.DefaultModel+":latest" {
					marker = " (default)"
				}
				fmt.Fprintf(out, "%s%s\n", m, marker)
			}
			return nil
		},
	}
}
