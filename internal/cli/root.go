// Package cli implements the screen command line tool. It drives the same
// pipeline as the HTTP server against local files.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/fairyhunter13/biodata-screener/internal/adapter/observability"
	"github.com/fairyhunter13/biodata-screener/internal/config"
)

const appName = "screen"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	ollamaURL string
	tikaURL   string
	model     string
	workers   int
	debug     bool
}

// NewRootCmd builds the command tree. Configuration starts from the
// environment and is overridden by flags.
func NewRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           appName,
		Short:         "screen filters biodata PDFs against structured criteria and a free-text condition",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.ollamaURL, "ollama-url", "", "Ollama base URL (default from OLLAMA_URL)")
	pf.StringVar(&g.tikaURL, "tika-url", "", "Apache Tika base URL, \"off\" disables it (default from TIKA_URL)")
	pf.StringVarP(&g.model, "model", "m", "", "model name (default from DEFAULT_MODEL)")
	pf.IntVarP(&g.workers, "workers", "w", 0, "worker pool size (default from MAX_WORKERS)")
	pf.BoolVarP(&g.debug, "debug", "d", false, "verbose/debug output")

	root.AddCommand(newRunCmd(g), newModelsCmd(g))
	return root
}

// loadConfig reads the environment and applies flag overrides.
func (g *globalFlags) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if g.ollamaURL != "" {
		cfg.OllamaURL = g.ollamaURL
	}
	switch g.tikaURL {
	case "":
	case "off":
		cfg.TikaURL = ""
	default:
		cfg.TikaURL = g.tikaURL
	}
	if g.model != "" {
		cfg.DefaultModel = g.model
	}
	if g.workers > 0 {
		cfg.MaxWorkers = g.workers
	}
	if g.debug {
		cfg.AppEnv = "dev"
	}
	slog.SetDefault(observability.NewLogger(cmd.ErrOrStderr(), cfg))
	return cfg, nil
}
