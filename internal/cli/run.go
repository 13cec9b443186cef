package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fairyhunter13/biodata-screener/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/biodata-screener/internal/adapter/cleanup"
	"github.com/fairyhunter13/biodata-screener/internal/adapter/repo/sqlite"
	"github.com/fairyhunter13/biodata-screener/internal/app"
	"github.com/fairyhunter13/biodata-screener/internal/domain"
	"github.com/fairyhunter13/biodata-screener/internal/report"
	"github.com/fairyhunter13/biodata-screener/internal/screening"
	"github.com/fairyhunter13/biodata-screener/internal/usecase"
)

type runFlags struct {
	criteria  string
	condition string
	dbPath    string
	report    string
	outDir    string
	asJSON    bool
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run [flags] file.pdf...",
		Short: "Screen biodata PDFs and print the matches",
		Long: `Screens every given PDF against the JSON criteria and the optional
free-text condition. Matched files can be copied to --out-dir; working
copies are removed when the command exits.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScreen(cmd, g, f, args)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.criteria, "criteria", "c", "{}", `criteria as a JSON object, e.g. '{"Department":"Civil"}'`)
	fl.StringVar(&f.condition, "condition", "", "free-text condition judged by the model")
	fl.StringVar(&f.dbPath, "db", "", "record the batch in this SQLite file")
	fl.StringVar(&f.report, "report", "", "write an XLSX report to this path")
	fl.StringVarP(&f.outDir, "out-dir", "o", "", "copy matched PDFs into this directory")
	fl.BoolVar(&f.asJSON, "json", false, "print the batch result as JSON")
	return cmd
}

func runScreen(cmd *cobra.Command, g *globalFlags, f *runFlags, args []string) error {
	cfg, err := g.loadConfig(cmd)
	if err != nil {
		return err
	}
	criteria, err := screening.ParseCriteria(f.criteria)
	if err != nil {
		return err
	}
	files, err := readFiles(args)
	if err != nil {
		return err
	}

	workDir, err := os.MkdirTemp("", appName+"-*")
	if err != nil {
		return fmt.Errorf("op=cli.run: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()
	cfg.WorkDir = workDir
	// Working copies must survive until matches are copied out; Close flushes them.
	cfg.CleanupDelay = time.Hour

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chain, _ := app.BuildExtractor(cfg)
	gw, _, err := app.BuildGateway(ctx, cfg)
	if err != nil {
		return err
	}
	prompts, err := app.BuildPrompts(cfg)
	if err != nil {
		return err
	}
	timers := cleanup.NewTimerScheduler()
	defer timers.Close(context.Background(), true)

	svc := usecase.NewScreenService(chain, gw, prompts, timers, app.ScreenConfig(cfg))
	svc.Tokens = tokencount.NewCounter()
	if f.dbPath != "" {
		store, err := sqlite.NewStore(f.dbPath)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		svc.Store = store
	}

	res, err := svc.ProcessBatch(ctx, domain.BatchRequest{
		Files:     files,
		Criteria:  criteria,
		Condition: f.condition,
		Model:     cfg.DefaultModel,
	})
	if err != nil {
		return err
	}

	if f.outDir != "" {
		if err := copyMatches(workDir, f.outDir, res); err != nil {
			return err
		}
	}
	if f.report != "" {
		if err := writeReport(f.report, res); err != nil {
			return err
		}
		slog.Info("report written", slog.String("path", f.report))
	}

	sort.Slice(res.Verdicts, func(i, j int) bool { return res.Verdicts[i].Filename < res.Verdicts[j].Filename })
	out := cmd.OutOrStdout()
	if f.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	return printResult(out, res)
}

func readFiles(paths []string) ([]domain.UploadFile, error) {
	files := make([]domain.UploadFile, 0, len(paths))
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("op=cli.readFiles: %w", err)
		}
		files = append(files, domain.UploadFile{Filename: filepath.Base(p), Content: b})
	}
	return files, nil
}

func copyMatches(workDir, outDir string, res domain.BatchResult) error {
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return fmt.Errorf("op=cli.copyMatches: %w", err)
	}
	for _, m := range res.Matches {
		b, err := os.ReadFile(filepath.Join(workDir, res.BatchID, m.Filename))
		if err != nil {
			return fmt.Errorf("op=cli.copyMatches: %w", err)
		}
		if err := os.WriteFile(filepath.Join(outDir, m.Filename), b, 0o600); err != nil {
			return fmt.Errorf("op=cli.copyMatches: %w", err)
		}
	}
	return nil
}

func writeReport(path string, res domain.BatchResult) (err error) {
	fh, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("op=cli.writeReport: %w", err)
	}
	defer func() {
		if cerr := fh.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("op=cli.writeReport: %w", cerr)
		}
	}()
	return report.WriteXLSX(fh, res, "")
}

func printResult(w io.Writer, res domain.BatchResult) error {
	fmt.Fprintf(w, "batch %s (model %s): %d processed, %d matched\n\n",
		res.BatchID, res.Model, res.ProcessedFiles, res.MatchedFiles)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tVERDICT\tEXTRACTION\tREASON")
	for _, v := range res.Verdicts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.Filename, v.Verdict, v.Strategy, v.Reason)
	}
	return tw.Flush()
}
