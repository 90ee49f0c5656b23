// Command filingctl slices and summarizes filings from the command line,
// without the HTTP server.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dgallion1/filingsum/internal/analysis"
	"github.com/dgallion1/filingsum/internal/config"
	"github.com/dgallion1/filingsum/internal/doctree"
	"github.com/dgallion1/filingsum/internal/forms"
	"github.com/dgallion1/filingsum/internal/parser"
	"github.com/dgallion1/filingsum/internal/pipeline"
	"github.com/dgallion1/filingsum/internal/ratelimit"
	"github.com/dgallion1/filingsum/internal/sections"
	"github.com/dgallion1/filingsum/internal/tokenizer"
)

var (
	formType string
	jsonOut  bool
	verbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "filingctl",
	Short: "Slice and summarize SEC filings",
	Long: `filingctl extracts the labeled items of a filing (10-K, 10-Q, 8-K, PX14A6N)
and summarizes them group by group through a rate-limited completion service.
Settings are read from the environment and an optional .env file.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&formType, "form-type", "f", forms.DefaultType, "form type of the filing")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging on stderr")
}

func main() {
	rootCmd.SetOut(os.Stdout)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// env holds what every command builds from config.
type env struct {
	cfg     config.Config
	log     *slog.Logger
	tok     tokenizer.Tokenizer
	limiter *ratelimit.Limiter
	table   *forms.Table
}

func newEnv(cmd *cobra.Command) (*env, error) {
	cfg := config.Load()
	if err := cfg.ValidateBudget(); err != nil {
		return nil, err
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	table, err := forms.Load(cfg.FormsPath)
	if err != nil {
		return nil, err
	}
	tok := tokenizer.New(cfg.TokenizerPath, log)
	return &env{
		cfg:     cfg,
		log:     log,
		tok:     tok,
		limiter: ratelimit.New(cfg.RateLimit(), tok),
		table:   table,
	}, nil
}

func (e *env) dispatcher(c analysis.Completer) *analysis.Dispatcher {
	return analysis.NewDispatcher(e.table, e.limiter, e.tok, c, e.log)
}

func (e *env) parserOptions() parser.Options {
	return parser.Options{PDFFallbackPdftotext: e.cfg.PDFFallbackPdftotext}
}

// load parses path and extracts its sections for the --form-type form.
func (e *env) load(path string, d *analysis.Dispatcher) (*doctree.DocTree, *forms.Form, sections.Sections, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	tree, err := pipeline.ParseDocument(filepath.Base(path), data, e.parserOptions())
	if err != nil {
		return nil, nil, nil, err
	}
	form := d.Forms().Lookup(formType)
	return tree, form, pipeline.ExtractSections(d, tree, form, e.log), nil
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
