package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dgallion1/filingsum/internal/analysis"
	"github.com/dgallion1/filingsum/internal/config"
	"github.com/dgallion1/filingsum/internal/llm"
	"github.com/dgallion1/filingsum/internal/pipeline"
	"github.com/dgallion1/filingsum/internal/store"
)

var (
	analyzeMarkdown bool
	analyzeCache    bool
	analyzeForce    bool
	analyzeTitle    string
)

// newClient builds the completion client; tests replace it.
var newClient = func(cfg config.Config) (llm.Client, error) {
	if err := cfg.ValidateLLM(); err != nil {
		return nil, err
	}
	apiKey, model := cfg.LLMCredentials()
	return llm.New(cfg.LLMProvider, apiKey, model, cfg.LLMOptions())
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze FILE",
	Short: "Summarize a filing group by group",
	Long: `Extracts the filing's sections, then summarizes each group of the form type
through the configured completion service, staying inside the token budget.
With --cache the result cache at DB_PATH is consulted and updated.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeMarkdown, "markdown", false, "output markdown")
	analyzeCmd.Flags().BoolVar(&analyzeCache, "cache", false, "use the result cache at DB_PATH")
	analyzeCmd.Flags().BoolVar(&analyzeForce, "force", false, "ignore a cached result")
	analyzeCmd.Flags().StringVar(&analyzeTitle, "title", "", "document title override")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	client, err := newClient(e.cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	var st *store.Store
	if analyzeCache {
		if st, err = store.Open(e.cfg.DBPath); err != nil {
			return err
		}
		defer st.Close()
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, e.cfg.AnalysisTimeout)
	defer cancel()

	job := pipeline.NewJob(filepath.Base(args[0]), formType, analyzeTitle, data, analyzeForce)
	pipeline.NewWorker(e.dispatcher(client), st, e.log, e.parserOptions()).Process(ctx, job)

	res := job.Result()
	if res.Status == pipeline.StatusFailed {
		return fmt.Errorf("analysis failed: %s", strings.Join(res.Errors, "; "))
	}

	switch {
	case jsonOut:
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		cmd.Println(string(out))
	case analyzeMarkdown:
		cmd.Print(analysis.Markdown(res.Entries))
	default:
		for _, line := range res.Lines {
			cmd.Println(line)
		}
	}

	if res.Status == pipeline.StatusPartial {
		return fmt.Errorf("analysis incomplete: %s", strings.Join(res.Errors, "; "))
	}
	return nil
}
