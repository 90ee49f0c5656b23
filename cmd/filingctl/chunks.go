package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var chunksCmd = &cobra.Command{
	Use:   "chunks FILE",
	Short: "Show how each group of a filing would be chunked",
	Long: `Plans the analysis of a filing without calling the completion service:
lists each group with the chunks the rate limiter would admit, in order.`,
	Args: cobra.ExactArgs(1),
	RunE: runChunks,
}

func init() {
	rootCmd.AddCommand(chunksCmd)
}

type plannedChunk struct {
	Tokens int    `json:"tokens"`
	Text   string `json:"text"`
}

type plannedGroup struct {
	Group  string         `json:"group"`
	Chunks []plannedChunk `json:"chunks"`
}

func runChunks(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	d := e.dispatcher(nil)
	_, form, secs, err := e.load(args[0], d)
	if err != nil {
		return err
	}

	_, groups := d.Plan(form.Type, secs)
	plan := make([]plannedGroup, 0, len(groups))
	for _, in := range groups {
		g := plannedGroup{Group: in.Group.Name}
		for _, c := range d.Chunks(in.Text) {
			g.Chunks = append(g.Chunks, plannedChunk{Tokens: e.tok.CountTokens(c), Text: c})
		}
		plan = append(plan, g)
	}

	if jsonOut {
		data, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal chunks: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	if len(plan) == 0 {
		cmd.Println("Nothing to analyze.")
		return nil
	}
	cmd.Printf("%s: %d groups, request ceiling %d tokens\n", form.Type, len(plan), e.limiter.MaxRequestTokens())
	for _, g := range plan {
		cmd.Println()
		cmd.Printf("%s (%d chunks)\n", g.Group, len(g.Chunks))
		for i, c := range g.Chunks {
			cmd.Printf("  [%d] %5d tokens  %s\n", i+1, c.Tokens, preview(c.Text, 60))
		}
	}
	return nil
}
