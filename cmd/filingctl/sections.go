package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var sectionsCmd = &cobra.Command{
	Use:   "sections FILE",
	Short: "Show the labeled sections found in a filing",
	Args:  cobra.ExactArgs(1),
	RunE:  runSections,
}

func init() {
	rootCmd.AddCommand(sectionsCmd)
}

func runSections(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	d := e.dispatcher(nil)
	tree, form, secs, err := e.load(args[0], d)
	if err != nil {
		return err
	}

	if jsonOut {
		data, err := json.MarshalIndent(map[string]any{
			"form_type": form.Type,
			"title":     tree.Title,
			"sections":  secs,
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal sections: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Printf("%s (%s)\n\n", tree.Title, form.Type)
	for _, s := range secs {
		if !s.Found {
			cmd.Printf("  %-10s not found\n", s.Label)
			continue
		}
		text := s.Text()
		cmd.Printf("  %-10s %6d tokens  %s\n", s.Label, e.tok.CountTokens(text), preview(text, 60))
	}
	return nil
}
