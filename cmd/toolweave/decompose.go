package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var decomposeCmd = &cobra.Command{
	Use:   "decompose <request>",
	Short: "Show the workflow a request decomposes into",
	Long: `Extract the intent of a request and print the planned subtasks
without executing any tool.

Examples:
  toolweave decompose "Find PlayerController and analyze its dependencies"
  toolweave decompose "Find all enums" --format=json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDecompose,
}

func init() {
	rootCmd.AddCommand(decomposeCmd)
}

func runDecompose(cmd *cobra.Command, args []string) error {
	format, err := outputFormat()
	if err != nil {
		return err
	}
	o, err := newOrchestrator(cmd)
	if err != nil {
		return err
	}
	defer o.Close()

	d, err := o.Decompose(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if format == FormatJSON {
		return writeJSON(w, d)
	}

	fmt.Fprintf(w, "%s (%s, confidence %.2f, ~%dms)\n",
		d.Explanation, d.ExecutionStrategy, d.Confidence, d.EstimatedDurationMs)
	for _, task := range d.Subtasks {
		fmt.Fprintf(w, "  %s  %-22s %s", task.ID, task.ToolName, task.Parameters.Canonical())
		if len(task.Dependencies) > 0 {
			fmt.Fprintf(w, "  after %s", strings.Join(task.Dependencies, ","))
		}
		fmt.Fprintln(w)
	}
	return nil
}
