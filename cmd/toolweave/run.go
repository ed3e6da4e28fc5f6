package main

import (
	"strings"

	"github.com/spf13/cobra"
)

var runStats bool

var runCmd = &cobra.Command{
	Use:   "run <request>",
	Short: "Process a request end to end",
	Long: `Decompose a request into tool calls, execute them and print the
synthesized answer.

Examples:
  toolweave run "Find PlayerController class and analyze its dependencies"
  toolweave run "Find all MonoBehaviours and find all enums" --format=json
  toolweave run "Generate a Turret component that can shoot" --stats`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runStats, "stats", false, "Print engine metrics after the answer")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	format, err := outputFormat()
	if err != nil {
		return err
	}
	o, err := newOrchestrator(cmd)
	if err != nil {
		return err
	}
	defer o.Close()

	report, err := o.Process(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		return err
	}
	if err := writeReport(cmd.OutOrStdout(), report, format); err != nil {
		return err
	}
	if runStats {
		return writeJSON(cmd.OutOrStdout(), o.Metrics())
	}
	return nil
}
