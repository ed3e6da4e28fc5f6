package main

import (
	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan <file.yaml>",
	Short: "Execute a workflow plan file",
	Long: `Execute an explicit YAML workflow instead of decomposing a request.

Parameters may reference earlier task outputs with ${task.field} and may be
computed with expressions prefixed by "=", e.g. "= $enums.count * 2".

Example plan:
  name: enum-values
  strategy: sequential
  tasks:
    - id: enums
      tool: find_enums
      params:
        namespace: Game.Core
    - id: values
      tool: get_enum_values
      params:
        enumName: ${enums.name}`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	format, err := outputFormat()
	if err != nil {
		return err
	}
	o, err := newOrchestrator(cmd)
	if err != nil {
		return err
	}
	defer o.Close()

	exec, err := o.ExecutePlan(cmd.Context(), args[0])
	if exec == nil {
		return err
	}
	// A failed workflow still gets a report describing what went wrong.
	report := o.SynthesizeWorkflow(exec)
	if werr := writeReport(cmd.OutOrStdout(), report, format); werr != nil {
		return werr
	}
	return err
}
