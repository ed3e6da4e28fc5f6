package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/toolweave"
)

var toolsCategory string

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the available tools",
	Long: `List every registered tool with its category, complexity, nominal cost
and parameters.

Examples:
  toolweave tools
  toolweave tools --category=analysis --format=json`,
	Args: cobra.NoArgs,
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().StringVar(&toolsCategory, "category", "", "Only list tools in this category")
	rootCmd.AddCommand(toolsCmd)
}

type toolInfo struct {
	Name string `json:"name"`
	toolweave.ToolMetadata
}

func runTools(cmd *cobra.Command, args []string) error {
	format, err := outputFormat()
	if err != nil {
		return err
	}
	reg, err := newRegistry()
	if err != nil {
		return err
	}

	var infos []toolInfo
	for _, name := range reg.ListToolNames() {
		meta, _ := reg.GetMetadata(name)
		if toolsCategory != "" && !strings.EqualFold(meta.Category, toolsCategory) {
			continue
		}
		infos = append(infos, toolInfo{Name: name, ToolMetadata: meta})
	}

	if format == FormatJSON {
		return writeJSON(cmd.OutOrStdout(), infos)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCATEGORY\tCOMPLEXITY\tCOST\tREQUIRED\tOPTIONAL")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			info.Name, info.Category, info.Complexity, info.NominalCost,
			strings.Join(info.RequiredParams, ","), strings.Join(info.OptionalParams, ","))
	}
	return tw.Flush()
}
