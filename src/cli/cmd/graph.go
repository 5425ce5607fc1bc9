package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sofmeright/treebuild/src/graph"
)

var (
	graphFormat string
	graphSelect []string
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the image dependency graph",
	RunE:  runGraph,
}

func init() {
	graphCmd.Flags().StringVar(&graphFormat, "format", graph.FormatTree,
		"output format: "+strings.Join(graph.Formats, ", "))
	graphCmd.Flags().StringSliceVar(&graphSelect, "select", nil, "show only matching images and their descendants")
	rootCmd.AddCommand(graphCmd)
}

func runGraph(cmd *cobra.Command, args []string) error {
	p, err := loadProject(cmd.Context(), time.Now(), nil, nil)
	if err != nil {
		return err
	}
	g, err := p.graph.Select(graphSelect)
	if err != nil {
		return err
	}
	if err := g.Export(os.Stdout, graphFormat); err != nil {
		return fmt.Errorf("exporting graph: %w", err)
	}
	return nil
}
