package cmd

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sofmeright/treebuild/src/report"
)

var (
	historyDB     string
	historyLimit  int
	historyNode   string
	historyFormat string
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show recorded build runs",
	Long: `List recent runs from a history database written by "treebuild build --history".

With a run ID, print that run's full report. With --node, print the most
recent results of one image.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyDB, "history", "", "SQLite history database")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to show")
	historyCmd.Flags().StringVar(&historyNode, "node", "", "show the results of one image")
	historyCmd.Flags().StringVar(&historyFormat, "format", report.FormatYAML, "report format for a single run: json or yaml")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	if historyDB == "" {
		return errors.New("--history is required")
	}
	h, err := report.OpenHistory(historyDB)
	if err != nil {
		return err
	}
	defer h.Close()

	switch {
	case len(args) == 1:
		rep, err := h.Get(args[0])
		if err != nil {
			return err
		}
		return rep.Write(os.Stdout, historyFormat)

	case historyNode != "":
		statuses, err := h.NodeHistory(historyNode, historyLimit)
		if err != nil {
			return err
		}
		if len(statuses) == 0 {
			return fmt.Errorf("no history for %s", historyNode)
		}
		for _, s := range statuses {
			fmt.Println(s)
		}
		return nil
	}

	runs, err := h.List(historyLimit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tDURATION\tRESULT\tIMAGES\tOK\tFAILED\tSKIPPED")
	for _, r := range runs {
		result := "success"
		if !r.Success {
			result = "failed"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			r.RunID, r.Started.Local().Format(time.DateTime), r.Duration.Round(time.Millisecond),
			result, r.Images, r.Succeeded, r.Failed, r.Skipped)
	}
	return tw.Flush()
}
