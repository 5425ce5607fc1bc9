package cmd

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sofmeright/treebuild/src/output"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and the image graph without building",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProject(cmd.Context(), time.Now(), nil, nil)
		if err != nil {
			return err
		}

		color := output.UseColor()
		sec := output.NewSection(os.Stdout, "Validate", 0, color)
		for _, warn := range p.warnings {
			sec.Row("%s %s", output.StatusIcon("warning", color), warn)
		}
		sec.Row("%d images, %d roots, %s", p.graph.Len(), len(p.graph.Roots()), output.StatusIcon("success", color))
		sec.Close()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
