package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/hotpath/pkg/hotpath/report"
)

func newRenderCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "render <report.json>",
		Short: "Render an exported report",
		Long:  "Render an exported hotpath report file as a table or JSON.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read report: %w", err)
			}

			var rep report.Report
			if err := json.Unmarshal(data, &rep); err != nil {
				return fmt.Errorf("failed to parse report: %w", err)
			}

			f, err := report.NewFormatter(report.Format(format))
			if err != nil {
				return err
			}
			return f.Format(&rep, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", string(report.FormatTable),
		"output format (table, json, json-pretty)")

	return cmd
}
