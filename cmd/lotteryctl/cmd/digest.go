package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jswmusik/jobbeli/internal/audit"
)

func digestCmd() *cobra.Command {
	var file string
	command := &cobra.Command{
		Use:   "digest",
		Short: "Validate an audit report and print its canonical digest",
		Long: `Accepts either a bare audit report or a lottery run as returned by
GET /lottery-runs/{id}. For a run, the embedded report is also checked
against the run's report_digest.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := os.ReadFile(file)
			if err != nil {
				return err
			}

			var run struct {
				AuditReport  json.RawMessage `json:"audit_report"`
				ReportDigest string          `json:"report_digest"`
			}
			if err := json.Unmarshal(raw, &run); err != nil {
				return fmt.Errorf("parse %s: %w", file, err)
			}
			report := raw
			if len(run.AuditReport) > 0 {
				report = run.AuditReport
			}

			if _, err := audit.Decode(report); err != nil {
				return err
			}
			digest, err := audit.Digest(report)
			if err != nil {
				return err
			}
			if run.ReportDigest != "" {
				if _, err := audit.Verify(report, run.ReportDigest); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s verified\n", digest)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), digest)
			return nil
		},
	}
	command.Flags().StringVarP(&file, "file", "f", "", "report or run JSON file")
	_ = command.MarkFlagRequired("file")
	return command
}
