package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jswmusik/jobbeli/internal/engine"
	"github.com/jswmusik/jobbeli/internal/lottery"
	"github.com/jswmusik/jobbeli/internal/model"
)

type simulation struct {
	Seed   int64               `json:"seed"`
	Digest string              `json:"report_digest"`
	Report json.RawMessage     `json:"audit_report"`
	Writes []model.StatusWrite `json:"writes"`
}

func simulateCmd() *cobra.Command {
	var (
		file string
		seed int64
	)
	command := &cobra.Command{
		Use:   "simulate",
		Short: "Run a lottery over a YAML scenario without touching any database",
		Long: `Runs eligibility, ranking, allocation and audit over the scenario and
prints the audit report, its digest and the status writes a real run would
commit. With the same scenario and seed the output is identical to the run
the service would produce.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sc, err := loadScenario(file)
			if err != nil {
				return err
			}
			snap, now, err := sc.snapshot()
			if err != nil {
				return err
			}

			switch {
			case cmd.Flags().Changed("seed"):
			case sc.Seed != nil:
				seed = *sc.Seed
			default:
				if seed, err = engine.NewSeed(); err != nil {
					return err
				}
			}
			if seed < 0 {
				return fmt.Errorf("seed must not be negative")
			}

			out, err := lottery.Compute(snap, seed, now)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(simulation{Seed: seed, Digest: out.Digest, Report: out.Raw, Writes: out.Writes})
		},
	}
	command.Flags().StringVarP(&file, "file", "f", "", "scenario YAML file")
	command.Flags().Int64Var(&seed, "seed", 0, "seed to draw with (default: the scenario's seed, else random)")
	_ = command.MarkFlagRequired("file")
	return command
}
