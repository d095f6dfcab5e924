package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sebtcheng/insighted-monitor/internal/diag"
	"github.com/sebtcheng/insighted-monitor/internal/model"
	"github.com/sebtcheng/insighted-monitor/internal/roster"
)

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Load the school master list and report its shape",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("roster"); err != nil {
			return err
		}

		d := diag.NewCounters()
		src := roster.Source{
			URL:     cfg.Roster.URL,
			Sheet:   cfg.Roster.Sheet,
			Timeout: cfg.Roster.FetchTimeout,
		}

		r, err := roster.Load(ctx, src, d)
		if err != nil {
			return eris.Wrap(err, "load roster")
		}

		regions := r.Regions()
		report := struct {
			Schools     int            `json:"schools"`
			Quarantined int            `json:"quarantined"`
			Regions     map[string]int `json:"regions"`
		}{
			Schools:     r.Len(),
			Quarantined: r.Quarantined(),
			Regions:     make(map[string]int, len(regions)),
		}
		for _, region := range regions {
			report.Regions[region] = r.Count(model.JurisdictionPath{Region: region})
		}

		zap.L().Info("roster loaded",
			zap.String("source", cfg.Roster.URL),
			zap.Int("schools", report.Schools),
			zap.Int("regions", len(regions)),
			zap.Int("quarantined", report.Quarantined),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	rootCmd.AddCommand(rosterCmd)
}
