package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sebtcheng/insighted-monitor/internal/model"
	"github.com/sebtcheng/insighted-monitor/internal/session"
)

var (
	statsRegion   string
	statsDivision string
	statsDistrict string
	statsSearch   string
	statsSort     string
	statsDesc     bool
	statsPage     int
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print reconciled statistics for one jurisdiction",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "stats")
		if err != nil {
			return err
		}
		defer env.Close()

		path := model.JurisdictionPath{
			Region:   statsRegion,
			Division: statsDivision,
			District: statsDistrict,
		}
		query := session.ListQuery{
			Search:   statsSearch,
			SortBy:   session.SortField(statsSort),
			SortDesc: statsDesc,
			Page:     statsPage,
		}

		snap, err := session.Inspect(ctx, model.RoleScope{Role: model.RoleNational}, env.Roster, env.Store, env.Diag, path, query)
		if err != nil {
			return eris.Wrap(err, "inspect")
		}

		zap.L().Info("stats computed",
			zap.String("path", path.Key()),
			zap.Int("total_schools", snap.Stats.TotalSchools),
			zap.Int("violations", len(snap.Violations)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsRegion, "region", "", "region display name")
	statsCmd.Flags().StringVar(&statsDivision, "division", "", "division display name (requires --region)")
	statsCmd.Flags().StringVar(&statsDistrict, "district", "", "district display name (requires --division)")
	statsCmd.Flags().StringVar(&statsSearch, "search", "", "school name or ID prefix filter")
	statsCmd.Flags().StringVar(&statsSort, "sort", "name", "sort field: name, completion, validation, health")
	statsCmd.Flags().BoolVar(&statsDesc, "desc", false, "sort descending")
	statsCmd.Flags().IntVar(&statsPage, "page", 1, "school list page")
	rootCmd.AddCommand(statsCmd)
}
