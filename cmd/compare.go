package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	service "github.com/okian/divergence/internal/app"
	"github.com/okian/divergence/internal/domain/model"
	"github.com/okian/divergence/internal/domain/scope"
)

type compareFlags struct {
	userID     string
	requesting string
	snapDay    string
	limit      int
}

func newCompareCmd(flags *globalFlags) *cobra.Command {
	var cf compareFlags
	cmd := &cobra.Command{
		Use:   "compare <scope> <id>",
		Short: "Run one comparison and print it as JSON",
		Long: `Run one comparison against the configured store and print the result.

Scope is one of point, rationale, topic, space or user.

Examples:
  divergence compare point p1 --user u1 --fixtures fixtures/demo.yaml
  divergence compare topic t1 --user u1 --day 2026-04-01 --limit 5`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := scope.ParseKind(args[0])
			if err != nil {
				return err
			}
			day, err := model.ParseDay(cf.snapDay)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			cfg, err := loadConfig(ctx, flags)
			if err != nil {
				return err
			}
			svc, err := startService(ctx, cfg)
			if err != nil {
				return err
			}
			defer svc.Stop()

			requesting := cf.requesting
			if requesting == "" {
				requesting = cf.userID
			}
			res, err := svc.Compare(ctx, service.Request{
				Scope:            kind,
				ScopeID:          args[1],
				ReferenceUserID:  cf.userID,
				RequestingUserID: requesting,
				SnapDay:          day,
				Limit:            cf.limit,
			})
			if err != nil {
				return fmt.Errorf("compare: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVarP(&cf.userID, "user", "u", "", "reference user id (required)")
	cmd.Flags().StringVar(&cf.requesting, "requesting-user", "", "requesting user id (defaults to --user)")
	cmd.Flags().StringVarP(&cf.snapDay, "day", "d", "", "snapshot day YYYY-MM-DD (defaults to today)")
	cmd.Flags().IntVarP(&cf.limit, "limit", "l", 0, "entries per list (defaults to the configured limit)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
