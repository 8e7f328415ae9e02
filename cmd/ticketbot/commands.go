package main

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/spec-kit/ticketbot/internal/auth"
	"github.com/spec-kit/ticketbot/internal/community"
	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/service"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations for the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadBase()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			_, closeStore, err := openStore(cmd.Context(), cfg, logger, true)
			if err != nil {
				return err
			}
			closeStore()
			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", cfg.Store.Driver)
			return nil
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "sweep inactivity|staleness",
		Short:     "Run one sweep over every community and wait for its effects",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{service.SweepInactivity, service.SweepStaleness},
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			start := time.Now()
			summary, err := rt.scheduler().RunOnce(cmd.Context(), args[0])
			// close pipelines run asynchronously
			rt.lifecycle.Wait()

			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendHeader(table.Row{"Sweep", "Communities", "Selected", "Acted", "Failed", "Took"})
			tw.AppendRow(table.Row{summary.Kind, summary.Communities, summary.Selected, summary.Acted, summary.Failed, time.Since(start).Round(time.Millisecond)})
			tw.Render()
			return err
		},
	}
}

func tokenIssueCmd() *cobra.Command {
	var actor, communityID string
	var roles []string
	var admin bool
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a bearer token for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadBase()
			if err != nil {
				return err
			}
			tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTLMinutes)
			token, expiresAt, err := tokens.GenerateToken(actor, communityID, roles, admin)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "platform user id the token acts as")
	cmd.Flags().StringVar(&communityID, "community", "", "community (workspace) id")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role ids trusted when the platform is unavailable")
	cmd.Flags().BoolVar(&admin, "admin", false, "mark the actor as administrator when the platform is unavailable")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("community")
	return cmd
}

func configShowCmd() *cobra.Command {
	var communityID string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings of a community",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadBase()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			store, closeStore, err := openStore(cmd.Context(), cfg, logger, false)
			if err != nil {
				return err
			}
			defer closeStore()

			settings, err := community.NewRegistry(store.Config, logger).Get(cmd.Context(), communityID)
			if err != nil {
				return err
			}
			renderSettings(cmd, settings)
			return nil
		},
	}
	cmd.Flags().StringVar(&communityID, "community", "", "community (workspace) id")
	_ = cmd.MarkFlagRequired("community")
	return cmd
}

func renderSettings(cmd *cobra.Command, settings domain.Settings) {
	values := settings.Map()
	tw := table.NewWriter()
	tw.SetOutputMirror(cmd.OutOrStdout())
	tw.AppendHeader(table.Row{"Setting", "Value"})
	for _, key := range domain.SettingKeys() {
		v := values[key]
		if s, ok := v.(string); ok && s == "" {
			v = "(not set)"
		}
		tw.AppendRow(table.Row{key, v})
	}
	tw.Render()
}
