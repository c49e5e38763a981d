package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/redbco/quickdb/pkg/config"
	"github.com/redbco/quickdb/pkg/health"
	"github.com/redbco/quickdb/pkg/odm"
)

type databaseInfo struct {
	Alias   string `json:"alias"`
	Type    string `json:"type"`
	Default bool   `json:"default"`
	IDs     string `json:"ids"`
	Cached  bool   `json:"cached"`
}

type databaseStats struct {
	Alias string      `json:"alias"`
	Pool  interface{} `json:"pool"`
	Cache interface{} `json:"cache,omitempty"`
}

func newDatabasesCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "databases",
		Aliases: []string{"db"},
		Short:   "Inspect configured databases",
	}
	cmd.AddCommand(
		newListDatabasesCmd(opts),
		newPingCmd(opts),
		newStatsCmd(opts),
		newClearCacheCmd(opts),
	)
	return cmd
}

func newListDatabasesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured databases without connecting",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return err
			}
			out := make([]databaseInfo, 0, len(cfg.Databases))
			for _, d := range cfg.Databases {
				t, _ := d.DatabaseType()
				out = append(out, databaseInfo{
					Alias:   d.Alias,
					Type:    string(t),
					Default: d.Alias == cfg.DefaultAlias,
					IDs:     d.IDStrategy.String(),
					Cached:  d.Cache != nil && d.Cache.Enabled,
				})
			}
			return printJSON(cmd.OutOrStdout(), opts.pretty, out)
		},
	}
}

func newPingCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that every database answers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withODM(cmd, opts, func(ctx context.Context, o *odm.ODM) error {
				report := o.HealthCheck(ctx)
				if err := printJSON(cmd.OutOrStdout(), opts.pretty, report); err != nil {
					return err
				}
				if report.Status != health.StatusHealthy {
					return fmt.Errorf("databases are %s", report.Status)
				}
				return nil
			})
		},
	}
}

func newStatsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show pool and cache statistics",
		Long: "Show pool and cache statistics for --alias, or for every database. " +
			"The numbers cover this process only.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withODM(cmd, opts, func(ctx context.Context, o *odm.ODM) error {
				aliases := o.Aliases()
				if opts.alias != "" {
					aliases = []string{opts.alias}
				}
				out := make([]databaseStats, 0, len(aliases))
				for _, alias := range aliases {
					ps, err := o.PoolStats(alias)
					if err != nil {
						return err
					}
					s := databaseStats{Alias: alias, Pool: ps}
					cs, err := o.CacheStats(alias)
					switch {
					case err == nil:
						s.Cache = cs
					case !errors.Is(err, odm.ErrCacheDisabled):
						return err
					}
					out = append(out, s)
				}
				return printJSON(cmd.OutOrStdout(), opts.pretty, out)
			})
		},
	}
}

func newClearCacheCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-cache",
		Short: "Drop cached results, including the shared second tier",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withODM(cmd, opts, func(ctx context.Context, o *odm.ODM) error {
				alias := opts.alias
				if alias == "" {
					alias = o.DefaultAlias()
				}
				if err := o.ClearCache(ctx, alias); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), opts.pretty, map[string]interface{}{"cleared": alias})
			})
		},
	}
}
