package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/redbco/quickdb/pkg/adapter"
	"github.com/redbco/quickdb/pkg/idgen"
	"github.com/redbco/quickdb/pkg/odm"
)

var errNoCondition = errors.New("refusing to touch every record without --all")

func recordCommands(opts *options) []*cobra.Command {
	return []*cobra.Command{
		newCreateCmd(opts),
		newCreateManyCmd(opts),
		newFindCmd(opts),
		newGetCmd(opts),
		newUpdateCmd(opts),
		newUpdateByIDCmd(opts),
		newDeleteCmd(opts),
		newDeleteByIDCmd(opts),
		newCountCmd(opts),
		newExistsCmd(opts),
	}
}

// parseID converts a command line id to the type the alias stores.
func parseID(o *odm.ODM, alias, text string) (interface{}, error) {
	db, err := o.Registry().Get(alias)
	if err != nil {
		return nil, err
	}
	return idgen.ParseID(db.Strategy(), text)
}

// condition returns the --where value, nil when absent. A missing
// condition is only accepted for destructive commands with --all.
func condition(cmd *cobra.Command, destructive bool) (interface{}, error) {
	where, _ := cmd.Flags().GetString("where")
	if where != "" {
		return where, nil
	}
	if destructive {
		if all, _ := cmd.Flags().GetBool("all"); !all {
			return nil, errNoCondition
		}
	}
	return nil, nil
}

func newCreateCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create [collection]",
		Short: "Insert one record",
		Long: `Insert a record given as a JSON object and print its id.

Examples:
  quickdb create users --data '{"name": "A", "age": 3}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, _ := cmd.Flags().GetString("data")
			rec, err := parseRecord(data)
			if err != nil {
				return err
			}
			return withODM(cmd, opts, func(ctx context.Context, o *odm.ODM) error {
				id, err := o.Using(opts.alias).Create(ctx, args[0], rec)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), opts.pretty, map[string]interface{}{"id": id})
			})
		},
	}
	cmd.Flags().StringP("data", "d", "", "Record as a JSON object")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func newCreateManyCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-many [collection]",
		Short: "Insert several records at once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, _ := cmd.Flags().GetString("data")
			recs, err := parseRecords(data)
			if err != nil {
				return err
			}
			return withODM(cmd, opts, func(ctx context.Context, o *odm.ODM) error {
				ids, err := o.Using(opts.alias).BatchCreate(ctx, args[0], recs)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), opts.pretty, map[string]interface{}{"ids": ids})
			})
		},
	}
	cmd.Flags().StringP("data", "d", "", "Records as a JSON array of objects")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

// parseSort reads "field" or "field:desc".
func parseSort(specs []string) ([]adapter.SortField, error) {
	out := make([]adapter.SortField, 0, len(specs))
	for _, spec := range specs {
		field, dir, _ := strings.Cut(spec, ":")
		sf := adapter.SortField{Field: field, Direction: adapter.Ascending}
		switch strings.ToLower(dir) {
		case "", "asc":
		case "desc":
			sf.Direction = adapter.Descending
		default:
			return nil, fmt.Errorf("invalid sort direction in %q", spec)
		}
		out = append(out, sf)
	}
	return out, nil
}

func newFindCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "find [collection]",
		Short: "List records matching a condition",
		Long: `List records matching a condition given as JSON in any accepted shape.

Examples:
  quickdb find users --where '{"age": {"gte": 18}}' --sort name --limit 10
  quickdb find users --where '{"field": "name", "operator": "contains", "value": "an"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cond, _ := condition(cmd, false)
			sortSpecs, _ := cmd.Flags().GetStringSlice("sort")
			sort, err := parseSort(sortSpecs)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt64("limit")
			skip, _ := cmd.Flags().GetInt64("skip")
			fields, _ := cmd.Flags().GetStringSlice("fields")
			qo := &adapter.QueryOptions{Sort: sort, Limit: limit, Skip: skip, Fields: fields}

			return withODM(cmd, opts, func(ctx context.Context, o *odm.ODM) error {
				records, err := o.Using(opts.alias).Find(ctx, args[0], cond, qo)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), opts.pretty, records)
			})
		},
	}
	cmd.Flags().StringP("where", "w", "", "Condition as JSON")
	cmd.Flags().StringSlice("sort", nil, "Sort fields, optionally suffixed with :desc")
	cmd.Flags().Int64("limit", 0, "Maximum number of records")
	cmd.Flags().Int64("skip", 0, "Number of records to skip")
	cmd.Flags().StringSlice("fields", nil, "Fields to return")
	return cmd
}

func newGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get [collection] [id]",
		Short: "Show one record by id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withODM(cmd, opts, func(ctx context.Context, o *odm.ODM) error {
				id, err := parseID(o, opts.alias, args[1])
				if err != nil {
					return err
				}
				rec, err := o.Using(opts.alias).FindByID(ctx, args[0], id)
				if err != nil {
					return err
				}
				if rec == nil {
					return fmt.Errorf("%s %s not found", args[0], args[1])
				}
				return printJSON(cmd.OutOrStdout(), opts.pretty, rec)
			})
		},
	}
}

func newUpdateCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update [collection]",
		Short: "Update records matching a condition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cond, err := condition(cmd, true)
			if err != nil {
				return err
			}
			set, _ := cmd.Flags().GetString("set")
			patch, err := parseRecord(set)
			if err != nil {
				return err
			}
			return withODM(cmd, opts, func(ctx context.Context, o *odm.ODM) error {
				n, err := o.Using(opts.alias).Update(ctx, args[0], cond, patch)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), opts.pretty, map[string]interface{}{"updated": n})
			})
		},
	}
	cmd.Flags().StringP("where", "w", "", "Condition as JSON")
	cmd.Flags().String("set", "", "Fields to change as a JSON object")
	cmd.Flags().Bool("all", false, "Allow updating every record when --where is absent")
	_ = cmd.MarkFlagRequired("set")
	return cmd
}

func newUpdateByIDCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update-by-id [collection] [id]",
		Short: "Update one record by id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, _ := cmd.Flags().GetString("set")
			patch, err := parseRecord(set)
			if err != nil {
				return err
			}
			return withODM(cmd, opts, func(ctx context.Context, o *odm.ODM) error {
				id, err := parseID(o, opts.alias, args[1])
				if err != nil {
					return err
				}
				ok, err := o.Using(opts.alias).UpdateByID(ctx, args[0], id, patch)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), opts.pretty, map[string]interface{}{"updated": ok})
			})
		},
	}
	cmd.Flags().String("set", "", "Fields to change as a JSON object")
	_ = cmd.MarkFlagRequired("set")
	return cmd
}

func newDeleteCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete [collection]",
		Short: "Delete records matching a condition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cond, err := condition(cmd, true)
			if err != nil {
				return err
			}
			return withODM(cmd, opts, func(ctx context.Context, o *odm.ODM) error {
				n, err := o.Using(opts.alias).Delete(ctx, args[0], cond)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), opts.pretty, map[string]interface{}{"deleted": n})
			})
		},
	}
	cmd.Flags().StringP("where", "w", "", "Condition as JSON")
	cmd.Flags().Bool("all", false, "Allow deleting every record when --where is absent")
	return cmd
}

func newDeleteByIDCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-by-id [collection] [id]",
		Short: "Delete one record by id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withODM(cmd, opts, func(ctx context.Context, o *odm.ODM) error {
				id, err := parseID(o, opts.alias, args[1])
				if err != nil {
					return err
				}
				ok, err := o.Using(opts.alias).DeleteByID(ctx, args[0], id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), opts.pretty, map[string]interface{}{"deleted": ok})
			})
		},
	}
}

func newCountCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "count [collection]",
		Short: "Count records matching a condition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cond, _ := condition(cmd, false)
			return withODM(cmd, opts, func(ctx context.Context, o *odm.ODM) error {
				n, err := o.Using(opts.alias).Count(ctx, args[0], cond)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), opts.pretty, map[string]interface{}{"count": n})
			})
		},
	}
	cmd.Flags().StringP("where", "w", "", "Condition as JSON")
	return cmd
}

func newExistsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exists [collection]",
		Short: "Report whether any record matches a condition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cond, _ := condition(cmd, false)
			return withODM(cmd, opts, func(ctx context.Context, o *odm.ODM) error {
				ok, err := o.Using(opts.alias).Exists(ctx, args[0], cond)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), opts.pretty, map[string]interface{}{"exists": ok})
			})
		},
	}
	cmd.Flags().StringP("where", "w", "", "Condition as JSON")
	return cmd
}
