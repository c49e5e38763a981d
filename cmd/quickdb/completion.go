package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/redbco/quickdb/pkg/config"
)

// aliasCompletion completes --alias from the config file.
func aliasCompletion(opts *options) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		cfg, err := config.Load(opts.configFile)
		if err != nil {
			return nil, cobra.ShellCompDirectiveError
		}
		var aliases []string
		for _, d := range cfg.Databases {
			if strings.HasPrefix(d.Alias, toComplete) {
				aliases = append(aliases, d.Alias)
			}
		}
		return aliases, cobra.ShellCompDirectiveNoFileComp
	}
}

func setupCompletion(root *cobra.Command, opts *options) {
	_ = root.RegisterFlagCompletionFunc("alias", aliasCompletion(opts))
}
