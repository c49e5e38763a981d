package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/redbco/quickdb/pkg/config"
	"github.com/redbco/quickdb/pkg/database"
	"github.com/redbco/quickdb/pkg/logger"
	"github.com/redbco/quickdb/pkg/odm"
)

var (
	// Build information, set with -ldflags.
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// shutdownTimeout bounds how long pools may drain when a command exits.
const shutdownTimeout = 10 * time.Second

type options struct {
	configFile string
	alias      string
	pretty     bool
}

func printVersionInfo(w io.Writer) {
	fmt.Fprintf(w, "quickdb %s\n", Version)
	fmt.Fprintf(w, "Built: %s, from commit: %s\n", BuildTime, GitCommit)
	fmt.Fprintf(w, "Go version: %s\n", runtime.Version())
	fmt.Fprintf(w, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "quickdb",
		Short: "quickdb command line interface",
		Long: "Run create, find, update and delete operations against the databases " +
			"configured in a quickdb YAML file.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if v, _ := cmd.Flags().GetBool("version"); v {
				printVersionInfo(cmd.OutOrStdout())
				return nil
			}
			return cmd.Help()
		},
	}

	defaultConfig := os.Getenv("QUICKDB_CONFIG")
	if defaultConfig == "" {
		defaultConfig = "quickdb.yaml"
	}
	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", defaultConfig, "Path to config file")
	root.PersistentFlags().StringVarP(&opts.alias, "alias", "a", "", "Database alias (defaults to the configured default)")
	root.PersistentFlags().BoolVar(&opts.pretty, "pretty", true, "Indent JSON output")
	root.Flags().Bool("version", false, "Show version information and exit")

	root.AddCommand(recordCommands(opts)...)
	root.AddCommand(newDatabasesCmd(opts))
	root.AddCommand(newSecretsCmd())
	setupCompletion(root, opts)
	return root
}

// withODM loads the configuration, opens every configured database, runs fn
// and shuts everything down again.
func withODM(cmd *cobra.Command, opts *options, fn func(ctx context.Context, o *odm.ODM) error) error {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return err
	}
	if len(cfg.Databases) == 0 {
		return fmt.Errorf("no databases configured in %s", opts.configFile)
	}

	if cfg.Logging.Level == "" {
		// Keep lifecycle messages out of command output.
		cfg.Logging.Level = "warn"
	}
	log, err := logger.NewWithConfig("quickdb", Version, cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = log.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	o, err := odm.Open(ctx, cfg, database.DefaultRegistry(), log)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = o.Shutdown(sctx)
	}()

	return fn(ctx, o)
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
