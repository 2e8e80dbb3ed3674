package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	app "github.com/okian/ascent/internal/app"
	"github.com/okian/ascent/internal/config"
	"github.com/okian/ascent/pkg/logger"
)

var (
	configPath string
	guildID    string
	dryRun     bool
)

var rootCmd = &cobra.Command{
	Use:   "ascentctl",
	Short: "ascentctl - operate the role promotion engine",
	Long: `ascentctl runs eligibility checks, nominations, votes and grants
directly against the ascent database.`,
	Example: `  # Load role definitions, then check a member
  ascentctl seed roles.yaml
  ascentctl eligibility 123456789

  # Nominate and vote without touching roles
  ascentctl nominate 111 222 Navigator
  ascentctl vote <thread-id> 333 --dry-run`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (defaults to $ASCENT_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&guildID, "guild", "", "guild id (defaults to guild_id from config)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "simulate role changes (defaults to dry_run from config)")

	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(memberCmd)
	rootCmd.AddCommand(badgeCmd)
	rootCmd.AddCommand(eligibilityCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(nominateCmd)
	rootCmd.AddCommand(voteCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(grantCmd)
	rootCmd.AddCommand(revokeCmd)
	rootCmd.AddCommand(expireCmd)
	rootCmd.AddCommand(decisionsCmd)
}

func main() {
	if err := logger.InitWith(logger.FormatText, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logging:", err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads --config, or $ASCENT_CONFIG when the flag is empty.
func loadConfig(ctx context.Context) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load(ctx)
}

// withService builds a service for one command and prints what fn returns.
func withService(cmd *cobra.Command, fn func(ctx context.Context, svc *app.Service, dry bool) (any, error)) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		_ = logger.SetLevelString("warn")
	}
	if guildID != "" {
		cfg.GuildID = guildID
	}
	dry := cfg.DryRun
	if f := cmd.Flag("dry-run"); f != nil && f.Changed {
		dry = dryRun
	}

	svc, closeFn, err := app.FromConfig(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeFn() }()

	out, err := fn(ctx, svc, dry)
	if out != nil {
		if perr := printJSON(cmd.OutOrStdout(), out); perr != nil {
			return perr
		}
	}
	return err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
