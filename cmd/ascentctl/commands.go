package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	app "github.com/okian/ascent/internal/app"
	"github.com/okian/ascent/internal/config"
	"github.com/okian/ascent/internal/domain/grant"
	"github.com/okian/ascent/internal/domain/model"
	"github.com/okian/ascent/internal/domain/voting"
)

var (
	roleFlag      string
	overrideFlag  bool
	decisionLimit int
)

var seedCmd = &cobra.Command{
	Use:   "seed <roles.yaml>",
	Short: "Load role definitions into the database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roles, err := config.LoadRoles(args[0])
		if err != nil {
			return err
		}
		return withService(cmd, func(ctx context.Context, svc *app.Service, _ bool) (any, error) {
			if err := svc.SeedRoles(ctx, roles); err != nil {
				return nil, err
			}
			names := make([]string, len(roles))
			for i, r := range roles {
				names[i] = r.Name
			}
			return map[string]any{"seeded": names}, nil
		})
	},
}

var eligibilityCmd = &cobra.Command{
	Use:   "eligibility <member-id>",
	Short: "Explain a member's eligibility",
	Long: `Resolve the highest tier role the member qualifies for, or evaluate
one role with --role. Every requirement's result is printed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *app.Service, _ bool) (any, error) {
			return svc.Eligibility(ctx, guildID, args[0], roleFlag)
		})
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <member-id> <account-key>",
	Short: "Link a proven account and grant the eligible role",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *app.Service, dry bool) (any, error) {
			return svc.Verify(ctx, app.VerifyRequest{GuildID: guildID, MemberID: args[0], AccountKey: args[1], DryRun: dry})
		})
	},
}

var nominateCmd = &cobra.Command{
	Use:   "nominate <nominator-id> <nominee-id> <role>",
	Short: "Open a nomination thread",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *app.Service, _ bool) (any, error) {
			return svc.Nominate(ctx, voting.NominateRequest{
				GuildID: guildID, NominatorID: args[0], NomineeID: args[1], RoleName: args[2],
			})
		})
	},
}

var voteCmd = &cobra.Command{
	Use:   "vote <thread-id> <voter-id>",
	Short: "Vote on a nomination thread",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *app.Service, dry bool) (any, error) {
			return svc.Vote(ctx, voting.VoteRequest{GuildID: guildID, ThreadID: args[0], VoterID: args[1], DryRun: dry})
		})
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh <thread-id>",
	Short: "Re-check a thread for expiry and quorum",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *app.Service, dry bool) (any, error) {
			return svc.Refresh(ctx, args[0], dry)
		})
	},
}

var grantCmd = &cobra.Command{
	Use:   "grant <member-id> <role>",
	Short: "Grant a role, replacing lower tier roles",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *app.Service, dry bool) (any, error) {
			return outcomeResult(svc.Grant(ctx, model.GrantRequest{
				GuildID: guildID, MemberID: args[0], RoleName: args[1], Override: overrideFlag, DryRun: dry,
			}))
		})
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke <member-id> <role>",
	Short: "Remove a role from a member",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *app.Service, dry bool) (any, error) {
			return outcomeResult(svc.Revoke(ctx, grant.RevokeRequest{
				GuildID: guildID, MemberID: args[0], RoleName: args[1], DryRun: dry,
			}))
		})
	},
}

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Close nomination threads past their lifetime",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withService(cmd, func(ctx context.Context, svc *app.Service, _ bool) (any, error) {
			n, err := svc.ExpireStale(ctx)
			return map[string]int{"expired": n}, err
		})
	},
}

var decisionsCmd = &cobra.Command{
	Use:   "decisions [member-id]",
	Short: "List recent role decisions",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		member := ""
		if len(args) == 1 {
			member = args[0]
		}
		return withService(cmd, func(ctx context.Context, svc *app.Service, _ bool) (any, error) {
			return svc.Decisions(ctx, member, decisionLimit)
		})
	},
}

func init() {
	eligibilityCmd.Flags().StringVar(&roleFlag, "role", "", "evaluate this role instead of resolving the highest")
	grantCmd.Flags().BoolVar(&overrideFlag, "override", false, "add the role without touching other tier roles")
	decisionsCmd.Flags().IntVar(&decisionLimit, "limit", 0, "maximum decisions to list")
}

// outcomeResult prints the outcome and turns a failure into the command error.
func outcomeResult(out model.GrantOutcome) (any, error) {
	if out.Success {
		return out, nil
	}
	if out.Err != nil {
		return out, out.Err
	}
	return out, errors.New(out.Reason)
}

var memberCmd = &cobra.Command{
	Use:   "member <snapshot.json>",
	Short: "Sync a member snapshot from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read snapshot: %w", err)
		}
		var m model.Member
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("decode snapshot: %w", err)
		}
		return withService(cmd, func(ctx context.Context, svc *app.Service, _ bool) (any, error) {
			if err := svc.SyncMember(ctx, &m); err != nil {
				return nil, err
			}
			return m, nil
		})
	},
}

var badgeCmd = &cobra.Command{
	Use:   "badge <member-id> <code>...",
	Short: "Record badges earned by a member",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		badges := make([]model.Badge, 0, len(args)-1)
		for _, code := range args[1:] {
			badges = append(badges, model.Badge{Code: code, EarnedAt: time.Now().UTC()})
		}
		return withService(cmd, func(ctx context.Context, svc *app.Service, _ bool) (any, error) {
			if err := svc.AddBadges(ctx, args[0], badges...); err != nil {
				return nil, err
			}
			return map[string]int{"added": len(badges)}, nil
		})
	},
}
