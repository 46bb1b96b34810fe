package pokerctl

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/planningpoker/go/internal/api"
	"github.com/mcdev12/planningpoker/go/internal/estimation"
	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/spf13/cobra"
)

func newCreateCmd(opts *options) *cobra.Command {
	var (
		name         string
		as           string
		sizing       string
		allowMembers bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a session and join it as its creator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cache, closeCache, err := opts.identityCache()
			if err != nil {
				return err
			}
			defer closeCache()

			creator, err := displayName(ctx, cache, as)
			if err != nil {
				return err
			}
			if _, err := models.ParseSizingType(sizing); err != nil {
				return err
			}

			client := opts.client()
			sessionID, _, err := client.CreateSession(ctx, api.CreateSessionRequest{
				Name:               name,
				CreatorName:        creator,
				SizingType:         sizing,
				AllowMembersManage: allowMembers,
			})
			if err != nil {
				return err
			}
			estimation.NewIdentityResolver(client, cache).Remember(ctx, sessionID, creator)

			fmt.Fprintf(cmd.OutOrStdout(), "Session created: %s\n", sessionID)
			fmt.Fprintf(cmd.OutOrStdout(), "Share this code to invite others, then run: pokerctl watch %s\n", sessionID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "session name")
	cmd.Flags().StringVar(&as, "as", "", "your display name (defaults to the last one used)")
	cmd.Flags().StringVar(&sizing, "sizing", string(models.SizingFibonacci), "card set: fibonacci, short_fibonacci, tshirt or tshirt_numbers")
	cmd.Flags().BoolVar(&allowMembers, "allow-members-manage", false, "let every participant reveal and clear")
	cmd.MarkFlagRequired("name")
	return cmd
}

func newJoinCmd(opts *options) *cobra.Command {
	var as string
	cmd := &cobra.Command{
		Use:   "join <session-id>",
		Short: "Join a session under a display name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid session code: %w", err)
			}
			ctx := cmd.Context()
			cache, closeCache, err := opts.identityCache()
			if err != nil {
				return err
			}
			defer closeCache()

			name, err := displayName(ctx, cache, as)
			if err != nil {
				return err
			}
			p, err := estimation.NewIdentityResolver(opts.client(), cache).Join(ctx, sessionID, name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Joined as %s. Run: pokerctl watch %s\n", p.Name, sessionID)
			return nil
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "your display name (defaults to the last one used)")
	return cmd
}

func newLeaveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "leave <session-id>",
		Short: "Leave a session and forget the cached identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid session code: %w", err)
			}
			ctx := cmd.Context()
			cache, closeCache, err := opts.identityCache()
			if err != nil {
				return err
			}
			defer closeCache()

			resolver := estimation.NewIdentityResolver(opts.client(), cache)
			p, err := resolver.Revalidate(ctx, sessionID)
			if err != nil {
				return err
			}
			if err := resolver.Leave(ctx, sessionID, p.Name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s left the session\n", p.Name)
			return nil
		},
	}
}
