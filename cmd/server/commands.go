package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wakala/tradeguard/internal/domain"
)

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Repair pending trade updates and check dispute timelines once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.recon.RunFullReconciliation(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if len(res.FailedTrades) > 0 {
				return fmt.Errorf("%d trade updates still failing", len(res.FailedTrades))
			}
			return nil
		},
	}
}

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage monitoring rules",
	}
	var actor string
	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Create or update rules from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			return importRuleFile(cmd.Context(), a, args[0], actor)
		},
	}
	importCmd.Flags().StringVar(&actor, "actor", "cli", "actor recorded in the audit log")
	cmd.AddCommand(importCmd)
	return cmd
}

func usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage the role directory",
	}
	var actor string
	grantCmd := &cobra.Command{
		Use:   "grant <user-id> <role>",
		Short: "Record a role (buyer, seller, admin, arbitrator) for a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role := domain.Role(args[1])
			switch role {
			case domain.RoleBuyer, domain.RoleSeller, domain.RoleAdmin, domain.RoleArbitrator:
			default:
				return fmt.Errorf("unknown role %q", args[1])
			}
			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := grantRole(cmd.Context(), a, args[0], role, actor); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", args[0], role)
			return nil
		},
	}
	grantCmd.Flags().StringVar(&actor, "actor", "cli", "actor recorded in the audit log")
	cmd.AddCommand(grantCmd)
	return cmd
}

func grantRole(ctx context.Context, a *app, userID string, role domain.Role, actor string) error {
	previous, err := a.users.GetRole(ctx, userID)
	if err != nil {
		return err
	}
	if err := a.users.SetRole(ctx, userID, role); err != nil {
		return err
	}
	a.auditor.Record(ctx, "user.set_role", "user", userID, actor, map[string]any{
		"role":          string(role),
		"previous_role": string(previous),
	})
	return nil
}
