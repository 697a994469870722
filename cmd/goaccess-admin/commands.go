package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	goAccess "github.com/MrEthical07/goAccess"
	"github.com/MrEthical07/goAccess/internal/bootstrap"
	"github.com/MrEthical07/goAccess/password"
	"github.com/spf13/cobra"
)

// cliActor is recorded as the actor of terminations issued from this tool.
const cliActor = "goaccess-admin"

func newSeedPermissionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed-permissions",
		Short: "Insert missing catalog permissions",
		Args:  cobra.NoArgs,
		RunE: a.withRuntime(func(ctx context.Context, rt *bootstrap.Runtime, _ []string) error {
			n, err := rt.Engine.SeedPermissions(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "seeded %d permissions\n", n)
			return nil
		}),
	}
}

func newCreateUserCmd(a *app) *cobra.Command {
	var (
		roles  []string
		secret string
	)
	cmd := &cobra.Command{
		Use:   "create-user EMAIL",
		Short: "Create a local user",
		Long: `Create an active local user with the given system roles.

The password is read from --password or, when omitted, from the
GOACCESS_NEW_PASSWORD environment variable.`,
		Args: cobra.ExactArgs(1),
		RunE: a.withRuntime(func(ctx context.Context, rt *bootstrap.Runtime, args []string) error {
			if secret == "" {
				secret = os.Getenv("GOACCESS_NEW_PASSWORD")
			}
			if secret == "" {
				return errors.New("a password is required")
			}
			pc := rt.Config.Password
			hasher, err := password.NewArgon2(password.Config{
				Memory:           pc.Memory,
				Time:             pc.Time,
				Parallelism:      pc.Parallelism,
				SaltLength:       pc.SaltLength,
				KeyLength:        pc.KeyLength,
				MaxPasswordBytes: pc.MaxPasswordBytes,
			})
			if err != nil {
				return err
			}
			hash, err := hasher.Hash(secret)
			if err != nil {
				return err
			}
			user, err := rt.Store.CreateUser(ctx, goAccess.User{
				Email:        args[0],
				PasswordHash: hash,
				Roles:        roles,
				Active:       true,
				Verified:     true,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "created user %s (%s)\n", user.Email, user.ID)
			return nil
		}),
	}
	cmd.Flags().StringSliceVar(&roles, "role", nil, "system role to assign, repeatable")
	cmd.Flags().StringVar(&secret, "password", "", "initial password")
	return cmd
}

func newPurgeAuditCmd(a *app) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "purge-audit",
		Short: "Delete audit entries past the retention period",
		Args:  cobra.NoArgs,
		RunE: a.withRuntime(func(ctx context.Context, rt *bootstrap.Runtime, _ []string) error {
			n, err := rt.Engine.PurgeAuditLog(ctx, olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "purged %d audit entries\n", n)
			return nil
		}),
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "age cutoff; zero uses audit.retention")
	return cmd
}

func newTerminateSessionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "terminate-sessions EMAIL",
		Short: "End every active session of a user",
		Args:  cobra.ExactArgs(1),
		RunE: a.withRuntime(func(ctx context.Context, rt *bootstrap.Runtime, args []string) error {
			user, err := rt.Store.UserByEmail(ctx, args[0])
			if err != nil {
				return fmt.Errorf("user %s: %w", args[0], err)
			}
			n, err := rt.Engine.TerminateUserSessions(ctx, user.ID, cliActor)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "terminated %d sessions of %s\n", n, user.Email)
			return nil
		}),
	}
}

func newCleanupSessionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup-sessions",
		Short: "Terminate sessions past their idle or absolute limit",
		Args:  cobra.NoArgs,
		RunE: a.withRuntime(func(ctx context.Context, rt *bootstrap.Runtime, _ []string) error {
			n, err := rt.Engine.CleanupExpiredSessions(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "cleaned up %d sessions\n", n)
			return nil
		}),
	}
}

func newSessionsCmd(a *app) *cobra.Command {
	var (
		filter string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List active sessions",
		Args:  cobra.NoArgs,
		RunE: a.withRuntime(func(ctx context.Context, rt *bootstrap.Runtime, _ []string) error {
			sessions, err := rt.Engine.ActiveSessions(ctx, filter, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tEMAIL\tIP\tLAST ACTIVITY")
			for _, s := range sessions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.SessionID, s.Email, s.IP, s.LastActivityAt.Format(time.RFC3339))
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().StringVar(&filter, "email", "", "case-insensitive email substring")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum rows")
	return cmd
}

func newSecurityReportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "security-report",
		Short: "Print the active security configuration as JSON",
		Args:  cobra.NoArgs,
		RunE: a.withRuntime(func(_ context.Context, rt *bootstrap.Runtime, _ []string) error {
			enc := json.NewEncoder(a.out)
			enc.SetIndent("", "  ")
			return enc.Encode(rt.Engine.SecurityReport())
		}),
	}
}

func newRoleTemplatesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "role-templates",
		Short: "List the predefined role templates",
		Args:  cobra.NoArgs,
		RunE: a.withRuntime(func(_ context.Context, rt *bootstrap.Runtime, _ []string) error {
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tNAME\tPERMISSIONS")
			for _, t := range rt.Engine.RoleTemplates() {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Key, t.Name, strings.Join(t.Permissions, ","))
			}
			return tw.Flush()
		}),
	}
}

func newCreateRoleCmd(a *app) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create-role TEMPLATE",
		Short: "Create a custom role from a template",
		Args:  cobra.ExactArgs(1),
		RunE: a.withRuntime(func(ctx context.Context, rt *bootstrap.Runtime, args []string) error {
			role, err := rt.Engine.CreateRoleFromTemplate(ctx, args[0], name)
			if err != nil {
				return fmt.Errorf("template %s: %w", args[0], err)
			}
			fmt.Fprintf(a.out, "created role %s (%s)\n", role.Name, role.ID)
			return nil
		}),
	}
	cmd.Flags().StringVar(&name, "name", "", "role name; defaults to the template's")
	return cmd
}

func newCompareRolesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "compare-roles ROLE_ID...",
		Short: "Print the permission matrix of custom roles",
		Args:  cobra.MinimumNArgs(1),
		RunE: a.withRuntime(func(ctx context.Context, rt *bootstrap.Runtime, args []string) error {
			cmp, err := rt.Engine.CompareRoles(ctx, args)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			header := []string{"CATEGORY", "PERMISSION"}
			for _, role := range cmp.Roles {
				header = append(header, role.Name)
			}
			fmt.Fprintln(tw, strings.Join(header, "\t"))
			for _, row := range cmp.Rows {
				cells := []string{row.Category, row.Permission}
				for _, role := range cmp.Roles {
					mark := "-"
					if row.Granted[role.ID] {
						mark = "x"
					}
					cells = append(cells, mark)
				}
				fmt.Fprintln(tw, strings.Join(cells, "\t"))
			}
			return tw.Flush()
		}),
	}
}
