// Command goaccess-admin runs maintenance tasks against a goAccess
// deployment: seeding the permission catalog, creating users, purging the
// audit log and ending sessions.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/MrEthical07/goAccess/internal/bootstrap"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "goaccess-admin: %v\n", err)
		os.Exit(1)
	}
}

type app struct {
	configPath string
	out        io.Writer
}

func newRootCommand(out io.Writer) *cobra.Command {
	a := &app{out: out}
	cmd := &cobra.Command{
		Use:           "goaccess-admin",
		Short:         "Maintenance commands for goAccess",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.PersistentFlags().StringVar(&a.configPath, "config", os.Getenv("GOACCESS_CONFIG"), "path to the YAML configuration file")

	cmd.AddCommand(
		newSeedPermissionsCmd(a),
		newCreateUserCmd(a),
		newPurgeAuditCmd(a),
		newTerminateSessionsCmd(a),
		newCleanupSessionsCmd(a),
		newSessionsCmd(a),
		newSecurityReportCmd(a),
		newRoleTemplatesCmd(a),
		newCreateRoleCmd(a),
		newCompareRolesCmd(a),
	)
	return cmd
}

// withRuntime loads the configuration and backends for the duration of fn.
func (a *app) withRuntime(fn func(ctx context.Context, rt *bootstrap.Runtime, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		rt, err := bootstrap.Load(ctx, a.configPath)
		if err != nil {
			return err
		}
		defer rt.Close()
		return fn(ctx, rt, args)
	}
}
