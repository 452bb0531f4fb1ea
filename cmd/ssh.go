package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var sshCmd = &cobra.Command{
	Use:   "ssh [-- command]",
	Short: "Open a shell or run a command inside the VM",
	RunE:  logged("ssh", runSSH),
}

func runSSH(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	drv := buildDriver()
	if err := drv.Preflight(ctx); err != nil {
		return err
	}

	if len(args) == 0 {
		return drv.SSH(ctx)
	}

	res, err := drv.GuestExec(ctx, strings.Join(args, " "))
	if res != nil && res.Stdout != "" {
		fmt.Fprintln(cmd.OutOrStdout(), res.Stdout)
	}
	if res != nil && res.Stderr != "" {
		fmt.Fprintln(cmd.ErrOrStderr(), res.Stderr)
	}
	if err != nil && (res == nil || res.ExitCode <= 0) {
		return err
	}
	if res != nil && !res.OK() {
		return &exitError{code: res.ExitCode, msg: fmt.Sprintf("command exited %d", res.ExitCode)}
	}
	return nil
}
