package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/KemoDesignz/dev-vm/health"
	"github.com/KemoDesignz/dev-vm/kubeconfig"
	"github.com/KemoDesignz/dev-vm/types"
)

var healthCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Report VM, service, tool and disk health without changing anything",
		RunE:  logged("health", runHealth),
	}
	addMachineFlags(cmd)
	return cmd
}()

func runHealth(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)

	drv := buildDriver()
	if err := drv.Preflight(ctx); err != nil {
		return err
	}
	rc, err := resolveMachine(cmd)
	if err != nil {
		return err
	}

	store := kubeconfig.NewStore(conf)
	collector := health.NewCollector(conf, rc, drv, store)
	snap, err := collector.Collect(ctx)
	if err != nil {
		return err
	}
	if err := health.Render(os.Stdout, rc, snap, conf.DiskCriticalPercent); err != nil {
		return err
	}

	if snap.VMState != types.StateRunning {
		return &exitError{code: 2, msg: "vm is not running; run devvm setup or devvm repair"}
	}
	if snap.Healthy() && !collector.DiskCritical(snap) {
		fmt.Fprintln(cmd.OutOrStdout(), "PASS")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), "FAIL")

	// Offer repair, never force it; --yes intentionally does not
	// auto-run it either.
	if p := prompter(); p != nil {
		ok, err := p.Confirm("run repair now?")
		if err == nil && ok {
			return runRepair(cmd, nil)
		}
	}
	return nil
}
