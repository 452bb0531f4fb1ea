package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	"github.com/KemoDesignz/dev-vm/kubeconfig"
	"github.com/KemoDesignz/dev-vm/lifecycle"
	"github.com/KemoDesignz/dev-vm/reconcile"
	"github.com/KemoDesignz/dev-vm/stages"
)

var repairCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Diagnose the VM and apply bounded corrective actions",
		RunE:  logged("repair", runRepair),
	}
	addMachineFlags(cmd)
	return cmd
}()

func runRepair(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	logger := log.WithFunc("cmd.repair")

	drv := buildDriver()
	if err := drv.Preflight(ctx); err != nil {
		return err
	}
	rc, err := resolveMachine(cmd)
	if err != nil {
		return err
	}
	if flagDryRun {
		logger.Infof(ctx, "dry run: would inspect and repair vm %s", rc.Name)
		return nil
	}

	runner := stages.NewRunner(drv)
	orch := lifecycle.New(drv, runner)
	store := kubeconfig.NewStore(conf)
	rec := reconcile.New(conf, rc, drv, orch, store, httpClient())

	report, err := rec.Run(ctx)
	switch {
	case errors.Is(err, reconcile.ErrNotProvisioned):
		return fmt.Errorf("%w (devvm setup)", err)
	case errors.Is(err, reconcile.ErrPartialHealth):
		printReport(cmd.OutOrStdout(), report)
		fmt.Fprintln(cmd.OutOrStdout(),
			"issues remain; consider devvm provision, or restore the baseline snapshot")
		return nil
	case err != nil:
		return err
	}
	printReport(cmd.OutOrStdout(), report)
	fmt.Fprintln(cmd.OutOrStdout(), "all healthy")
	return nil
}

func printReport(out io.Writer, report *reconcile.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, p := range report.Phases {
		note := p.Detail
		if len(p.Actions) > 0 {
			note = strings.Join(p.Actions, ", ") + "; " + note
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", p.Name, passFail(p.Healthy), note)
	}
	w.Flush() //nolint:errcheck,gosec
}
