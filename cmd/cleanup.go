package cmd

import (
	"fmt"
	"os"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	"github.com/KemoDesignz/dev-vm/cleanup"
	"github.com/KemoDesignz/dev-vm/kubeconfig"
)

var cleanupCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Tear down the VM and remove generated files, step by step",
		RunE:  logged("cleanup", runCleanup),
	}
	addMachineFlags(cmd)
	for _, step := range cleanup.Steps() {
		cmd.Flags().Bool("skip-"+step, false, "skip the "+step+" step")
	}
	return cmd
}()

func runCleanup(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	logger := log.WithFunc("cmd.cleanup")

	drv := buildDriver()
	if err := drv.Preflight(ctx); err != nil {
		return err
	}

	skip := map[string]bool{}
	for _, step := range cleanup.Steps() {
		skip[step], _ = cmd.Flags().GetBool("skip-" + step)
	}

	ask := confirm
	if flagDryRun {
		ask = func(question string) (bool, error) {
			fmt.Fprintf(cmd.OutOrStdout(), "dry run: would ask %q\n", question)
			return false, nil
		}
	}

	ctrl := cleanup.New(conf, machineName(cmd), drv, kubeconfig.NewStore(conf), cleanup.Options{
		Skip:    skip,
		Confirm: ask,
		Out:     os.Stdout,
	})
	outcome, err := ctrl.Run(ctx)
	if err != nil {
		logger.Warnf(ctx, "cleanup finished with errors: %v", err)
	}
	if !outcome.Anything() {
		logger.Infof(ctx, "nothing removed")
	}
	return nil
}
