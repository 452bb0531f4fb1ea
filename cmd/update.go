package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	"github.com/KemoDesignz/dev-vm/descriptor"
	"github.com/KemoDesignz/dev-vm/gc"
	"github.com/KemoDesignz/dev-vm/health"
	"github.com/KemoDesignz/dev-vm/kubeconfig"
	"github.com/KemoDesignz/dev-vm/lifecycle"
	"github.com/KemoDesignz/dev-vm/stages"
	"github.com/KemoDesignz/dev-vm/tools"
)

const guestUpgradeCommand = "sudo apt-get update -qq && " +
	"sudo DEBIAN_FRONTEND=noninteractive apt-get upgrade -y -qq"

var updateCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Upgrade guest packages and tools, honoring new version pins",
		RunE:  logged("update", runUpdate),
	}
	addMachineFlags(cmd)
	return cmd
}()

func runUpdate(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	logger := log.WithFunc("cmd.update")

	drv := buildDriver()
	if err := drv.Preflight(ctx); err != nil {
		return err
	}
	rc, err := resolveMachine(cmd)
	if err != nil {
		return err
	}

	if flagDryRun {
		_, _ = drv.SnapshotSave(ctx, "pre-update-<timestamp>")
		_, _ = drv.GuestExec(ctx, guestUpgradeCommand)
		return nil
	}

	runner := stages.NewRunner(drv)
	orch := lifecycle.New(drv, runner)
	state, err := drv.Status(ctx)
	if err != nil {
		return err
	}
	if _, _, err := orch.EnsureRunning(ctx, state); err != nil {
		return describeStageFailure(err)
	}

	snapName := gc.UpdatePrefix + time.Now().Format("20060102-150405")
	if _, err := drv.SnapshotSave(ctx, snapName); err != nil {
		logger.Warnf(ctx, "snapshot before update failed: %v", err)
	} else {
		logger.Infof(ctx, "snapshot %s taken", snapName)
	}
	if pruned, err := gc.PruneUpdateSnapshots(ctx, drv, gc.KeepDefault); err != nil {
		logger.Warnf(ctx, "snapshot sweep incomplete: %v", err)
	} else if len(pruned) > 0 {
		logger.Infof(ctx, "swept %d old pre-update snapshot(s)", len(pruned))
	}

	res, err := drv.GuestExec(ctx, guestUpgradeCommand)
	if err != nil && (res == nil || res.ExitCode <= 0) {
		return fmt.Errorf("guest package upgrade failed: %w", err)
	}
	if !res.OK() {
		if res.Stderr != "" {
			fmt.Fprintln(os.Stderr, res.Stderr)
		}
		return &exitError{code: res.ExitCode, msg: "guest package upgrade failed"}
	}
	logger.Infof(ctx, "guest packages upgraded")

	hc := httpClient()
	for _, tool := range tools.Catalog() {
		if tool.PackageManaged {
			continue
		}
		tag, err := tools.Reinstall(ctx, drv, hc, tool, rc.Credentials.GithubToken)
		if err != nil {
			logger.Warnf(ctx, "update %s failed: %v", tool.Name, err)
			continue
		}
		logger.Infof(ctx, "%s updated to %s", tool.Name, tag)
	}

	// New version pins change the rendered environment, so refresh the
	// descriptor and re-run only the affected stages.
	if cmd.Flags().Changed("k3s-version") || cmd.Flags().Changed("node-version") {
		text, err := descriptor.Render(conf, rc, stages.Catalog())
		if err != nil {
			return err
		}
		if _, err := descriptor.Sync(ctx, conf.DescriptorFile(), text); err != nil {
			return err
		}
		names := []string{descriptor.EnvStage}
		if cmd.Flags().Changed("k3s-version") {
			names = append(names, "k3s")
		}
		if cmd.Flags().Changed("node-version") {
			names = append(names, "node")
		}
		for _, name := range names {
			if _, err := runner.RunOne(ctx, name); err != nil {
				return describeStageFailure(err)
			}
			logger.Infof(ctx, "stage %s re-ran for new pin", name)
		}
	}

	store := kubeconfig.NewStore(conf)
	collector := health.NewCollector(conf, rc, drv, store)
	snap, err := collector.Collect(ctx)
	if err != nil {
		return err
	}
	return health.Render(os.Stdout, rc, snap, conf.DiskCriticalPercent)
}
