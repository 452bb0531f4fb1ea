package cmd

import (
	"context"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	"github.com/KemoDesignz/dev-vm/config"
	"github.com/KemoDesignz/dev-vm/descriptor"
	"github.com/KemoDesignz/dev-vm/health"
	"github.com/KemoDesignz/dev-vm/kubeconfig"
	"github.com/KemoDesignz/dev-vm/lifecycle"
	"github.com/KemoDesignz/dev-vm/stages"
	"github.com/KemoDesignz/dev-vm/types"
	"github.com/KemoDesignz/dev-vm/vagrant"
)

// baselineSnapshot is taken once after the first fully healthy setup,
// giving repair a restore point to recommend.
const baselineSnapshot = "baseline"

var setupCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Create, boot and fully provision the development VM",
		RunE:  logged("setup", runSetup),
	}
	addMachineFlags(cmd)
	return cmd
}()

func runSetup(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	logger := log.WithFunc("cmd.setup")

	drv := buildDriver()
	if err := drv.Preflight(ctx); err != nil {
		return err
	}

	rc, err := resolveMachine(cmd)
	if err != nil {
		return err
	}
	logger.Infof(ctx, "machine config: %+v", rc.Redacted())

	if p := prompter(); p != nil {
		entered, err := config.PromptMissingCredentials(rc, p)
		if err != nil {
			return err
		}
		if entered != nil {
			if err := config.OfferPersistCredentials(ctx, conf.OverrideFile(), entered, p); err != nil {
				logger.Warnf(ctx, "persist credentials: %v", err)
			}
		}
	}

	text, err := descriptor.Render(conf, rc, stages.Catalog())
	if err != nil {
		return err
	}

	runner := stages.NewRunner(drv)
	if flagDryRun {
		logger.Infof(ctx, "dry run: descriptor renders to %d bytes", len(text))
		_, _ = drv.Up(ctx, false)
		_, _ = drv.Provision(ctx, runner.Sequence()...)
		return nil
	}

	if err := conf.EnsureDirs(); err != nil {
		return err
	}
	changed, err := descriptor.Sync(ctx, conf.DescriptorFile(), text)
	if err != nil {
		return err
	}
	if changed {
		logger.Infof(ctx, "descriptor updated: %s", conf.DescriptorFile())
	}

	orch := lifecycle.New(drv, runner)
	state, err := drv.Status(ctx)
	if err != nil {
		return err
	}
	_, ran, err := orch.EnsureRunning(ctx, state)
	if err != nil {
		return describeStageFailure(err)
	}
	if id, idErr := drv.MachineID(rc.Name); idErr == nil {
		logger.Infof(ctx, "machine %s up, hypervisor id %s", rc.Name, id)
	}
	if len(ran) == 0 {
		// Machine existed already; stages are idempotent, run them all
		// so the guest converges on the current configuration.
		if ran, err = runner.RunAll(ctx); err != nil {
			return describeStageFailure(err)
		}
	}
	reportStages(cmd, ran)

	store := kubeconfig.NewStore(conf)
	kubePath, err := store.Extract(ctx, drv, rc.Name, rc.PrivateIP,
		conf.KubeconfigWaitAttempts, time.Duration(conf.KubeconfigWaitIntervalSeconds)*time.Second)
	if err != nil {
		return fmt.Errorf("extract kubeconfig: %w", err)
	}
	logger.Infof(ctx, "kubeconfig written to %s", kubePath)

	collector := health.NewCollector(conf, rc, drv, store)
	snap, err := collector.Collect(ctx)
	if err != nil {
		return err
	}
	if err := health.Render(os.Stdout, rc, snap, conf.DiskCriticalPercent); err != nil {
		return err
	}
	if !snap.Healthy() || collector.DiskCritical(snap) {
		fmt.Fprintln(cmd.OutOrStdout(), "issues remain; run devvm repair")
		return nil
	}
	if err := ensureBaselineSnapshot(ctx, drv, snap.VMState); err != nil {
		logger.Warnf(ctx, "baseline snapshot: %v", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "all healthy")
	return nil
}

// ensureBaselineSnapshot takes the post-setup snapshot exactly once.
func ensureBaselineSnapshot(ctx context.Context, drv *vagrant.Driver, state types.VMState) error {
	if state != types.StateRunning {
		return nil
	}
	names, err := drv.SnapshotList(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(names, baselineSnapshot) {
		return nil
	}
	_, err = drv.SnapshotSave(ctx, baselineSnapshot)
	return err
}
