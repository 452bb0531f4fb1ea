package cmd

import (
	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	"github.com/KemoDesignz/dev-vm/descriptor"
	"github.com/KemoDesignz/dev-vm/lifecycle"
	"github.com/KemoDesignz/dev-vm/stages"
)

var provisionCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Re-run provisioning stages on the VM",
		RunE:  logged("provision", runProvision),
	}
	addMachineFlags(cmd)
	cmd.Flags().String("stage", "", "run only the named stage")
	return cmd
}()

func runProvision(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	logger := log.WithFunc("cmd.provision")

	drv := buildDriver()
	if err := drv.Preflight(ctx); err != nil {
		return err
	}
	rc, err := resolveMachine(cmd)
	if err != nil {
		return err
	}

	text, err := descriptor.Render(conf, rc, stages.Catalog())
	if err != nil {
		return err
	}

	runner := stages.NewRunner(drv)
	stageName, _ := cmd.Flags().GetString("stage")

	if flagDryRun {
		names := runner.Sequence()
		if stageName != "" {
			names = []string{stageName}
		}
		_, _ = drv.Provision(ctx, names...)
		return nil
	}

	if err := conf.EnsureDirs(); err != nil {
		return err
	}
	if _, err := descriptor.Sync(ctx, conf.DescriptorFile(), text); err != nil {
		return err
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

	switch {
	case stageName != "":
		res, err := runner.RunOne(ctx, stageName)
		if err != nil {
			return describeStageFailure(err)
		}
		logger.Infof(ctx, "stage %s ok", res.Name)
	case len(ran) == 0:
		// Machine already existed, so the orchestrator booted without
		// provisioning; run the full sequence now.
		if ran, err = runner.RunAll(ctx); err != nil {
			return describeStageFailure(err)
		}
		reportStages(cmd, ran)
	default:
		// Fresh creation already ran every stage.
		reportStages(cmd, ran)
	}
	return nil
}
