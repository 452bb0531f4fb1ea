// Package lifecycle drives the VM through state transitions, always
// choosing the cheapest path to running.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/KemoDesignz/dev-vm/types"
	"github.com/KemoDesignz/dev-vm/vagrant"
	"github.com/projecteru2/core/log"
)

// ErrBootTimeout is returned when a transition finishes without the
// machine reaching the running state. Not retried automatically beyond
// the single provisioning re-run below.
var ErrBootTimeout = errors.New("vm did not reach running state")

// driver is the slice of the VM driver the orchestrator needs.
type driver interface {
	Status(ctx context.Context) (types.VMState, error)
	Up(ctx context.Context, provision bool) (*vagrant.Result, error)
	Resume(ctx context.Context) (*vagrant.Result, error)
}

// stageRunner runs the full provisioning sequence.
type stageRunner interface {
	RunAll(ctx context.Context) ([]types.StageResult, error)
}

// Orchestrator maps an observed state to the minimal transition:
// resume beats boot, boot beats boot-plus-provision. Provisioning runs
// only on first creation; existing machines keep their installed state.
type Orchestrator struct {
	driver driver
	runner stageRunner
}

// New builds an orchestrator over the given driver and stage runner.
func New(d driver, r stageRunner) *Orchestrator {
	return &Orchestrator{driver: d, runner: r}
}

// EnsureRunning transitions the machine from state to running and
// reports the verified final state. Stage results are non-nil only when
// the machine was created fresh and the full stage sequence ran.
//
// A failed boot gets exactly one recovery attempt: if the machine is in
// fact running afterwards, provisioning alone is re-tried; a machine
// that never came up is a hard ErrBootTimeout.
func (o *Orchestrator) EnsureRunning(ctx context.Context, state types.VMState) (types.VMState, []types.StageResult, error) {
	logger := log.WithFunc("lifecycle.EnsureRunning")

	switch {
	case state == types.StateRunning:
		logger.Debugf(ctx, "already running")
		return state, nil, nil

	case state.Paused():
		logger.Infof(ctx, "resuming from %s", state)
		if _, err := o.driver.Resume(ctx); err != nil {
			return o.verify(ctx, err)
		}
		final, err := o.confirmRunning(ctx)
		return final, nil, err

	case state.Stopped():
		logger.Infof(ctx, "booting from %s without provisioning", state)
		if _, err := o.driver.Up(ctx, false); err != nil {
			return o.verify(ctx, err)
		}
		final, err := o.confirmRunning(ctx)
		return final, nil, err

	case state == types.StateNotCreated:
		logger.Infof(ctx, "creating machine, full boot")
		if _, err := o.driver.Up(ctx, false); err != nil {
			// The box may be up with only late boot steps failed; in
			// that case provisioning below is the recovery run.
			current, serr := o.driver.Status(ctx)
			if serr != nil || current != types.StateRunning {
				return current, nil, fmt.Errorf("%w: %v", ErrBootTimeout, err)
			}
			logger.Warnf(ctx, "boot reported failure but machine is running, continuing: %v", err)
		}
		results, err := o.runner.RunAll(ctx)
		if err != nil {
			return types.StateRunning, results, err
		}
		final, err := o.confirmRunning(ctx)
		return final, results, err

	default:
		// Unknown observed state: one plain boot attempt is harmless,
		// the driver no-ops when already up.
		logger.Warnf(ctx, "state %s unrecognized, attempting boot", state)
		if _, err := o.driver.Up(ctx, false); err != nil {
			return o.verify(ctx, err)
		}
		final, err := o.confirmRunning(ctx)
		return final, nil, err
	}
}

// verify re-queries state after a failed transition; reaching running
// anyway downgrades the failure to a log line.
func (o *Orchestrator) verify(ctx context.Context, cause error) (types.VMState, []types.StageResult, error) {
	state, err := o.driver.Status(ctx)
	if err == nil && state == types.StateRunning {
		log.WithFunc("lifecycle.verify").Warnf(ctx, "transition reported failure but machine is running: %v", cause)
		return state, nil, nil
	}
	return state, nil, fmt.Errorf("%w: %v", ErrBootTimeout, cause)
}

func (o *Orchestrator) confirmRunning(ctx context.Context) (types.VMState, error) {
	state, err := o.driver.Status(ctx)
	if err != nil {
		return state, fmt.Errorf("confirm running: %w", err)
	}
	if state != types.StateRunning {
		return state, fmt.Errorf("%w: state %s after transition", ErrBootTimeout, state)
	}
	return state, nil
}
