package stages

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/KemoDesignz/dev-vm/descriptor"
	"github.com/KemoDesignz/dev-vm/types"
	"github.com/KemoDesignz/dev-vm/vagrant"
	"github.com/projecteru2/core/log"
)

// provisioner is the slice of the VM driver the runner needs. Provision
// returns a non-nil Result even when the invocation fails.
type provisioner interface {
	Provision(ctx context.Context, stages ...string) (*vagrant.Result, error)
}

// StageError reports which stage failed and what it printed. The
// remaining stages of that invocation were not run.
type StageError struct {
	Stage  string
	Result types.StageResult
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed with exit %d", e.Stage, e.Result.ExitCode)
}

// Runner drives provision blocks by name, strictly in declared order.
type Runner struct {
	driver provisioner
	names  []string
}

// NewRunner builds a runner over the full sequence: the descriptor's
// env block first, then the catalog stages.
func NewRunner(driver provisioner) *Runner {
	return &Runner{
		driver: driver,
		names:  append([]string{descriptor.EnvStage}, Names()...),
	}
}

// Sequence returns the stage names the runner will execute, in order.
func (r *Runner) Sequence() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// RunAll executes every stage in order. The first failure aborts the
// rest of the invocation; the returned results include the failed stage
// so callers can show what happened. Re-running the full set is always
// safe since each script is install-if-absent.
func (r *Runner) RunAll(ctx context.Context) ([]types.StageResult, error) {
	results := make([]types.StageResult, 0, len(r.names))
	for _, name := range r.names {
		res, err := r.runStage(ctx, name)
		results = append(results, res)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// RunOne re-runs a single named stage without touching the others.
func (r *Runner) RunOne(ctx context.Context, name string) (types.StageResult, error) {
	if !slices.Contains(r.names, name) {
		return types.StageResult{Name: name, ExitCode: -1},
			fmt.Errorf("unknown stage %q (known: %s)", name, strings.Join(r.names, ", "))
	}
	return r.runStage(ctx, name)
}

func (r *Runner) runStage(ctx context.Context, name string) (types.StageResult, error) {
	logger := log.WithFunc("stages.runStage")
	logger.Infof(ctx, "running stage %s", name)
	res, err := r.driver.Provision(ctx, name)
	sr := types.StageResult{Name: name, ExitCode: res.ExitCode, Output: combineOutput(res)}
	if err != nil {
		logger.Errorf(ctx, err, "stage %s failed", name)
		return sr, &StageError{Stage: name, Result: sr}
	}
	logger.Infof(ctx, "stage %s ok", name)
	return sr, nil
}

func combineOutput(res *vagrant.Result) string {
	out := strings.TrimSpace(res.Stdout)
	errOut := strings.TrimSpace(res.Stderr)
	switch {
	case out == "":
		return errOut
	case errOut == "":
		return out
	default:
		return out + "\n" + errOut
	}
}
