package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/KemoDesignz/dev-vm/config"
	"github.com/KemoDesignz/dev-vm/kubeconfig"
	"github.com/KemoDesignz/dev-vm/lifecycle"
	"github.com/KemoDesignz/dev-vm/tools"
	"github.com/KemoDesignz/dev-vm/types"
	"github.com/KemoDesignz/dev-vm/utils"
	"github.com/KemoDesignz/dev-vm/vagrant"
	"github.com/projecteru2/core/log"
)

var (
	// ErrNotProvisioned means the machine was never created; repair
	// cannot conjure a VM out of nothing and setup must run first.
	ErrNotProvisioned = errors.New("vm not provisioned, run setup first")

	// ErrPartialHealth means the repair pass finished but left at
	// least one condition unhealthy.
	ErrPartialHealth = errors.New("repair left unhealthy conditions")
)

// reclaimCommands is the single bounded reclamation pass run when root
// disk usage crosses the critical threshold. Volumes are never pruned.
var reclaimCommands = []string{
	"sudo docker system prune -af",
	"sudo k3s crictl rmi --prune",
	"sudo apt-get clean",
	"sudo journalctl --vacuum-size=100M",
}

// driver is the slice of the VM driver the engine needs.
type driver interface {
	Status(ctx context.Context) (types.VMState, error)
	GuestExec(ctx context.Context, command string) (*vagrant.Result, error)
}

// ensurer transitions the VM toward running.
type ensurer interface {
	EnsureRunning(ctx context.Context, state types.VMState) (types.VMState, []types.StageResult, error)
}

// PhaseResult records one phase of a repair pass: whether it ended
// healthy and which corrective actions were taken along the way.
type PhaseResult struct {
	Name    string
	Healthy bool
	Detail  string
	Actions []string
}

// Report is the outcome of a full repair pass.
type Report struct {
	Phases  []PhaseResult
	Healthy bool
}

func (r *Report) add(p PhaseResult) {
	r.Phases = append(r.Phases, p)
}

func (r *Report) settle() {
	r.Healthy = true
	for _, p := range r.Phases {
		r.Healthy = r.Healthy && p.Healthy
	}
}

// Reconciler inspects the provisioned environment and applies bounded
// corrective actions: resume or boot the VM, restart inactive services,
// re-extract a broken kubeconfig, reinstall missing binary tools, and
// reclaim disk space once when usage is critical.
type Reconciler struct {
	conf   *config.Config
	rc     *config.ResolvedConfig
	driver driver
	ensure ensurer

	kubeExists  func() bool
	probeKube   func() (string, error)
	extractKube func(ctx context.Context) (string, error)
	probeTool   func(ctx context.Context, tool tools.Tool) types.ToolStatus
	reinstall   func(ctx context.Context, tool tools.Tool) (string, error)
}

// New wires a Reconciler against the real driver, lifecycle
// orchestrator and kubeconfig store.
func New(conf *config.Config, rc *config.ResolvedConfig, drv *vagrant.Driver, orch *lifecycle.Orchestrator, store *kubeconfig.Store, hc *http.Client) *Reconciler {
	r := &Reconciler{
		conf:   conf,
		rc:     rc,
		driver: drv,
		ensure: orch,
	}
	r.kubeExists = func() bool { return store.Exists(rc.Name) }
	r.probeKube = func() (string, error) {
		info, err := kubeconfig.Probe(store.Path(rc.Name), time.Duration(conf.ConnectTimeoutSeconds)*time.Second)
		if err != nil {
			return "", err
		}
		return info.GitVersion, nil
	}
	r.extractKube = func(ctx context.Context) (string, error) {
		return store.Extract(ctx, drv, rc.Name, rc.PrivateIP,
			conf.KubeconfigWaitAttempts, time.Duration(conf.KubeconfigWaitIntervalSeconds)*time.Second)
	}
	r.probeTool = func(ctx context.Context, tool tools.Tool) types.ToolStatus {
		return tools.Probe(ctx, drv, tool)
	}
	r.reinstall = func(ctx context.Context, tool tools.Tool) (string, error) {
		return tools.Reinstall(ctx, drv, hc, tool, rc.Credentials.GithubToken)
	}
	return r
}

// Run executes the repair pass. Phases run in a fixed order with the
// VM-state phase first; later phases are best-effort and a failure in
// one does not stop the next. The returned report carries the outcome
// of every phase, and ErrPartialHealth flags a pass that could not
// restore full health. A machine that was never created is fatal.
func (r *Reconciler) Run(ctx context.Context) (*Report, error) {
	logger := log.WithFunc("reconcile.Run")
	report := &Report{}

	state, err := r.driver.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("query vm state: %w", err)
	}
	if state == types.StateNotCreated {
		return nil, ErrNotProvisioned
	}

	vmPhase := r.vmPhase(ctx, state)
	report.add(vmPhase)
	if !vmPhase.Healthy && r.conf.GateOnVMState {
		logger.Warnf(ctx, "vm is not running, skipping guest phases")
		report.settle()
		return report, ErrPartialHealth
	}

	report.add(r.servicePhase(ctx))
	report.add(r.kubeconfigPhase(ctx))
	report.add(r.toolPhase(ctx))
	report.add(r.diskPhase(ctx))

	report.settle()
	if !report.Healthy {
		return report, ErrPartialHealth
	}
	logger.Infof(ctx, "environment healthy")
	return report, nil
}

func (r *Reconciler) vmPhase(ctx context.Context, state types.VMState) PhaseResult {
	logger := log.WithFunc("reconcile.vmPhase")
	phase := PhaseResult{Name: "vm-state"}
	if state != types.StateRunning {
		phase.Actions = append(phase.Actions, fmt.Sprintf("transition from %s", state))
		logger.Infof(ctx, "vm is %s, bringing it up", state)
		newState, _, err := r.ensure.EnsureRunning(ctx, state)
		if err != nil {
			phase.Detail = err.Error()
		}
		state = newState
	}
	phase.Healthy = state == types.StateRunning
	if phase.Detail == "" {
		phase.Detail = string(state)
	}
	return phase
}

func (r *Reconciler) servicePhase(ctx context.Context) PhaseResult {
	logger := log.WithFunc("reconcile.servicePhase")
	phase := PhaseResult{Name: "services", Healthy: true}
	var details []string
	for _, svc := range MonitoredServices {
		active := ServiceActive(ctx, r.driver, svc)
		if !active {
			phase.Actions = append(phase.Actions, "restart "+svc)
			logger.Warnf(ctx, "service %s inactive, restarting", svc)
			_, _ = r.driver.GuestExec(ctx, "sudo systemctl restart "+svc)
			active = ServiceActive(ctx, r.driver, svc)
		}
		if !active {
			phase.Healthy = false
			details = append(details, svc+" inactive after restart")
			continue
		}
		if svc == "k3s" {
			if err := r.waitNodeReady(ctx); err != nil {
				phase.Healthy = false
				details = append(details, "k3s node not ready: "+err.Error())
			}
		}
	}
	phase.Detail = strings.Join(details, "; ")
	return phase
}

func (r *Reconciler) waitNodeReady(ctx context.Context) error {
	interval := time.Duration(r.conf.NodeReadyIntervalSeconds) * time.Second
	return utils.Poll(ctx, r.conf.NodeReadyAttempts, interval, func() (bool, error) {
		res, err := r.driver.GuestExec(ctx, "sudo k3s kubectl get nodes --no-headers")
		if err != nil || !res.OK() {
			return false, nil
		}
		return NodesReady(res.Stdout), nil
	})
}

func (r *Reconciler) kubeconfigPhase(ctx context.Context) PhaseResult {
	logger := log.WithFunc("reconcile.kubeconfigPhase")
	phase := PhaseResult{Name: "kubeconfig", Healthy: true}

	version := ""
	valid := false
	if r.kubeExists() {
		if v, err := r.probeKube(); err == nil {
			valid, version = true, v
		} else {
			logger.Warnf(ctx, "stored kubeconfig failed probe: %v", err)
		}
	}
	if !valid {
		phase.Actions = append(phase.Actions, "re-extract kubeconfig")
		if _, err := r.extractKube(ctx); err != nil {
			phase.Healthy = false
			phase.Detail = "extract failed: " + err.Error()
			return phase
		}
		v, err := r.probeKube()
		if err != nil {
			phase.Healthy = false
			phase.Detail = "probe failed after re-extract: " + err.Error()
			return phase
		}
		version = v
	}
	phase.Detail = "server " + version
	return phase
}

func (r *Reconciler) toolPhase(ctx context.Context) PhaseResult {
	logger := log.WithFunc("reconcile.toolPhase")
	phase := PhaseResult{Name: "tools", Healthy: true}
	var details []string
	for _, tool := range tools.Catalog() {
		st := r.probeTool(ctx, tool)
		if st.Present {
			continue
		}
		if tool.PackageManaged {
			phase.Healthy = false
			details = append(details, tool.Name+" missing, run a full provision to restore it")
			continue
		}
		phase.Actions = append(phase.Actions, "reinstall "+tool.Name)
		logger.Warnf(ctx, "tool %s missing, reinstalling", tool.Name)
		tag, err := r.reinstall(ctx, tool)
		if err != nil {
			phase.Healthy = false
			details = append(details, fmt.Sprintf("%s reinstall failed: %v", tool.Name, err))
			continue
		}
		details = append(details, fmt.Sprintf("%s reinstalled at %s", tool.Name, tag))
	}
	phase.Detail = strings.Join(details, "; ")
	return phase
}

func (r *Reconciler) diskPhase(ctx context.Context) PhaseResult {
	logger := log.WithFunc("reconcile.diskPhase")
	phase := PhaseResult{Name: "disk", Healthy: true}

	usage, err := DiskUsagePercent(ctx, r.driver)
	if err != nil {
		phase.Healthy = false
		phase.Detail = err.Error()
		return phase
	}
	if usage <= r.conf.DiskCriticalPercent {
		phase.Detail = fmt.Sprintf("%d%% used", usage)
		return phase
	}

	logger.Warnf(ctx, "disk usage %d%% exceeds %d%%, reclaiming", usage, r.conf.DiskCriticalPercent)
	for _, cmd := range reclaimCommands {
		phase.Actions = append(phase.Actions, cmd)
		if res, err := r.driver.GuestExec(ctx, cmd); err != nil || !res.OK() {
			logger.Warnf(ctx, "reclaim step %q failed", cmd)
		}
	}
	after, err := DiskUsagePercent(ctx, r.driver)
	if err != nil {
		phase.Healthy = false
		phase.Detail = err.Error()
		return phase
	}
	phase.Healthy = after <= r.conf.DiskCriticalPercent
	phase.Detail = fmt.Sprintf("%d%% used after reclaim, was %d%%", after, usage)
	return phase
}
