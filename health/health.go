package health

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/KemoDesignz/dev-vm/config"
	"github.com/KemoDesignz/dev-vm/kubeconfig"
	"github.com/KemoDesignz/dev-vm/reconcile"
	"github.com/KemoDesignz/dev-vm/tools"
	"github.com/KemoDesignz/dev-vm/types"
	"github.com/KemoDesignz/dev-vm/vagrant"
	units "github.com/docker/go-units"
)

// driver is the slice of the VM driver the collector needs.
type driver interface {
	Status(ctx context.Context) (types.VMState, error)
	GuestExec(ctx context.Context, command string) (*vagrant.Result, error)
}

// Collector gathers a read-only health snapshot. It runs the same
// probes as the repair engine but never takes corrective action.
type Collector struct {
	conf   *config.Config
	driver driver

	kubeExists func() bool
	probeKube  func() (string, error)
	probeTool  func(ctx context.Context, tool tools.Tool) types.ToolStatus
}

// NewCollector wires a Collector against the real driver and
// kubeconfig store.
func NewCollector(conf *config.Config, rc *config.ResolvedConfig, drv *vagrant.Driver, store *kubeconfig.Store) *Collector {
	c := &Collector{conf: conf, driver: drv}
	c.kubeExists = func() bool { return store.Exists(rc.Name) }
	c.probeKube = func() (string, error) {
		info, err := kubeconfig.Probe(store.Path(rc.Name), time.Duration(conf.ConnectTimeoutSeconds)*time.Second)
		if err != nil {
			return "", err
		}
		return info.GitVersion, nil
	}
	c.probeTool = func(ctx context.Context, tool tools.Tool) types.ToolStatus {
		return tools.Probe(ctx, drv, tool)
	}
	return c
}

// Collect builds the snapshot. When the VM is not running only the VM
// state is filled in, since guest probes cannot run.
func (c *Collector) Collect(ctx context.Context) (*types.HealthSnapshot, error) {
	state, err := c.driver.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("query vm state: %w", err)
	}
	snap := &types.HealthSnapshot{VMState: state}
	if state != types.StateRunning {
		return snap, nil
	}

	for _, svc := range reconcile.MonitoredServices {
		snap.Services = append(snap.Services, types.ServiceStatus{
			Name:   svc,
			Active: reconcile.ServiceActive(ctx, c.driver, svc),
		})
	}
	for _, tool := range tools.Catalog() {
		snap.Tools = append(snap.Tools, c.probeTool(ctx, tool))
	}
	if usage, err := reconcile.DiskUsagePercent(ctx, c.driver); err == nil {
		snap.DiskUsedPercent = usage
	}
	if c.kubeExists() {
		if version, err := c.probeKube(); err == nil {
			snap.KubeconfigValid = true
			snap.ServerVersion = version
		}
	}
	return snap, nil
}

// DiskCritical reports whether the snapshot's disk usage crosses the
// configured threshold.
func (c *Collector) DiskCritical(snap *types.HealthSnapshot) bool {
	return snap.DiskUsedPercent > c.conf.DiskCriticalPercent
}

// Render writes the snapshot as an aligned human-readable table.
func Render(w io.Writer, rc *config.ResolvedConfig, snap *types.HealthSnapshot, criticalPercent int) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)

	memory := units.BytesSize(float64(rc.MemoryMB) * units.MiB)
	fmt.Fprintf(tw, "machine\t%s\t%d cpu, %s memory, %d GB disk\n", rc.Name, rc.CPUs, memory, rc.DiskGB)
	fmt.Fprintf(tw, "state\t%s\t%s\n", snap.VMState, mark(snap.VMState == types.StateRunning))
	if snap.VMState != types.StateRunning {
		fmt.Fprintf(tw, "\t\trun setup or repair to bring the machine up\n")
		return tw.Flush()
	}

	for _, svc := range snap.Services {
		fmt.Fprintf(tw, "service %s\t%s\t%s\n", svc.Name, activity(svc.Active), mark(svc.Active))
	}
	for _, tool := range snap.Tools {
		version := tool.Version
		if !tool.Present {
			version = "missing"
		}
		fmt.Fprintf(tw, "tool %s\t%s\t%s\n", tool.Name, version, mark(tool.Present))
	}

	diskNote := fmt.Sprintf("%d%% used", snap.DiskUsedPercent)
	diskOK := snap.DiskUsedPercent <= criticalPercent
	if !diskOK {
		diskNote += fmt.Sprintf(", above %d%% threshold", criticalPercent)
	}
	fmt.Fprintf(tw, "disk\t%s\t%s\n", diskNote, mark(diskOK))

	kubeNote := "unreachable"
	if snap.KubeconfigValid {
		kubeNote = "server " + snap.ServerVersion
	}
	fmt.Fprintf(tw, "kubeconfig\t%s\t%s\n", kubeNote, mark(snap.KubeconfigValid))

	return tw.Flush()
}

func mark(ok bool) string {
	if ok {
		return "ok"
	}
	return "FAIL"
}

func activity(active bool) string {
	if active {
		return "active"
	}
	return "inactive"
}
