package reconcile

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/KemoDesignz/dev-vm/vagrant"
)

// MonitoredServices are the guest services whose health the engine
// watches: the container engine and the Kubernetes distribution.
var MonitoredServices = []string{"docker", "k3s"}

// guestRunner is the slice of the VM driver the probes need.
type guestRunner interface {
	GuestExec(ctx context.Context, command string) (*vagrant.Result, error)
}

// ServiceActive reports whether the named systemd unit is active.
func ServiceActive(ctx context.Context, guest guestRunner, name string) bool {
	res, err := guest.GuestExec(ctx, "systemctl is-active --quiet "+name)
	return err == nil && res.OK()
}

// DiskUsagePercent queries root filesystem usage inside the guest.
func DiskUsagePercent(ctx context.Context, guest guestRunner) (int, error) {
	res, err := guest.GuestExec(ctx, "df --output=pcent /")
	if err != nil {
		return 0, fmt.Errorf("query disk usage: %w", err)
	}
	return ParsePercent(res.Stdout)
}

// ParsePercent extracts the percentage from df's pcent output, e.g.
// "Use%\n 42%".
func ParsePercent(out string) (int, error) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	last = strings.TrimSuffix(last, "%")
	v, err := strconv.Atoi(strings.TrimSpace(last))
	if err != nil {
		return 0, fmt.Errorf("parse disk usage %q: %w", out, err)
	}
	return v, nil
}

// NodesReady reports whether every node in `kubectl get nodes
// --no-headers` output is Ready. Empty output means not ready.
func NodesReady(out string) bool {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	seen := false
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		seen = true
		if fields[1] != "Ready" {
			return false
		}
	}
	return seen
}
