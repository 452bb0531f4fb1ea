package vagrant

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/KemoDesignz/dev-vm/types"
	"github.com/google/uuid"
)

// Status queries the current machine state. The state is derived fresh
// on every call and never cached; the external tool is the single
// source of truth.
func (d *Driver) Status(ctx context.Context) (types.VMState, error) {
	res, err := d.run(ctx, false, "status", "--machine-readable")
	if err != nil {
		return types.StateUnknown, fmt.Errorf("query vm state: %w", err)
	}
	return parseMachineState(res.Stdout), nil
}

// parseMachineState extracts the state from machine-readable output:
// comma-separated rows of timestamp,target,type,data. The last state
// row wins; anything unrecognized maps to unknown.
func parseMachineState(out string) types.VMState {
	state := types.StateUnknown
	for _, line := range strings.Split(out, "\n") {
		fields := strings.SplitN(strings.TrimSpace(line), ",", 4)
		if len(fields) < 4 || fields[2] != "state" {
			continue
		}
		state = types.ParseVMState(fields[3])
	}
	return state
}

// Up boots the machine, creating it first if needed. With provision
// false the descriptor's provision blocks are skipped; stages are
// driven explicitly afterwards.
func (d *Driver) Up(ctx context.Context, provision bool) (*Result, error) {
	args := []string{"up"}
	if !provision {
		args = append(args, "--no-provision")
	}
	return d.run(ctx, true, args...)
}

// Resume wakes a saved or suspended machine.
func (d *Driver) Resume(ctx context.Context) (*Result, error) {
	return d.run(ctx, true, "resume")
}

// Halt performs a graceful guest shutdown.
func (d *Driver) Halt(ctx context.Context) (*Result, error) {
	return d.run(ctx, true, "halt")
}

// Destroy removes the machine without confirmation; confirmation is the
// caller's concern.
func (d *Driver) Destroy(ctx context.Context) (*Result, error) {
	return d.run(ctx, true, "destroy", "-f")
}

// Provision runs the named provision blocks in the given order, or all
// of them when none are named.
func (d *Driver) Provision(ctx context.Context, stages ...string) (*Result, error) {
	if len(stages) == 0 {
		return d.run(ctx, true, "provision")
	}
	return d.run(ctx, true, "provision", "--provision-with", strings.Join(stages, ","))
}

// GuestExec runs one shell command inside the guest over ssh, capturing
// output instead of streaming. The guest command's exit code comes back
// in the Result.
func (d *Driver) GuestExec(ctx context.Context, command string) (*Result, error) {
	return d.run(ctx, false, "ssh", "-c", command)
}

// SSH hands the terminal over to an interactive guest shell.
func (d *Driver) SSH(ctx context.Context) error {
	if d.DryRun {
		return nil
	}
	cmd := exec.CommandContext(ctx, d.Bin, "ssh") //nolint:gosec
	cmd.Dir = d.Dir
	cmd.Env = append(os.Environ(), d.Env...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// SnapshotSave takes a named snapshot of the current machine state.
func (d *Driver) SnapshotSave(ctx context.Context, name string) (*Result, error) {
	return d.run(ctx, true, "snapshot", "save", name)
}

// SnapshotDelete removes a named snapshot.
func (d *Driver) SnapshotDelete(ctx context.Context, name string) (*Result, error) {
	return d.run(ctx, true, "snapshot", "delete", name)
}

// SnapshotList returns the names of existing snapshots, empty when none
// have been taken.
func (d *Driver) SnapshotList(ctx context.Context) ([]string, error) {
	res, err := d.run(ctx, false, "snapshot", "list")
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return parseSnapshotList(res.Stdout), nil
}

func parseSnapshotList(out string) []string {
	var names []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "==>") || strings.Contains(line, "No snapshots") {
			continue
		}
		names = append(names, line)
	}
	return names
}

// MachineID reads the hypervisor UUID the driver recorded for the named
// machine. Only valid after the machine has been created.
func (d *Driver) MachineID(name string) (string, error) {
	path := filepath.Join(d.Dir, ".vagrant", "machines", name, "virtualbox", "id")
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return "", fmt.Errorf("read machine id: %w", err)
	}
	id, err := uuid.Parse(strings.TrimSpace(string(data)))
	if err != nil {
		return "", fmt.Errorf("parse machine id from %s: %w", path, err)
	}
	return id.String(), nil
}
