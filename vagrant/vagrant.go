// Package vagrant drives the external VM lifecycle tool. Every
// operation is one synchronous CLI invocation against the workspace
// directory; the tool's own state file serializes concurrent access,
// so no locking happens here.
package vagrant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/KemoDesignz/dev-vm/config"
	"github.com/KemoDesignz/dev-vm/utils"
	"github.com/projecteru2/core/log"
)

// tailLines bounds the per-call output capture; full output still
// streams to the user for long operations.
const tailLines = 40

// ErrExternalToolMissing is returned by Preflight when the lifecycle
// driver or the hypervisor CLI cannot be found on PATH.
var ErrExternalToolMissing = errors.New("required external tool missing")

// Driver wraps the vagrant CLI. All commands run with Dir as working
// directory so the tool finds the generated descriptor; Env entries are
// appended to the inherited environment rather than mutating it.
type Driver struct {
	Bin         string
	VBoxBin     string
	Dir         string
	Env         []string
	DryRun      bool
	AutoInstall bool
}

// New builds a driver from the host config.
func New(conf *config.Config) *Driver {
	return &Driver{
		Bin:         conf.VagrantBinary,
		VBoxBin:     conf.VBoxManageBinary,
		Dir:         conf.WorkspaceDir,
		AutoInstall: conf.AutoInstallHostTools,
	}
}

// Result captures one finished invocation: the exit code and the last
// lines of each output stream. ExitCode is -1 when the process could
// not be spawned at all.
type Result struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// OK reports a zero exit.
func (r *Result) OK() bool { return r.ExitCode == 0 }

// run executes one vagrant command. When stream is set the output is
// mirrored to the user's terminal while the tail is captured; quiet
// queries capture only. A non-zero exit returns both the populated
// Result and an error so callers can propagate the code.
func (d *Driver) run(ctx context.Context, stream bool, args ...string) (*Result, error) {
	logger := log.WithFunc("vagrant.run")
	display := d.Bin + " " + strings.Join(args, " ")
	if d.DryRun {
		logger.Infof(ctx, "dry run: %s", display)
		return &Result{}, nil
	}

	cmd := exec.CommandContext(ctx, d.Bin, args...) //nolint:gosec
	cmd.Dir = d.Dir
	cmd.Env = append(os.Environ(), d.Env...)

	outTail := utils.NewLineTail(tailLines)
	errTail := utils.NewLineTail(tailLines)
	if stream {
		cmd.Stdout = io.MultiWriter(os.Stdout, outTail)
		cmd.Stderr = io.MultiWriter(os.Stderr, errTail)
	} else {
		cmd.Stdout = outTail
		cmd.Stderr = errTail
	}

	logger.Debugf(ctx, "exec: %s", display)
	err := cmd.Run()
	res := &Result{Stdout: outTail.String(), Stderr: errTail.String()}
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		res.ExitCode = -1
		return res, fmt.Errorf("%s: %w", display, ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, fmt.Errorf("%s: exit %d", display, res.ExitCode)
	}
	res.ExitCode = -1
	return res, fmt.Errorf("%s: %w", display, err)
}

// Preflight verifies the lifecycle driver and the hypervisor CLI are
// reachable. With AutoInstall set it makes one best-effort package
// manager attempt per missing tool before giving up.
func (d *Driver) Preflight(ctx context.Context) error {
	var missing []string
	for _, bin := range []string{d.Bin, d.VBoxBin} {
		if _, err := exec.LookPath(bin); err == nil {
			continue
		}
		if d.AutoInstall {
			d.hostInstall(ctx, bin)
			if _, err := exec.LookPath(bin); err == nil {
				continue
			}
		}
		missing = append(missing, bin)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s (install Vagrant and VirtualBox, then rerun)",
			ErrExternalToolMissing, strings.Join(missing, ", "))
	}
	return nil
}

// hostInstall tries exactly one available package manager for the
// missing tool. Failure only logs; Preflight re-probes afterwards.
func (d *Driver) hostInstall(ctx context.Context, bin string) {
	logger := log.WithFunc("vagrant.hostInstall")
	pkg := filepath.Base(bin)
	if pkg == "VBoxManage" {
		pkg = "virtualbox"
	}
	managers := []struct {
		bin  string
		args []string
	}{
		{"apt-get", []string{"install", "-y", pkg}},
		{"dnf", []string{"install", "-y", pkg}},
		{"brew", []string{"install", pkg}},
		{"choco", []string{"install", "-y", pkg}},
	}
	for _, m := range managers {
		if _, err := exec.LookPath(m.bin); err != nil {
			continue
		}
		logger.Infof(ctx, "attempting %s install of %s", m.bin, pkg)
		cmd := exec.CommandContext(ctx, m.bin, m.args...) //nolint:gosec
		cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
		if err := cmd.Run(); err != nil {
			logger.Warnf(ctx, "%s install %s failed: %v", m.bin, pkg, err)
		}
		return
	}
	logger.Warnf(ctx, "no supported package manager found to install %s", pkg)
}
