package cleanup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/KemoDesignz/dev-vm/config"
	"github.com/KemoDesignz/dev-vm/types"
	"github.com/KemoDesignz/dev-vm/vagrant"
	"github.com/projecteru2/core/log"
)

// Step names, also the accepted --skip values.
const (
	StepSnapshots  = "snapshots"
	StepDestroy    = "destroy"
	StepArtifacts  = "artifacts"
	StepOverride   = "override"
	StepWorkspace  = "workspace"
	StepKubeconfig = "kubeconfig"
	StepHostTools  = "host-tools"
)

// Steps lists every teardown step in execution order.
func Steps() []string {
	return []string{
		StepSnapshots, StepDestroy, StepArtifacts, StepOverride,
		StepWorkspace, StepKubeconfig, StepHostTools,
	}
}

// driver is the slice of the VM driver teardown needs.
type driver interface {
	Status(ctx context.Context) (types.VMState, error)
	SnapshotList(ctx context.Context) ([]string, error)
	SnapshotDelete(ctx context.Context, name string) (*vagrant.Result, error)
	Halt(ctx context.Context) (*vagrant.Result, error)
	Destroy(ctx context.Context) (*vagrant.Result, error)
}

// kubeStore is the slice of the kubeconfig store teardown needs.
type kubeStore interface {
	Path(vmName string) string
	Exists(vmName string) bool
	Remove(ctx context.Context, vmName string) error
}

// Options tune a teardown run.
type Options struct {
	// Skip names steps to pass over without prompting.
	Skip map[string]bool
	// Confirm is asked before each destructive step. Nil means yes to
	// everything.
	Confirm func(question string) (bool, error)
	// Out receives user-facing notes. Nil discards them.
	Out io.Writer
}

// Outcome accumulates what a teardown run actually did. Partial
// cleanup is an accepted result, so it distinguishes "something
// removed" from "nothing removed" rather than success from failure.
type Outcome struct {
	Removed []string
	Skipped []string
	errs    []error
}

// Anything reports whether the run removed at least one thing.
func (o *Outcome) Anything() bool {
	return len(o.Removed) > 0
}

// Summary is the one-line closing status.
func (o *Outcome) Summary() string {
	if !o.Anything() {
		return "nothing removed"
	}
	return "removed " + strings.Join(o.Removed, ", ")
}

// Controller walks the ordered teardown steps. Every step is
// independently confirmable and skippable, and a failed or declined
// step never blocks the ones after it.
type Controller struct {
	conf    *config.Config
	vmName  string
	driver  driver
	store   kubeStore
	skip    map[string]bool
	confirm func(question string) (bool, error)
	out     io.Writer
}

// New builds a Controller. drv and store accept the real vagrant
// driver and kubeconfig store.
func New(conf *config.Config, vmName string, drv driver, store kubeStore, opts Options) *Controller {
	c := &Controller{
		conf:    conf,
		vmName:  vmName,
		driver:  drv,
		store:   store,
		skip:    opts.Skip,
		confirm: opts.Confirm,
		out:     opts.Out,
	}
	if c.confirm == nil {
		c.confirm = func(string) (bool, error) { return true, nil }
	}
	if c.out == nil {
		c.out = io.Discard
	}
	return c
}

// Run executes every step in order and joins the non-fatal errors.
func (c *Controller) Run(ctx context.Context) (*Outcome, error) {
	logger := log.WithFunc("cleanup.Run")
	o := &Outcome{}

	state, err := c.driver.Status(ctx)
	switch {
	case err != nil:
		logger.Errorf(ctx, err, "query vm state, skipping vm steps")
		o.errs = append(o.errs, fmt.Errorf("query vm state: %w", err))
		o.Skipped = append(o.Skipped, StepSnapshots, StepDestroy)
	case state == types.StateNotCreated:
		o.Skipped = append(o.Skipped, StepSnapshots, StepDestroy)
	default:
		c.snapshotStep(ctx, o)
		c.destroyStep(ctx, o, state)
	}

	c.artifactStep(ctx, o)
	c.overrideStep(ctx, o)
	c.workspaceStep(ctx, o)
	c.kubeconfigStep(ctx, o)
	c.hostToolStep(o)

	fmt.Fprintln(c.out, o.Summary())
	return o, errors.Join(o.errs...)
}

// gate applies the skip list and the confirmation prompt. A prompt
// error counts as a decline.
func (c *Controller) gate(o *Outcome, step, question string) bool {
	if c.skip[step] {
		o.Skipped = append(o.Skipped, step)
		return false
	}
	ok, err := c.confirm(question)
	if err != nil || !ok {
		o.Skipped = append(o.Skipped, step)
		return false
	}
	return true
}

func (c *Controller) snapshotStep(ctx context.Context, o *Outcome) {
	logger := log.WithFunc("cleanup.snapshotStep")
	if c.skip[StepSnapshots] {
		o.Skipped = append(o.Skipped, StepSnapshots)
		return
	}
	names, err := c.driver.SnapshotList(ctx)
	if err != nil {
		o.errs = append(o.errs, fmt.Errorf("list snapshots: %w", err))
		return
	}
	if len(names) == 0 {
		return
	}
	question := fmt.Sprintf("delete %d snapshot(s): %s?", len(names), strings.Join(names, ", "))
	if ok, err := c.confirm(question); err != nil || !ok {
		o.Skipped = append(o.Skipped, StepSnapshots)
		return
	}
	deleted := 0
	for _, name := range names {
		if _, err := c.driver.SnapshotDelete(ctx, name); err != nil {
			logger.Errorf(ctx, err, "delete snapshot %s", name)
			o.errs = append(o.errs, fmt.Errorf("delete snapshot %s: %w", name, err))
			continue
		}
		deleted++
	}
	if deleted > 0 {
		o.Removed = append(o.Removed, fmt.Sprintf("%d snapshot(s)", deleted))
	}
}

func (c *Controller) destroyStep(ctx context.Context, o *Outcome, state types.VMState) {
	logger := log.WithFunc("cleanup.destroyStep")
	if !c.gate(o, StepDestroy, "destroy vm "+c.vmName+"?") {
		return
	}
	if state == types.StateRunning {
		// Halt first so the synced workspace is quiesced; destroy alone
		// force-powers the machine off.
		if _, err := c.driver.Halt(ctx); err != nil {
			logger.Warnf(ctx, "halt before destroy: %v", err)
		}
	}
	if _, err := c.driver.Destroy(ctx); err != nil {
		o.errs = append(o.errs, fmt.Errorf("destroy vm: %w", err))
		return
	}
	o.Removed = append(o.Removed, "vm "+c.vmName)
}

func (c *Controller) artifactStep(ctx context.Context, o *Outcome) {
	logger := log.WithFunc("cleanup.artifactStep")
	paths := []string{c.conf.DescriptorFile(), c.conf.MetadataDir(), c.conf.LogDir}
	if !anyExists(paths) {
		return
	}
	if !c.gate(o, StepArtifacts, "remove generated artifacts (descriptor, metadata, logs)?") {
		return
	}
	removed := false
	for _, path := range paths {
		if path == "" || !exists(path) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			o.errs = append(o.errs, fmt.Errorf("remove %s: %w", path, err))
			continue
		}
		logger.Debugf(ctx, "removed %s", path)
		removed = true
	}
	if removed {
		o.Removed = append(o.Removed, "generated artifacts")
	}
}

func (c *Controller) overrideStep(_ context.Context, o *Outcome) {
	path := c.conf.OverrideFile()
	if !exists(path) {
		return
	}
	if c.skip[StepOverride] {
		o.Skipped = append(o.Skipped, StepOverride)
		return
	}
	question := "remove local override file " + path + "?"
	if over, err := config.LoadOptional(path); err == nil && over != nil &&
		over.Credentials != nil && !over.Credentials.Empty() {
		question = "remove local override file " + path + " (contains credentials)?"
	}
	if ok, err := c.confirm(question); err != nil || !ok {
		o.Skipped = append(o.Skipped, StepOverride)
		return
	}
	if err := os.Remove(path); err != nil {
		o.errs = append(o.errs, fmt.Errorf("remove override file: %w", err))
		return
	}
	o.Removed = append(o.Removed, "override file")
}

func (c *Controller) workspaceStep(_ context.Context, o *Outcome) {
	path := c.conf.WorkspaceDir
	if path == "" || !exists(path) {
		return
	}
	question := fmt.Sprintf("remove workspace directory %s? projects inside will be deleted", path)
	if !c.gate(o, StepWorkspace, question) {
		return
	}
	if err := os.RemoveAll(path); err != nil {
		o.errs = append(o.errs, fmt.Errorf("remove workspace: %w", err))
		return
	}
	o.Removed = append(o.Removed, "workspace directory")
}

func (c *Controller) kubeconfigStep(ctx context.Context, o *Outcome) {
	if !c.store.Exists(c.vmName) {
		return
	}
	if !c.gate(o, StepKubeconfig, "remove host kubeconfig "+c.store.Path(c.vmName)+"?") {
		return
	}
	if err := c.store.Remove(ctx, c.vmName); err != nil {
		o.errs = append(o.errs, fmt.Errorf("remove kubeconfig: %w", err))
		return
	}
	o.Removed = append(o.Removed, "host kubeconfig")
}

// hostToolStep never uninstalls anything itself, it only prints how.
func (c *Controller) hostToolStep(o *Outcome) {
	if c.skip[StepHostTools] {
		o.Skipped = append(o.Skipped, StepHostTools)
		return
	}
	fmt.Fprintln(c.out, "host tools were left installed; to remove them:")
	fmt.Fprintln(c.out, "  sudo apt-get remove vagrant virtualbox  # Debian/Ubuntu")
	fmt.Fprintln(c.out, "  brew uninstall vagrant virtualbox       # macOS")
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func anyExists(paths []string) bool {
	for _, p := range paths {
		if p != "" && exists(p) {
			return true
		}
	}
	return false
}
