package cleanup

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/KemoDesignz/dev-vm/config"
	"github.com/KemoDesignz/dev-vm/types"
	"github.com/KemoDesignz/dev-vm/vagrant"
	"github.com/projecteru2/core/log"
	coretypes "github.com/projecteru2/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	_ = log.SetupLog(context.TODO(), &coretypes.ServerLogConfig{Level: "error"}, "")
	os.Exit(m.Run())
}

type fakeDriver struct {
	state         types.VMState
	statusErr     error
	snaps         []string
	snapDeleteErr error
	deleted       []string
	halted        bool
	destroyed     bool
}

func (f *fakeDriver) Status(context.Context) (types.VMState, error) {
	return f.state, f.statusErr
}

func (f *fakeDriver) SnapshotList(context.Context) ([]string, error) {
	return f.snaps, nil
}

func (f *fakeDriver) SnapshotDelete(_ context.Context, name string) (*vagrant.Result, error) {
	if f.snapDeleteErr != nil {
		return &vagrant.Result{ExitCode: 1}, f.snapDeleteErr
	}
	f.deleted = append(f.deleted, name)
	return &vagrant.Result{}, nil
}

func (f *fakeDriver) Halt(context.Context) (*vagrant.Result, error) {
	f.halted = true
	return &vagrant.Result{}, nil
}

func (f *fakeDriver) Destroy(context.Context) (*vagrant.Result, error) {
	f.destroyed = true
	return &vagrant.Result{}, nil
}

type fakeStore struct {
	present bool
	removed bool
}

func (f *fakeStore) Exists(string) bool { return f.present }

func (f *fakeStore) Path(vmName string) string { return "/tmp/kube/" + vmName + ".yaml" }

func (f *fakeStore) Remove(context.Context, string) error {
	f.removed = true
	f.present = false
	return nil
}

// answers records questions and answers them through fn.
type answers struct {
	asked []string
	fn    func(q string) bool
}

func (a *answers) confirm(q string) (bool, error) {
	a.asked = append(a.asked, q)
	if a.fn == nil {
		return true, nil
	}
	return a.fn(q), nil
}

// populatedConf lays out a workspace with descriptor, metadata, logs
// and an override file carrying credentials.
func populatedConf(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	conf := &config.Config{
		WorkspaceDir: filepath.Join(root, "ws"),
		ConfigDir:    filepath.Join(root, "cfg"),
		LogDir:       filepath.Join(root, "ws", "logs"),
	}
	require.NoError(t, os.MkdirAll(conf.MetadataDir(), 0o755))
	require.NoError(t, os.MkdirAll(conf.LogDir, 0o755))
	require.NoError(t, os.MkdirAll(conf.ConfigDir, 0o755))
	require.NoError(t, os.WriteFile(conf.DescriptorFile(), []byte("Vagrant.configure"), 0o600))
	override := "credentials:\n  github_token: ghp_secret\n"
	require.NoError(t, os.WriteFile(conf.OverrideFile(), []byte(override), 0o600))
	return conf
}

func TestRunRemovesEverything(t *testing.T) {
	conf := populatedConf(t)
	drv := &fakeDriver{state: types.StateRunning, snaps: []string{"baseline"}}
	store := &fakeStore{present: true}
	var out bytes.Buffer

	c := New(conf, "dev-vm", drv, store, Options{Out: &out})
	outcome, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, drv.halted, "running machine halts before destroy")
	assert.True(t, drv.destroyed)
	assert.Equal(t, []string{"baseline"}, drv.deleted)
	assert.True(t, store.removed)
	assert.NoFileExists(t, conf.DescriptorFile())
	assert.NoFileExists(t, conf.OverrideFile())
	assert.NoDirExists(t, conf.WorkspaceDir)

	assert.True(t, outcome.Anything())
	assert.Contains(t, outcome.Summary(), "1 snapshot(s)")
	assert.Contains(t, outcome.Summary(), "vm dev-vm")
	assert.Contains(t, outcome.Summary(), "workspace directory")
	assert.Contains(t, out.String(), "removed")
	assert.Contains(t, out.String(), "host tools were left installed")
}

func TestRunNothingToRemove(t *testing.T) {
	root := t.TempDir()
	conf := &config.Config{
		WorkspaceDir: filepath.Join(root, "ws"),
		ConfigDir:    filepath.Join(root, "cfg"),
		LogDir:       filepath.Join(root, "logs"),
	}
	drv := &fakeDriver{state: types.StateNotCreated}
	store := &fakeStore{}
	asked := &answers{}

	c := New(conf, "dev-vm", drv, store, Options{Confirm: asked.confirm})
	outcome, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, outcome.Anything())
	assert.Equal(t, "nothing removed", outcome.Summary())
	assert.Empty(t, asked.asked, "no prompts when there is nothing to remove")
	assert.Contains(t, outcome.Skipped, StepSnapshots)
	assert.Contains(t, outcome.Skipped, StepDestroy)
}

func TestSkipFlagsBlockSteps(t *testing.T) {
	conf := populatedConf(t)
	drv := &fakeDriver{state: types.StateRunning}
	store := &fakeStore{present: true}

	skip := map[string]bool{StepDestroy: true, StepWorkspace: true}
	c := New(conf, "dev-vm", drv, store, Options{Skip: skip})
	outcome, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, drv.destroyed)
	assert.DirExists(t, conf.WorkspaceDir)
	assert.True(t, store.removed, "later steps still run")
	assert.Contains(t, outcome.Skipped, StepDestroy)
	assert.Contains(t, outcome.Skipped, StepWorkspace)
}

func TestDeclinedStepDoesNotBlockLaterOnes(t *testing.T) {
	conf := populatedConf(t)
	drv := &fakeDriver{state: types.StateRunning}
	store := &fakeStore{present: true}
	asked := &answers{fn: func(q string) bool {
		return !strings.Contains(q, "destroy")
	}}

	c := New(conf, "dev-vm", drv, store, Options{Confirm: asked.confirm})
	outcome, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, drv.destroyed)
	assert.True(t, store.removed)
	assert.Contains(t, outcome.Skipped, StepDestroy)
	assert.True(t, outcome.Anything())
}

func TestOverrideWithCredentialsFlagged(t *testing.T) {
	conf := populatedConf(t)
	drv := &fakeDriver{state: types.StateNotCreated}
	asked := &answers{}

	c := New(conf, "dev-vm", drv, &fakeStore{}, Options{Confirm: asked.confirm})
	_, err := c.Run(context.Background())
	require.NoError(t, err)

	var overrideQ string
	for _, q := range asked.asked {
		if strings.Contains(q, "override") {
			overrideQ = q
		}
	}
	require.NotEmpty(t, overrideQ)
	assert.Contains(t, overrideQ, "contains credentials")
}

func TestSnapshotDeleteErrorIsBestEffort(t *testing.T) {
	conf := populatedConf(t)
	drv := &fakeDriver{
		state:         types.StateRunning,
		snaps:         []string{"baseline"},
		snapDeleteErr: errors.New("snapshot busy"),
	}
	store := &fakeStore{present: true}

	c := New(conf, "dev-vm", drv, store, Options{})
	outcome, err := c.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "snapshot busy")
	assert.True(t, drv.destroyed, "destroy still attempted")
	assert.True(t, store.removed)
	assert.True(t, outcome.Anything())
	assert.NotContains(t, outcome.Removed, "1 snapshot(s)")
}

func TestStatusErrorSkipsVMStepsOnly(t *testing.T) {
	conf := populatedConf(t)
	drv := &fakeDriver{statusErr: errors.New("vagrant exploded")}
	store := &fakeStore{present: true}

	c := New(conf, "dev-vm", drv, store, Options{})
	outcome, err := c.Run(context.Background())

	require.Error(t, err)
	assert.False(t, drv.destroyed)
	assert.True(t, store.removed)
	assert.Contains(t, outcome.Skipped, StepDestroy)
	assert.NoFileExists(t, conf.DescriptorFile())
}
