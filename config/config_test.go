package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/projecteru2/core/log"
	coretypes "github.com/projecteru2/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	_ = log.SetupLog(context.TODO(), &coretypes.ServerLogConfig{Level: "error"}, "")
	os.Exit(m.Run())
}

type scriptedPrompter struct {
	t        *testing.T
	answers  []string
	confirms []bool
	asked    []string
}

func (p *scriptedPrompter) Prompt(label, def string) (string, error) {
	p.asked = append(p.asked, label)
	if len(p.answers) == 0 {
		p.t.Fatalf("unexpected prompt for %q (default %q)", label, def)
	}
	a := p.answers[0]
	p.answers = p.answers[1:]
	return a, nil
}

func (p *scriptedPrompter) Confirm(string) (bool, error) {
	if len(p.confirms) == 0 {
		p.t.Fatal("unexpected confirm")
	}
	c := p.confirms[0]
	p.confirms = p.confirms[1:]
	return c, nil
}

// forbidPrompter fails the test on any interaction.
type forbidPrompter struct{ t *testing.T }

func (p *forbidPrompter) Prompt(label, _ string) (string, error) {
	p.t.Fatalf("prompt invoked for %q", label)
	return "", nil
}

func (p *forbidPrompter) Confirm(q string) (bool, error) {
	p.t.Fatalf("confirm invoked for %q", q)
	return false, nil
}

func writeYAML(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMissingDefaults(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "defaults.yaml"))
	require.ErrorIs(t, err, ErrConfigMissing)
}

func TestLoadOptionalMissing(t *testing.T) {
	fc, err := LoadOptional(filepath.Join(t.TempDir(), "override.yaml"))
	require.NoError(t, err)
	require.Nil(t, fc)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeYAML(t, t.TempDir(), "defaults.yaml", "vm:\n  name: dev\n  cpuz: 4\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cpuz")
}

func TestLoadFullSchema(t *testing.T) {
	path := writeYAML(t, t.TempDir(), "defaults.yaml", `vm:
  name: dev-vm
  cpus: 4
  memory: 8192
  disk_gb: 80
  private_ip: 192.168.56.10
ports:
  - guest: 6443
    host: 6443
    description: k3s API
  - guest: 80
    host: 8080
    auto_correct: true
credentials:
  github_token: ghp_abc
versions:
  k3s: v1.30.2+k3s1
  node: "20"
`)
	fc, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, fc.VM)
	assert.Equal(t, "dev-vm", *fc.VM.Name)
	assert.Equal(t, 4, *fc.VM.CPUs)
	assert.Equal(t, 8192, *fc.VM.MemoryMB)
	assert.Equal(t, 80, *fc.VM.DiskGB)
	assert.Equal(t, "192.168.56.10", *fc.VM.PrivateIP)
	require.Len(t, fc.Ports, 2)
	assert.True(t, fc.Ports[1].AutoCorrect)
	assert.Equal(t, "ghp_abc", fc.Credentials.GithubToken)
	assert.Equal(t, "v1.30.2+k3s1", fc.Versions.K3s)
}

func TestMergeOverrideScalarWins(t *testing.T) {
	base := &FileConfig{VM: &VMSection{CPUs: ptr(4), MemoryMB: ptr(8192), DiskGB: ptr(80)}}
	override := &FileConfig{VM: &VMSection{MemoryMB: ptr(16384)}}

	merged := Merge(base, override)
	assert.Equal(t, 4, *merged.VM.CPUs)
	assert.Equal(t, 16384, *merged.VM.MemoryMB)
	assert.Equal(t, 80, *merged.VM.DiskGB)

	// inputs stay untouched
	assert.Equal(t, 8192, *base.VM.MemoryMB)
	assert.Nil(t, override.VM.CPUs)
}

func TestMergePortsReplacedWholesale(t *testing.T) {
	base := &FileConfig{Ports: []PortForward{
		{Guest: 6443, Host: 6443},
		{Guest: 80, Host: 8080},
	}}
	override := &FileConfig{Ports: []PortForward{
		{Guest: 443, Host: 8443},
	}}

	merged := Merge(base, override)
	require.Len(t, merged.Ports, 1)
	assert.Equal(t, 443, merged.Ports[0].Guest)

	// absent override list keeps the base list
	merged = Merge(base, &FileConfig{})
	assert.Len(t, merged.Ports, 2)
}

func TestMergeNilOverride(t *testing.T) {
	base := &FileConfig{VM: &VMSection{Name: ptr("dev")}, Credentials: &Credentials{GithubToken: "x"}}
	merged := Merge(base, nil)
	assert.Equal(t, "dev", *merged.VM.Name)
	assert.Equal(t, "x", merged.Credentials.GithubToken)
	merged.VM.Name = ptr("mutated")
	assert.Equal(t, "dev", *base.VM.Name)
}

func TestResolveCLIOverridesFile(t *testing.T) {
	merged := &FileConfig{VM: &VMSection{CPUs: ptr(4), MemoryMB: ptr(8192), DiskGB: ptr(80), Name: ptr("dev"), PrivateIP: ptr("192.168.56.10")}}
	rc, err := Resolve(merged, Params{DiskGB: ptr(120)}, &forbidPrompter{t: t})
	require.NoError(t, err)
	assert.Equal(t, 4, rc.CPUs)
	assert.Equal(t, 8192, rc.MemoryMB)
	assert.Equal(t, 120, rc.DiskGB)
}

func TestResolveAllCLINoPrompts(t *testing.T) {
	rc, err := Resolve(&FileConfig{}, Params{
		Name:      ptr("box"),
		CPUs:      ptr(2),
		MemoryMB:  ptr(4096),
		DiskGB:    ptr(40),
		PrivateIP: ptr("10.0.7.2"),
	}, &forbidPrompter{t: t})
	require.NoError(t, err)
	assert.Equal(t, "box", rc.Name)
	assert.Equal(t, 2, rc.CPUs)
	assert.Equal(t, "10.0.7.2", rc.PrivateIP)
}

func TestResolveNonInteractiveFallsBack(t *testing.T) {
	rc, err := Resolve(&FileConfig{}, Params{}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultVMName, rc.Name)
	assert.Equal(t, DefaultCPUs, rc.CPUs)
	assert.Equal(t, DefaultMemoryMB, rc.MemoryMB)
	assert.Equal(t, DefaultDiskGB, rc.DiskGB)
	assert.Equal(t, DefaultPrivateIP, rc.PrivateIP)
	require.Len(t, rc.Ports, 3)
}

func TestResolvePromptEmptyTakesDefault(t *testing.T) {
	p := &scriptedPrompter{t: t, answers: []string{"", "", "", "", ""}}
	rc, err := Resolve(&FileConfig{}, Params{}, p)
	require.NoError(t, err)
	assert.Equal(t, DefaultCPUs, rc.CPUs)
	assert.Equal(t, DefaultPrivateIP, rc.PrivateIP)
	assert.Len(t, p.asked, 5)
}

func TestResolveRepromptsOnBadAnswer(t *testing.T) {
	p := &scriptedPrompter{t: t, answers: []string{
		"",     // name -> default
		"zero", // cpus, not a number
		"99",   // cpus, out of range
		"8",    // cpus, ok
		"",     // memory
		"",     // disk
		"",     // ip
	}}
	rc, err := Resolve(&FileConfig{}, Params{}, p)
	require.NoError(t, err)
	assert.Equal(t, 8, rc.CPUs)
}

func TestResolvePromptAttemptsExhausted(t *testing.T) {
	p := &scriptedPrompter{t: t, answers: []string{"", "0", "0", "0"}}
	_, err := Resolve(&FileConfig{}, Params{}, p)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestResolveNonInteractiveInvalidFileValue(t *testing.T) {
	merged := &FileConfig{VM: &VMSection{CPUs: ptr(99)}}
	_, err := Resolve(merged, Params{}, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestResolveCLIViolationFailsEvenInteractive(t *testing.T) {
	_, err := Resolve(&FileConfig{}, Params{DiskGB: ptr(5)}, &forbidPrompter{t: t})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestResolveInvalidIPShape(t *testing.T) {
	for _, bad := range []string{"not-an-ip", "10.0.0", "1.2.3.4.5", "a.b.c.d"} {
		_, err := Resolve(&FileConfig{}, Params{PrivateIP: ptr(bad)}, nil)
		require.ErrorIs(t, err, ErrInvalidConfig, "ip %q", bad)
	}
}

func TestResolveVersionPins(t *testing.T) {
	merged := &FileConfig{Versions: &Versions{K3s: "v1.29.0+k3s1", Node: "18"}}
	rc, err := Resolve(merged, Params{NodeVersion: ptr("20")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "v1.29.0+k3s1", rc.Versions.K3s)
	assert.Equal(t, "20", rc.Versions.Node)
}

func TestResolveCLICredentialsWin(t *testing.T) {
	merged := &FileConfig{Credentials: &Credentials{GithubToken: "from-file", DockerhubUser: "alice"}}
	rc, err := Resolve(merged, Params{GithubToken: "from-flag"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "from-flag", rc.Credentials.GithubToken)
	assert.Equal(t, "alice", rc.Credentials.DockerhubUser)
}

func TestRedactedMasksTokens(t *testing.T) {
	rc := &ResolvedConfig{Credentials: Credentials{GithubToken: "ghp_secret", DockerhubUser: "alice", DockerhubToken: "hub_secret"}}
	red := rc.Redacted()
	assert.Equal(t, "<redacted>", red.Credentials.GithubToken)
	assert.Equal(t, "<redacted>", red.Credentials.DockerhubToken)
	assert.Equal(t, "alice", red.Credentials.DockerhubUser)
	assert.Equal(t, "ghp_secret", rc.Credentials.GithubToken)
}

func TestPromptMissingCredentialsSkippable(t *testing.T) {
	rc := &ResolvedConfig{Credentials: Credentials{GithubToken: "already"}}
	p := &scriptedPrompter{t: t, answers: []string{"", ""}} // user, token skipped
	entered, err := PromptMissingCredentials(rc, p)
	require.NoError(t, err)
	assert.Nil(t, entered)
	assert.Equal(t, "already", rc.Credentials.GithubToken)
}

func TestPromptMissingCredentialsEntered(t *testing.T) {
	rc := &ResolvedConfig{}
	p := &scriptedPrompter{t: t, answers: []string{"ghp_new", "bob", ""}}
	entered, err := PromptMissingCredentials(rc, p)
	require.NoError(t, err)
	require.NotNil(t, entered)
	assert.Equal(t, "ghp_new", entered.GithubToken)
	assert.Equal(t, "bob", entered.DockerhubUser)
	assert.Equal(t, "ghp_new", rc.Credentials.GithubToken)
}

func TestSaveCredentialsCreatesOwnerOnlyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "override.yaml")
	require.NoError(t, SaveCredentials(path, &Credentials{GithubToken: "ghp_x"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	fc, err := LoadOptional(path)
	require.NoError(t, err)
	assert.Equal(t, "ghp_x", fc.Credentials.GithubToken)
}

func TestSaveCredentialsPreservesOverrideContent(t *testing.T) {
	dir := t.TempDir()
	path := writeYAML(t, dir, "override.yaml", "vm:\n  memory: 16384\ncredentials:\n  dockerhub_user: alice\n")

	require.NoError(t, SaveCredentials(path, &Credentials{GithubToken: "ghp_x"}))

	fc, err := LoadOptional(path)
	require.NoError(t, err)
	assert.Equal(t, 16384, *fc.VM.MemoryMB)
	assert.Equal(t, "alice", fc.Credentials.DockerhubUser)
	assert.Equal(t, "ghp_x", fc.Credentials.GithubToken)
}

func TestOfferPersistDeclined(t *testing.T) {
	path := filepath.Join(t.TempDir(), "override.yaml")
	p := &scriptedPrompter{t: t, confirms: []bool{false}}
	require.NoError(t, OfferPersistCredentials(context.Background(), path, &Credentials{GithubToken: "x"}, p))
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err), fmt.Sprintf("override should not exist, got %v", err))
}
