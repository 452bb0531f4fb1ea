package config

import (
	"os"
	"path/filepath"

	coretypes "github.com/projecteru2/core/types"
)

// Config holds host-side devvm tool configuration: where generated
// artifacts live, which external binaries to drive, and the bounds for
// every timed wait. VM-level settings (CPU, memory, ports, credentials)
// live in the layered defaults/override files, not here.
type Config struct {
	// WorkspaceDir is where the generated machine descriptor and the
	// external driver's metadata directory live.
	// Env: DEVVM_WORKSPACE_DIR. Default: ~/dev-vm.
	WorkspaceDir string `json:"workspace_dir" mapstructure:"workspace_dir"`
	// ConfigDir is the fixed host configuration directory holding the
	// base defaults file, the local override file, and per-VM kubeconfig
	// copies. Env: DEVVM_CONFIG_DIR. Default: ~/.config/devvm.
	ConfigDir string `json:"config_dir" mapstructure:"config_dir"`
	// LogDir is where per-run transcripts are written.
	// Env: DEVVM_LOG_DIR. Default: {WorkspaceDir}/logs.
	LogDir string `json:"log_dir" mapstructure:"log_dir"`
	// VagrantBinary is the path or name of the VM lifecycle driver.
	// Default: "vagrant".
	VagrantBinary string `json:"vagrant_binary" mapstructure:"vagrant_binary"`
	// VBoxManageBinary is the path or name of the hypervisor CLI, probed
	// only for presence. Default: "VBoxManage".
	VBoxManageBinary string `json:"vboxmanage_binary" mapstructure:"vboxmanage_binary"`
	// BootTimeoutSeconds bounds how long the driver waits for the guest
	// to become reachable during boot. Rendered into the descriptor.
	// Default: 300.
	BootTimeoutSeconds int `json:"boot_timeout_seconds" mapstructure:"boot_timeout_seconds"`
	// ConnectTimeoutSeconds bounds the kubeconfig connectivity probe.
	// Default: 10.
	ConnectTimeoutSeconds int `json:"connect_timeout_seconds" mapstructure:"connect_timeout_seconds"`
	// NodeReadyAttempts and NodeReadyIntervalSeconds bound the Kubernetes
	// node readiness poll. Defaults: 30 attempts, 10s apart.
	NodeReadyAttempts        int `json:"node_ready_attempts" mapstructure:"node_ready_attempts"`
	NodeReadyIntervalSeconds int `json:"node_ready_interval_seconds" mapstructure:"node_ready_interval_seconds"`
	// KubeconfigWaitAttempts and KubeconfigWaitIntervalSeconds bound the
	// wait for the guest kubeconfig file to materialize after a k3s
	// (re)start. Defaults: 12 attempts, 5s apart.
	KubeconfigWaitAttempts        int `json:"kubeconfig_wait_attempts" mapstructure:"kubeconfig_wait_attempts"`
	KubeconfigWaitIntervalSeconds int `json:"kubeconfig_wait_interval_seconds" mapstructure:"kubeconfig_wait_interval_seconds"`
	// DiskCriticalPercent is the root filesystem usage above which the
	// repair engine reclaims space. Default: 90.
	DiskCriticalPercent int `json:"disk_critical_percent" mapstructure:"disk_critical_percent"`
	// GateOnVMState controls whether repair short-circuits when the VM
	// cannot be brought to the running state. When false, later phases
	// still run and fail individually. Default: true.
	GateOnVMState bool `json:"gate_on_vm_state" mapstructure:"gate_on_vm_state"`
	// AutoInstallHostTools lets the preflight check attempt one host
	// package-manager install of a missing vagrant/VBoxManage before
	// giving up. Default: false; opt-in because it may invoke sudo-level
	// package operations.
	AutoInstallHostTools bool `json:"auto_install_host_tools" mapstructure:"auto_install_host_tools"`
	// Log configuration, uses eru core's ServerLogConfig.
	Log coretypes.ServerLogConfig `json:"log" mapstructure:"log"`
}

// DefaultConfig returns the built-in host configuration. Paths derive
// from the user's home directory; an unresolvable home falls back to the
// current directory so the tool still works in minimal environments.
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	workspace := filepath.Join(home, "dev-vm")
	return &Config{
		WorkspaceDir:                  workspace,
		ConfigDir:                     filepath.Join(home, ".config", "devvm"),
		LogDir:                        filepath.Join(workspace, "logs"),
		VagrantBinary:                 "vagrant",
		VBoxManageBinary:              "VBoxManage",
		BootTimeoutSeconds:            300,
		ConnectTimeoutSeconds:         10,
		NodeReadyAttempts:             30,
		NodeReadyIntervalSeconds:      10,
		KubeconfigWaitAttempts:        12,
		KubeconfigWaitIntervalSeconds: 5,
		DiskCriticalPercent:           90,
		GateOnVMState:                 true,
		Log: coretypes.ServerLogConfig{
			Level: "info",
		},
	}
}

// Derived path helpers. Generated artifacts live under WorkspaceDir,
// persistent host state under ConfigDir.

// DescriptorFile is the generated machine descriptor consumed by the
// external lifecycle driver.
func (c *Config) DescriptorFile() string { return filepath.Join(c.WorkspaceDir, "Vagrantfile") }

// MetadataDir is the driver's own state directory inside the workspace.
func (c *Config) MetadataDir() string { return filepath.Join(c.WorkspaceDir, ".vagrant") }

// DefaultsFile is the base defaults layer, required to exist.
func (c *Config) DefaultsFile() string { return filepath.Join(c.ConfigDir, "defaults.yaml") }

// OverrideFile is the optional local override layer; it may hold
// credentials and is flagged accordingly during cleanup.
func (c *Config) OverrideFile() string { return filepath.Join(c.ConfigDir, "override.yaml") }

// KubeDir holds per-VM kubeconfig copies keyed by VM name.
func (c *Config) KubeDir() string { return filepath.Join(c.ConfigDir, "kube") }

// KubeconfigFile is the host-side kubeconfig copy for the named VM.
func (c *Config) KubeconfigFile(vmName string) string {
	return filepath.Join(c.KubeDir(), vmName+".yaml")
}

// KubeconfigLock serializes kubeconfig store writes across processes.
func (c *Config) KubeconfigLock() string { return filepath.Join(c.KubeDir(), ".lock") }

// RunLogFile is the append-only transcript of completed actions.
func (c *Config) RunLogFile() string { return filepath.Join(c.LogDir, "history.log") }

// EnsureDirs creates the directories every action may touch.
func (c *Config) EnsureDirs() error {
	for _, d := range []string{c.WorkspaceDir, c.ConfigDir, c.LogDir, c.KubeDir()} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}
