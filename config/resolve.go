package config

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// ErrInvalidConfig is returned when a resolved value violates its
// declared range and no interactive correction is possible.
var ErrInvalidConfig = errors.New("invalid config value")

// Built-in fallbacks, used when neither CLI, override, nor defaults
// file supplies a field. The private IP sits on the VirtualBox
// host-only subnet.
const (
	DefaultVMName    = "dev-vm"
	DefaultCPUs      = 4
	DefaultMemoryMB  = 8192
	DefaultDiskGB    = 80
	DefaultPrivateIP = "192.168.56.10"

	MinCPUs     = 1
	MaxCPUs     = 32
	MinMemoryMB = 1024
	MaxMemoryMB = 65536
	MinDiskGB   = 10
	MaxDiskGB   = 500

	maxPromptAttempts = 3
)

var (
	// Dotted-quad only. No semantic validation beyond the shape; a
	// nonsense address fails later at boot, visibly.
	ipPattern = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)
	// The name ends up as a hostname and a machine identifier.
	namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
)

// DefaultPorts is the forward set used when no config file declares
// any: the k3s API plus plain and TLS ingress on unprivileged host
// ports.
func DefaultPorts() []PortForward {
	return []PortForward{
		{Guest: 6443, Host: 6443, Description: "k3s API"},
		{Guest: 80, Host: 8080, Description: "ingress http", AutoCorrect: true},
		{Guest: 443, Host: 8443, Description: "ingress https", AutoCorrect: true},
	}
}

// Params carries CLI-supplied values. Pointer fields distinguish "flag
// not given" from an explicit zero; credential strings use "" for
// "not given" since an empty secret is meaningless anyway.
type Params struct {
	Name        *string
	CPUs        *int
	MemoryMB    *int
	DiskGB      *int
	PrivateIP   *string
	K3sVersion  *string
	NodeVersion *string

	GithubToken    string
	DockerhubUser  string
	DockerhubToken string
}

// Prompter asks the user for a value. Prompt shows the default and
// returns the raw answer; empty means "take the default". Confirm asks
// a yes/no question.
type Prompter interface {
	Prompt(label, def string) (string, error)
	Confirm(question string) (bool, error)
}

// ResolvedConfig is the final machine description every later component
// consumes. All fields are concrete; there is no "unset" left.
type ResolvedConfig struct {
	Name        string        `json:"name"`
	CPUs        int           `json:"cpus"`
	MemoryMB    int           `json:"memory"`
	DiskGB      int           `json:"disk_gb"`
	PrivateIP   string        `json:"private_ip"`
	Ports       []PortForward `json:"ports"`
	Credentials Credentials   `json:"-"`
	Versions    Versions      `json:"versions"`
}

// Redacted returns a copy safe for logging: credential values are
// masked, presence is preserved.
func (rc *ResolvedConfig) Redacted() *ResolvedConfig {
	cp := *rc
	cp.Ports = clonePorts(rc.Ports)
	if cp.Credentials.GithubToken != "" {
		cp.Credentials.GithubToken = "<redacted>"
	}
	if cp.Credentials.DockerhubToken != "" {
		cp.Credentials.DockerhubToken = "<redacted>"
	}
	return &cp
}

// Resolve produces the final config from the merged file config, the
// CLI params and, when interactive, the prompter. Precedence per field
// is CLI over file over prompt, with the built-in fallback as the
// prompt default. A nil prompter marks a non-interactive session:
// missing fields silently take the built-in fallback and any violation
// is fatal.
//
// CLI-supplied violations always fail, even interactively; values the
// user typed into a flag are not second-guessed with a prompt.
func Resolve(merged *FileConfig, params Params, prompter Prompter) (*ResolvedConfig, error) {
	if merged == nil {
		merged = &FileConfig{}
	}
	vm := merged.VM
	if vm == nil {
		vm = &VMSection{}
	}

	rc := &ResolvedConfig{}
	var err error

	if rc.Name, err = resolveString(params.Name, vm.Name, prompter, "VM name", DefaultVMName, validateName); err != nil {
		return nil, err
	}
	if rc.CPUs, err = resolveInt(params.CPUs, vm.CPUs, prompter, "CPUs", DefaultCPUs, validateCPUs); err != nil {
		return nil, err
	}
	if rc.MemoryMB, err = resolveInt(params.MemoryMB, vm.MemoryMB, prompter, "Memory (MB)", DefaultMemoryMB, validateMemory); err != nil {
		return nil, err
	}
	if rc.DiskGB, err = resolveInt(params.DiskGB, vm.DiskGB, prompter, "Disk (GB)", DefaultDiskGB, validateDisk); err != nil {
		return nil, err
	}
	if rc.PrivateIP, err = resolveString(params.PrivateIP, vm.PrivateIP, prompter, "Private IP", DefaultPrivateIP, validateIP); err != nil {
		return nil, err
	}

	rc.Ports = clonePorts(merged.Ports)
	if rc.Ports == nil {
		rc.Ports = DefaultPorts()
	}
	if merged.Credentials != nil {
		rc.Credentials = *merged.Credentials
	}
	mergeCredentials(&rc.Credentials, &Credentials{
		GithubToken:    params.GithubToken,
		DockerhubUser:  params.DockerhubUser,
		DockerhubToken: params.DockerhubToken,
	})
	if merged.Versions != nil {
		rc.Versions = *merged.Versions
	}
	if params.K3sVersion != nil {
		rc.Versions.K3s = *params.K3sVersion
	}
	if params.NodeVersion != nil {
		rc.Versions.Node = *params.NodeVersion
	}
	return rc, nil
}

func resolveInt(cli, file *int, prompter Prompter, label string, def int, validate func(int) error) (int, error) {
	if cli != nil {
		if err := validate(*cli); err != nil {
			return 0, err
		}
		return *cli, nil
	}
	if file != nil {
		if err := validate(*file); err != nil {
			if prompter == nil {
				return 0, err
			}
			return promptInt(prompter, label, def, validate)
		}
		return *file, nil
	}
	if prompter == nil {
		return def, nil
	}
	return promptInt(prompter, label, def, validate)
}

func resolveString(cli, file *string, prompter Prompter, label string, def string, validate func(string) error) (string, error) {
	if cli != nil {
		if err := validate(*cli); err != nil {
			return "", err
		}
		return *cli, nil
	}
	if file != nil {
		if err := validate(*file); err != nil {
			if prompter == nil {
				return "", err
			}
			return promptString(prompter, label, def, validate)
		}
		return *file, nil
	}
	if prompter == nil {
		return def, nil
	}
	return promptString(prompter, label, def, validate)
}

func promptInt(prompter Prompter, label string, def int, validate func(int) error) (int, error) {
	var lastErr error
	for i := 0; i < maxPromptAttempts; i++ {
		raw, err := prompter.Prompt(label, strconv.Itoa(def))
		if err != nil {
			return 0, fmt.Errorf("prompt %s: %w", label, err)
		}
		if raw == "" {
			return def, nil
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			lastErr = fmt.Errorf("%w: %s: not a number: %q", ErrInvalidConfig, label, raw)
			continue
		}
		if err := validate(v); err != nil {
			lastErr = err
			continue
		}
		return v, nil
	}
	return 0, lastErr
}

func promptString(prompter Prompter, label string, def string, validate func(string) error) (string, error) {
	var lastErr error
	for i := 0; i < maxPromptAttempts; i++ {
		raw, err := prompter.Prompt(label, def)
		if err != nil {
			return "", fmt.Errorf("prompt %s: %w", label, err)
		}
		if raw == "" {
			return def, nil
		}
		if err := validate(raw); err != nil {
			lastErr = err
			continue
		}
		return raw, nil
	}
	return "", lastErr
}

func validateCPUs(v int) error {
	if v < MinCPUs || v > MaxCPUs {
		return fmt.Errorf("%w: cpus %d out of range [%d, %d]", ErrInvalidConfig, v, MinCPUs, MaxCPUs)
	}
	return nil
}

func validateMemory(v int) error {
	if v < MinMemoryMB || v > MaxMemoryMB {
		return fmt.Errorf("%w: memory %d out of range [%d, %d]", ErrInvalidConfig, v, MinMemoryMB, MaxMemoryMB)
	}
	return nil
}

func validateDisk(v int) error {
	if v < MinDiskGB || v > MaxDiskGB {
		return fmt.Errorf("%w: disk %d out of range [%d, %d]", ErrInvalidConfig, v, MinDiskGB, MaxDiskGB)
	}
	return nil
}

func validateIP(v string) error {
	if !ipPattern.MatchString(v) {
		return fmt.Errorf("%w: private ip %q is not a dotted quad", ErrInvalidConfig, v)
	}
	return nil
}

func validateName(v string) error {
	if !namePattern.MatchString(v) {
		return fmt.Errorf("%w: vm name %q (want letters, digits, '._-')", ErrInvalidConfig, v)
	}
	return nil
}
