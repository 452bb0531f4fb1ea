package config

import (
	"errors"
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// ErrConfigMissing is returned when the required base defaults file is
// absent. The override file is optional and never produces this error.
var ErrConfigMissing = errors.New("base defaults file missing")

// FileConfig is the schema shared by the base defaults file and the
// local override file. Scalar fields are pointers so a merge can tell
// "absent" from "zero". Unknown keys are rejected at load time: a typo
// in an override silently winning over a default is worse than a hard
// error.
type FileConfig struct {
	VM          *VMSection    `json:"vm,omitempty"`
	Ports       []PortForward `json:"ports,omitempty"`
	Credentials *Credentials  `json:"credentials,omitempty"`
	Versions    *Versions     `json:"versions,omitempty"`
}

// VMSection holds the machine-sizing scalars.
type VMSection struct {
	Name      *string `json:"name,omitempty"`
	CPUs      *int    `json:"cpus,omitempty"`
	MemoryMB  *int    `json:"memory,omitempty"`
	DiskGB    *int    `json:"disk_gb,omitempty"`
	PrivateIP *string `json:"private_ip,omitempty"`
}

// PortForward maps one guest port to one host port. Entries are unique
// by guest port only conceptually; collisions are tolerated and left to
// the description to explain.
type PortForward struct {
	Guest       int    `json:"guest"`
	Host        int    `json:"host"`
	Description string `json:"description,omitempty"`
	AutoCorrect bool   `json:"auto_correct,omitempty"`
}

// Credentials are secrets injected into the guest. Never logged.
type Credentials struct {
	GithubToken    string `json:"github_token,omitempty"`
	DockerhubUser  string `json:"dockerhub_user,omitempty"`
	DockerhubToken string `json:"dockerhub_token,omitempty"`
}

// Empty reports whether no credential is set.
func (c *Credentials) Empty() bool {
	return c == nil || (c.GithubToken == "" && c.DockerhubUser == "" && c.DockerhubToken == "")
}

// Versions pins tool versions installed in the guest. Empty means the
// installer's default channel.
type Versions struct {
	K3s  string `json:"k3s,omitempty"`
	Node string `json:"node,omitempty"`
}

// Load reads and strictly decodes the base defaults file.
func Load(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigMissing, path)
		}
		return nil, fmt.Errorf("read defaults %s: %w", path, err)
	}
	return decode(path, data)
}

// LoadOptional reads the local override file; a missing file yields nil
// with no error.
func LoadOptional(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read override %s: %w", path, err)
	}
	return decode(path, data)
}

func decode(path string, data []byte) (*FileConfig, error) {
	fc := &FileConfig{}
	if err := yaml.UnmarshalStrict(data, fc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return fc, nil
}

// Merge layers override onto base and returns a new FileConfig. The
// merge is explicit and total per field:
//   - vm scalars merge key-by-key (override wins where set);
//   - the ports list, when present in the override, replaces the base
//     list wholesale, since a user edits a port list as one unit;
//   - credentials and versions merge key-by-key.
//
// Neither input is mutated. A nil override returns a copy of base.
func Merge(base, override *FileConfig) *FileConfig {
	out := &FileConfig{}
	if base != nil {
		out.VM = cloneVM(base.VM)
		out.Ports = clonePorts(base.Ports)
		out.Credentials = cloneCredentials(base.Credentials)
		out.Versions = cloneVersions(base.Versions)
	}
	if override == nil {
		return out
	}
	if override.VM != nil {
		if out.VM == nil {
			out.VM = &VMSection{}
		}
		mergeVM(out.VM, override.VM)
	}
	if override.Ports != nil {
		out.Ports = clonePorts(override.Ports)
	}
	if override.Credentials != nil {
		if out.Credentials == nil {
			out.Credentials = &Credentials{}
		}
		mergeCredentials(out.Credentials, override.Credentials)
	}
	if override.Versions != nil {
		if out.Versions == nil {
			out.Versions = &Versions{}
		}
		mergeVersions(out.Versions, override.Versions)
	}
	return out
}

func mergeVM(dst, src *VMSection) {
	if src.Name != nil {
		dst.Name = ptr(*src.Name)
	}
	if src.CPUs != nil {
		dst.CPUs = ptr(*src.CPUs)
	}
	if src.MemoryMB != nil {
		dst.MemoryMB = ptr(*src.MemoryMB)
	}
	if src.DiskGB != nil {
		dst.DiskGB = ptr(*src.DiskGB)
	}
	if src.PrivateIP != nil {
		dst.PrivateIP = ptr(*src.PrivateIP)
	}
}

func mergeCredentials(dst, src *Credentials) {
	if src.GithubToken != "" {
		dst.GithubToken = src.GithubToken
	}
	if src.DockerhubUser != "" {
		dst.DockerhubUser = src.DockerhubUser
	}
	if src.DockerhubToken != "" {
		dst.DockerhubToken = src.DockerhubToken
	}
}

func mergeVersions(dst, src *Versions) {
	if src.K3s != "" {
		dst.K3s = src.K3s
	}
	if src.Node != "" {
		dst.Node = src.Node
	}
}

func cloneVM(v *VMSection) *VMSection {
	if v == nil {
		return nil
	}
	out := &VMSection{}
	mergeVM(out, v)
	return out
}

func clonePorts(ports []PortForward) []PortForward {
	if ports == nil {
		return nil
	}
	out := make([]PortForward, len(ports))
	copy(out, ports)
	return out
}

func cloneCredentials(c *Credentials) *Credentials {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

func cloneVersions(v *Versions) *Versions {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

func ptr[T any](v T) *T { return &v }
