package types

// ServiceStatus is the observed state of one monitored guest service.
type ServiceStatus struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// ToolStatus is the observed state of one expected guest tool.
type ToolStatus struct {
	Name    string `json:"name"`
	Present bool   `json:"present"`
	Version string `json:"version,omitempty"`
	// PackageManaged tools cannot be reinstalled individually; repair
	// recommends a full re-provision instead.
	PackageManaged bool `json:"package_managed"`
}

// HealthSnapshot is an ephemeral health report. It is regenerated on
// demand and never persisted.
type HealthSnapshot struct {
	VMState         VMState         `json:"vm_state"`
	Services        []ServiceStatus `json:"services,omitempty"`
	Tools           []ToolStatus    `json:"tools,omitempty"`
	DiskUsedPercent int             `json:"disk_used_percent"`
	KubeconfigValid bool            `json:"kubeconfig_valid"`
	// ServerVersion is the Kubernetes API server version reported by the
	// kubeconfig connectivity probe, empty when the probe failed.
	ServerVersion string `json:"server_version,omitempty"`
}

// Healthy reports whether every observed aspect passed.
func (s *HealthSnapshot) Healthy() bool {
	if s.VMState != StateRunning || !s.KubeconfigValid {
		return false
	}
	for _, svc := range s.Services {
		if !svc.Active {
			return false
		}
	}
	for _, tool := range s.Tools {
		if !tool.Present {
			return false
		}
	}
	return true
}
