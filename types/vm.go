package types

// VMState is the lifecycle state of the VM as reported by the external
// driver. It is derived fresh on every status query and never cached;
// the VM itself is the single source of truth.
type VMState string

const (
	StateNotCreated     VMState = "not_created"
	StateRunning        VMState = "running"
	StatePoweroff       VMState = "poweroff"
	StateAborted        VMState = "aborted"
	StateGuruMeditation VMState = "gurumeditation"
	StateSaved          VMState = "saved"
	StateSuspended      VMState = "suspended"
	StateUnknown        VMState = "unknown"
)

// ParseVMState maps a raw driver state string to a VMState.
// Unrecognized values map to StateUnknown rather than failing, since the
// external tool can grow new states.
func ParseVMState(raw string) VMState {
	switch VMState(raw) {
	case StateNotCreated, StateRunning, StatePoweroff, StateAborted,
		StateGuruMeditation, StateSaved, StateSuspended:
		return VMState(raw)
	}
	return StateUnknown
}

// Stopped reports whether the VM exists but is not executing: a plain
// halt or a crash. These states boot without re-running provisioning.
func (s VMState) Stopped() bool {
	return s == StatePoweroff || s == StateAborted || s == StateGuruMeditation
}

// Paused reports whether the VM can be resumed instead of booted.
func (s VMState) Paused() bool {
	return s == StateSaved || s == StateSuspended
}
