package core

// Mitigation is the closed set of response classes the dispatcher can apply.
type Mitigation int

const (
	// MitigationMonitor only records the target; it never runs a playbook.
	MitigationMonitor Mitigation = iota
	MitigationResponse
	MitigationElimination
	MitigationRecovery
)

// DefaultMitigation is applied whenever a name cannot be resolved.
const DefaultMitigation = MitigationMonitor

// Mitigations lists every kind in declaration order.
func Mitigations() []Mitigation {
	return []Mitigation{MitigationMonitor, MitigationResponse, MitigationElimination, MitigationRecovery}
}

func (m Mitigation) String() string {
	switch m {
	case MitigationMonitor:
		return "monitor"
	case MitigationResponse:
		return "response"
	case MitigationElimination:
		return "elimination"
	case MitigationRecovery:
		return "recovery"
	default:
		return "unknown"
	}
}

// Playbook returns the playbook the mitigation executes, or "" for monitor.
func (m Mitigation) Playbook() string {
	switch m {
	case MitigationResponse:
		return "response"
	case MitigationElimination:
		return "elimination"
	case MitigationRecovery:
		return "recovery"
	default:
		return ""
	}
}

// ParseMitigation maps a mitigation name to its kind.
func ParseMitigation(name string) (Mitigation, bool) {
	for _, m := range Mitigations() {
		if m.String() == name {
			return m, true
		}
	}
	return DefaultMitigation, false
}
