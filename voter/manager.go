package voter

// Manager combines voters into one decision.
type Manager struct {
	voters []Voter
}

// NewManager returns a manager consulting voters in order.
func NewManager(voters ...Voter) *Manager {
	out := make([]Voter, 0, len(voters))
	for _, v := range voters {
		if v != nil {
			out = append(out, v)
		}
	}
	return &Manager{voters: out}
}

// Decide returns Grant or Deny, never Abstain. A nil principal is always
// denied.
func (m *Manager) Decide(p Principal, attribute string, target any) Decision {
	if m == nil || p == nil || attribute == "" {
		return Deny
	}

	granted := false
	for _, v := range m.voters {
		if !v.Supports(attribute, target) {
			continue
		}
		switch v.Vote(p, attribute, target) {
		case Deny:
			return Deny
		case Grant:
			granted = true
		}
	}
	if granted {
		return Grant
	}
	return Deny
}

// Granted reports whether Decide returns Grant.
func (m *Manager) Granted(p Principal, attribute string, target any) bool {
	return m.Decide(p, attribute, target) == Grant
}

// Voters returns the configured voters.
func (m *Manager) Voters() []Voter {
	if m == nil {
		return nil
	}
	out := make([]Voter, len(m.voters))
	copy(out, m.voters)
	return out
}
