package auth

// Principal is the authenticated caller. It satisfies the sensor engine's
// credential check, which only asks whether the caller is an administrator.
type Principal struct {
	Name        string       `json:"name"`
	Role        string       `json:"role,omitempty"`
	Machine     bool         `json:"machine,omitempty"`
	Permissions []Permission `json:"permissions"`
}

func (p *Principal) Has(perm Permission) bool {
	if p == nil {
		return false
	}
	for _, have := range p.Permissions {
		if have == perm {
			return true
		}
	}
	return false
}

func (p *Principal) IsAdmin() bool { return p.Has(PermAdmin) }

func (p *Principal) Subject() string {
	if p.Machine {
		return "machine:" + p.Name
	}
	return p.Name
}
