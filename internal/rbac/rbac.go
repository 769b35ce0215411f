package rbac

// Role is one of the three privilege tiers. The set is closed; extending it is
// a code change, not configuration.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleCoordinator Role = "coordinator"
	RoleAgent       Role = "agent"
)

// DefaultRole is the least-privilege tier. Anything unrecognized resolves here.
const DefaultRole = RoleAgent

// ParseRole maps a stored role string to a Role. Unknown or empty input
// degrades to the agent tier, never to an elevated one.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleAdmin:
		return RoleAdmin
	case RoleCoordinator:
		return RoleCoordinator
	case RoleAgent:
		return RoleAgent
	default:
		return DefaultRole
	}
}

// Valid reports whether r is a member of the closed role set.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleCoordinator, RoleAgent:
		return true
	}
	return false
}

func Roles() []Role {
	return []Role{RoleAdmin, RoleCoordinator, RoleAgent}
}

// Capability is a single named permission flag.
type Capability string

const (
	CanCreateUsers    Capability = "canCreateUsers"
	CanViewDashboard  Capability = "canViewDashboard"
	CanViewReports    Capability = "canViewReports"
	CanFillForms      Capability = "canFillForms"
	CanViewCalls      Capability = "canViewCalls"
	CanManageSettings Capability = "canManageSettings"
	CanDeleteCalls    Capability = "canDeleteCalls"
)

func Capabilities() []Capability {
	return []Capability{
		CanCreateUsers,
		CanViewDashboard,
		CanViewReports,
		CanFillForms,
		CanViewCalls,
		CanManageSettings,
		CanDeleteCalls,
	}
}

// PermissionSet is the full capability-flag record for one role. Every
// capability has an explicit value; a flag that is absent from the shape
// simply does not exist, so lookups can never answer "unknown".
type PermissionSet struct {
	CanCreateUsers    bool   `json:"canCreateUsers"`
	CanViewDashboard  bool   `json:"canViewDashboard"`
	CanViewReports    bool   `json:"canViewReports"`
	CanFillForms      bool   `json:"canFillForms"`
	CanViewCalls      bool   `json:"canViewCalls"`
	CanManageSettings bool   `json:"canManageSettings"`
	CanDeleteCalls    bool   `json:"canDeleteCalls"`
	Label             string `json:"label"`
}

// Has is a total function over the closed capability set.
func (p PermissionSet) Has(c Capability) bool {
	switch c {
	case CanCreateUsers:
		return p.CanCreateUsers
	case CanViewDashboard:
		return p.CanViewDashboard
	case CanViewReports:
		return p.CanViewReports
	case CanFillForms:
		return p.CanFillForms
	case CanViewCalls:
		return p.CanViewCalls
	case CanManageSettings:
		return p.CanManageSettings
	case CanDeleteCalls:
		return p.CanDeleteCalls
	}
	return false
}

// HasName looks up a capability by its wire name. Unknown names are denied,
// never default-allowed.
func (p PermissionSet) HasName(name string) bool {
	for _, c := range Capabilities() {
		if string(c) == name {
			return p.Has(c)
		}
	}
	return false
}

var catalog = map[Role]PermissionSet{
	RoleAdmin: {
		CanCreateUsers:    true,
		CanViewDashboard:  true,
		CanViewReports:    true,
		CanFillForms:      true,
		CanViewCalls:      true,
		CanManageSettings: true,
		CanDeleteCalls:    true,
		Label:             "Administrador",
	},
	RoleCoordinator: {
		CanCreateUsers:    false,
		CanViewDashboard:  true,
		CanViewReports:    true,
		CanFillForms:      true,
		CanViewCalls:      true,
		CanManageSettings: false,
		CanDeleteCalls:    false,
		Label:             "Coordinador",
	},
	RoleAgent: {
		CanCreateUsers:    false,
		CanViewDashboard:  false,
		CanViewReports:    false,
		CanFillForms:      true,
		CanViewCalls:      true,
		CanManageSettings: false,
		CanDeleteCalls:    false,
		Label:             "Agente",
	},
}

// PermissionsFor returns the static permission set for a role. Pure and total:
// an unrecognized role yields the agent set.
func PermissionsFor(role Role) PermissionSet {
	if set, ok := catalog[role]; ok {
		return set
	}
	return catalog[DefaultRole]
}
