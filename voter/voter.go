package voter

import "strings"

// Decision is a single voter's opinion, or the final outcome of a Manager.
type Decision int8

const (
	// Abstain means the voter has no opinion.
	Abstain Decision = iota
	// Grant allows the request unless another voter denies it.
	Grant
	// Deny vetoes the request.
	Deny
)

func (d Decision) String() string {
	switch d {
	case Grant:
		return "granted"
	case Deny:
		return "denied"
	default:
		return "abstain"
	}
}

// Resource actions shared by every protected resource type.
const (
	ActionView    = "VIEW"
	ActionViewAll = "VIEW_ALL"
	ActionCreate  = "CREATE"
	ActionEdit    = "EDIT"
	ActionDelete  = "DELETE"
)

// Attribute builds the attribute name for an action on a resource type,
// for example Attribute("user", ActionEdit) == "USER_EDIT".
func Attribute(resource, action string) string {
	return strings.ToUpper(resource) + "_" + strings.ToUpper(action)
}

// Principal is the authenticated actor as voters see it.
type Principal interface {
	SubjectID() string
	TenantKey() string
	HasRole(role string) bool
	HasPermission(name string) bool
}

// Identified is implemented by targets that are themselves users.
type Identified interface {
	SubjectID() string
}

// Owned is implemented by targets that belong to one user, such as a session
// record or an MFA token.
type Owned interface {
	OwnerID() string
}

// TenantOwned is implemented by targets scoped to a tenant.
type TenantOwned interface {
	TenantKey() string
}

// Protected is implemented by targets that may carry a system flag.
type Protected interface {
	IsSystem() bool
}

// Voter decides on the attributes it supports.
type Voter interface {
	Supports(attribute string, target any) bool
	Vote(p Principal, attribute string, target any) Decision
}
