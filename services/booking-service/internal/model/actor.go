package model

// Actor is the caller of a scheduling operation. Privileged is resolved from the
// caller's role at the edge; the core never inspects role names.
type Actor struct {
	ID         string
	TenantID   string
	Name       string
	Privileged bool
}

func IsPrivileged(a Actor) bool { return a.Privileged }

// CanActFor reports whether a may act on something owned by ownerID.
func CanActFor(a Actor, ownerID string) bool {
	return IsPrivileged(a) || (a.ID != "" && a.ID == ownerID)
}
