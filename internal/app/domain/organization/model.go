// Package organization defines the verified-membership container scoped to
// one wallet registry.
package organization

import "time"

// MembershipState tracks an address through the invite workflow.
type MembershipState string

const (
	MembershipNone     MembershipState = ""
	MembershipInvited  MembershipState = "invited"
	MembershipAccepted MembershipState = "accepted"
)

// Organization is the whole-entity snapshot of one organization. Verification
// is not stored: an organization is verified exactly when its own address is
// active in the registry.
type Organization struct {
	Address   string
	Admin     string
	Members   map[string]MembershipState
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New creates an organization administered by the given address.
func New(address, admin string) Organization {
	now := time.Now().UTC()
	return Organization{
		Address:   address,
		Admin:     admin,
		Members:   make(map[string]MembershipState),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsMember reports whether the address has accepted its invite.
func (o Organization) IsMember(address string) bool {
	return o.Members[address] == MembershipAccepted
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (o Organization) Clone() Organization {
	members := make(map[string]MembershipState, len(o.Members))
	for k, v := range o.Members {
		members[k] = v
	}
	o.Members = members
	return o
}
