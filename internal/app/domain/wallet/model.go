// Package wallet defines the cooperative wallet registry model. The registry
// is the single source of truth for which addresses may hold tokens and act
// inside organizations and projects.
package wallet

import "time"

// Registry is the whole-entity snapshot of the cooperative wallet registry.
type Registry struct {
	Owner            string
	OwnershipClaimed bool
	Active           map[string]bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewRegistry creates an empty registry owned by the given address.
func NewRegistry(owner string) Registry {
	now := time.Now().UTC()
	return Registry{
		Owner:     owner,
		Active:    make(map[string]bool),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsActive reports whether the address has been activated by the owner.
func (r Registry) IsActive(address string) bool {
	return r.Active[address]
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (r Registry) Clone() Registry {
	active := make(map[string]bool, len(r.Active))
	for k, v := range r.Active {
		active[k] = v
	}
	r.Active = active
	return r
}
