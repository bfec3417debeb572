package trigger

import "github.com/google/uuid"

// ResourceSet is the snapshot of internal resource IDs a member owns.
type ResourceSet map[uuid.UUID]struct{}

// NewResourceSet builds a set from a slice.
func NewResourceSet(ids ...uuid.UUID) ResourceSet {
	set := make(ResourceSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Has reports set membership.
func (s ResourceSet) Has(id uuid.UUID) bool {
	_, ok := s[id]
	return ok
}

// PassesFilter applies a required/excluded resource filter to a member's
// owned resources. Every required ID must be owned and no excluded ID may
// be owned. An empty filter always passes.
func PassesFilter(required, excluded []uuid.UUID, member ResourceSet) bool {
	if len(required) == 0 && len(excluded) == 0 {
		return true
	}
	for _, id := range required {
		if !member.Has(id) {
			return false
		}
	}
	for _, id := range excluded {
		if member.Has(id) {
			return false
		}
	}
	return true
}
