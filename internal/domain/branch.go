package domain

import (
	"time"

	"github.com/google/uuid"
)

// WorldTime is the in-fiction clock used to index versions. It is an abstract
// monotonically increasing tick and has nothing to do with wall-clock time.
type WorldTime int64

// Branch is one named timeline of entity versions. Branches form a tree: a
// forked branch shares its parent's history up to ForkWorldTime and only
// diverges once it writes its own versions.
type Branch struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	ParentBranchID *uuid.UUID `json:"parentBranchId,omitempty"`
	ForkWorldTime  *WorldTime `json:"forkWorldTime,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// IsRoot reports whether the branch has no parent.
func (b Branch) IsRoot() bool {
	return b.ParentBranchID == nil
}

// NewRootBranch creates the root timeline.
func NewRootBranch(name string) Branch {
	return Branch{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: time.Now(),
	}
}

// NewForkedBranch creates a branch diverging from parent at the given
// world-time.
func NewForkedBranch(name string, parentID uuid.UUID, forkAt WorldTime) Branch {
	return Branch{
		ID:             uuid.New(),
		Name:           name,
		ParentBranchID: &parentID,
		ForkWorldTime:  &forkAt,
		CreatedAt:      time.Now(),
	}
}
