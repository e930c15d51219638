package domain

import (
	"time"

	"github.com/google/uuid"
)

// EntityRef identifies one campaign entity independent of branch and time.
type EntityRef struct {
	EntityType string    `json:"entityType"`
	EntityID   uuid.UUID `json:"entityId"`
}

// EntityVersion is an immutable snapshot of one entity on one branch, valid
// for the half-open world-time interval [ValidFrom, ValidTo). ValidTo == nil
// means the version is still current. A nil Payload marks the entity as
// deleted from ValidFrom onward on this branch.
type EntityVersion struct {
	ID         uuid.UUID  `json:"id"`
	EntityType string     `json:"entityType"`
	EntityID   uuid.UUID  `json:"entityId"`
	BranchID   uuid.UUID  `json:"branchId"`
	Version    int64      `json:"version"`
	ValidFrom  WorldTime  `json:"validFrom"`
	ValidTo    *WorldTime `json:"validTo,omitempty"`
	Payload    Payload    `json:"payload,omitempty"`
	CreatedBy  string     `json:"createdBy"`
	CreatedAt  time.Time  `json:"createdAt"`
	Comment    *string    `json:"comment,omitempty"`
}

// Ref returns the entity coordinates of the version.
func (v EntityVersion) Ref() EntityRef {
	return EntityRef{EntityType: v.EntityType, EntityID: v.EntityID}
}

// Deleted reports whether the version is a deletion marker.
func (v EntityVersion) Deleted() bool {
	return v.Payload == nil
}

// Covers reports whether the version's validity interval contains at.
func (v EntityVersion) Covers(at WorldTime) bool {
	if at < v.ValidFrom {
		return false
	}
	return v.ValidTo == nil || at < *v.ValidTo
}

// VersionWrite describes one append to an entity's timeline: close the
// currently open version (if any) at ValidFrom and insert the next version.
// ExpectedVersion is the highest version number the writer observed; the
// store rejects the write with ErrVersionConflict when it no longer matches.
type VersionWrite struct {
	Ref             EntityRef
	BranchID        uuid.UUID
	ExpectedVersion int64
	ValidFrom       WorldTime
	Payload         Payload
	CreatedBy       string
	Comment         *string
}
