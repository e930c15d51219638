package domain

import "github.com/google/uuid"

// EntityMergePreview is the diff outcome for one entity between two branches.
type EntityMergePreview struct {
	EntityType   string               `json:"entityType"`
	EntityID     uuid.UUID            `json:"entityId"`
	Conflicts    []Conflict           `json:"conflicts"`
	AutoResolved []AutoResolvedChange `json:"autoResolvedChanges"`
}

// Ref returns the entity coordinates of the preview.
func (p EntityMergePreview) Ref() EntityRef {
	return EntityRef{EntityType: p.EntityType, EntityID: p.EntityID}
}

// MergePreview aggregates per-entity diffs for a source-into-target merge.
// It is a pure read computation and safe to recompute at any time.
type MergePreview struct {
	SourceBranchID           uuid.UUID            `json:"sourceBranchId"`
	TargetBranchID           uuid.UUID            `json:"targetBranchId"`
	CommonAncestorID         uuid.UUID            `json:"commonAncestorId"`
	WorldTime                WorldTime            `json:"worldTime"`
	Entities                 []EntityMergePreview `json:"entities"`
	TotalConflicts           int                  `json:"totalConflicts"`
	TotalAutoResolved        int                  `json:"totalAutoResolved"`
	RequiresManualResolution bool                 `json:"requiresManualResolution"`
}

// ConflictResolution is a caller-supplied answer to one reported conflict.
// A nil ResolvedValue accepts a deletion.
type ConflictResolution struct {
	EntityType    string    `json:"entityType"`
	EntityID      uuid.UUID `json:"entityId"`
	Path          string    `json:"path"`
	ResolvedValue any       `json:"resolvedValue"`
}

// MergeResult reports the outcome of merge execution.
type MergeResult struct {
	Success         bool        `json:"success"`
	VersionsCreated int         `json:"versionsCreated"`
	MergedEntityIDs []uuid.UUID `json:"mergedEntityIds"`
	Error           string      `json:"error,omitempty"`
}
