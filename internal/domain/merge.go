package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// ConflictType classifies why two branches disagree about a payload path.
type ConflictType string

const (
	ConflictBothModified    ConflictType = "BOTH_MODIFIED"
	ConflictBothDeleted     ConflictType = "BOTH_DELETED"
	ConflictDeletedModified ConflictType = "DELETED_MODIFIED"
	ConflictModifiedDeleted ConflictType = "MODIFIED_DELETED"
)

// ResolutionSide names which branch an auto-resolved change came from.
type ResolutionSide string

const (
	ResolvedToSource ResolutionSide = "source"
	ResolvedToTarget ResolutionSide = "target"
	ResolvedToBoth   ResolutionSide = "both"
)

// Conflict is a payload-path disagreement that needs human adjudication.
// Paths are dot-separated record keys; sequences are addressed as a single
// atomic segment and never indexed into.
type Conflict struct {
	Path        string       `json:"path"`
	Type        ConflictType `json:"type"`
	BaseValue   any          `json:"baseValue,omitempty"`
	SourceValue any          `json:"sourceValue,omitempty"`
	TargetValue any          `json:"targetValue,omitempty"`
}

// AutoResolvedChange is a payload-path edit the engine applied without human
// input: only one side changed, or both sides converged on the same value.
type AutoResolvedChange struct {
	Path          string         `json:"path"`
	ResolvedTo    ResolutionSide `json:"resolvedTo"`
	BaseValue     any            `json:"baseValue,omitempty"`
	SourceValue   any            `json:"sourceValue,omitempty"`
	TargetValue   any            `json:"targetValue,omitempty"`
	ResolvedValue any            `json:"resolvedValue,omitempty"`
}

// DiffResult is the outcome of a three-way diff for one entity.
type DiffResult struct {
	Conflicts    []Conflict           `json:"conflicts"`
	AutoResolved []AutoResolvedChange `json:"autoResolvedChanges"`

	// merged is the auto-merged tree with base values left in place at
	// conflict paths. It is only committable once every conflict has a
	// caller-supplied resolution applied through ResolveWith.
	merged  Payload
	deleted bool
}

// HasConflicts reports whether any path in the tree needs manual resolution.
func (d DiffResult) HasConflicts() bool {
	return len(d.Conflicts) > 0
}

// Deleted reports whether the merged outcome removes the entity.
func (d DiffResult) Deleted() bool {
	return d.deleted
}

// MergedPayload returns the fully auto-merged payload, or nil when the merge
// still has unresolved conflicts or resolves to a deletion.
func (d DiffResult) MergedPayload() Payload {
	if d.HasConflicts() || d.deleted {
		return nil
	}
	return ClonePayload(d.merged)
}

// ResolveWith overlays caller-supplied resolutions onto the auto-merged tree
// and returns the final payload (nil when the entity ends up deleted). Every
// conflict reported by the diff must have an entry keyed by its path.
func (d DiffResult) ResolveWith(resolutions map[string]any) (Payload, error) {
	if d.deleted {
		return nil, nil
	}

	final := ClonePayload(d.merged)
	for _, conflict := range d.Conflicts {
		value, ok := resolutions[conflict.Path]
		if !ok {
			return nil, fmt.Errorf("conflict at %q has no resolution", conflictPathLabel(conflict.Path))
		}
		if conflict.Path == "" {
			if value == nil {
				return nil, nil
			}
			record, isRecord := value.(map[string]any)
			if !isRecord {
				return nil, fmt.Errorf("whole-entity resolution must be a record or null, got %T", value)
			}
			final = ClonePayload(record)
			continue
		}
		if err := setPayloadValue(final, conflict.Path, value); err != nil {
			return nil, err
		}
	}
	return final, nil
}

// Diff3 computes the three-way merge of one entity's payloads: base is the
// common-ancestor snapshot, source and target the two diverging branches.
// Each may be nil when the entity is absent or deleted on that side. The
// function is pure; identical inputs always produce identical outputs, which
// merge execution relies on when it re-diffs for authority.
func Diff3(base, source, target Payload) DiffResult {
	result := DiffResult{
		Conflicts:    []Conflict{},
		AutoResolved: []AutoResolvedChange{},
	}

	switch {
	case source == nil && target == nil:
		// Both branches deleted (or never created) the entity.
		result.deleted = true
		if base != nil {
			result.AutoResolved = append(result.AutoResolved, AutoResolvedChange{
				Path:       "",
				ResolvedTo: ResolvedToBoth,
				BaseValue:  ClonePayload(base),
			})
		}
		return result

	case base != nil && source == nil && target != nil:
		result.Conflicts = append(result.Conflicts, Conflict{
			Path:        "",
			Type:        ConflictDeletedModified,
			BaseValue:   ClonePayload(base),
			TargetValue: ClonePayload(target),
		})
		result.merged = ClonePayload(base)
		return result

	case base != nil && source != nil && target == nil:
		result.Conflicts = append(result.Conflicts, Conflict{
			Path:        "",
			Type:        ConflictModifiedDeleted,
			BaseValue:   ClonePayload(base),
			SourceValue: ClonePayload(source),
		})
		result.merged = ClonePayload(base)
		return result

	case base == nil && source != nil && target == nil:
		result.AutoResolved = append(result.AutoResolved, AutoResolvedChange{
			Path:          "",
			ResolvedTo:    ResolvedToSource,
			SourceValue:   ClonePayload(source),
			ResolvedValue: ClonePayload(source),
		})
		result.merged = ClonePayload(source)
		return result

	case base == nil && source == nil && target != nil:
		result.AutoResolved = append(result.AutoResolved, AutoResolvedChange{
			Path:          "",
			ResolvedTo:    ResolvedToTarget,
			TargetValue:   ClonePayload(target),
			ResolvedValue: ClonePayload(target),
		})
		result.merged = ClonePayload(target)
		return result
	}

	baseFields := base
	if baseFields == nil {
		baseFields = Payload{}
	}
	result.merged = diffFields(baseFields, source, target, "", &result)
	return result
}

// diffFields recurses over the union of keys at one record level, collecting
// conflicts and auto-resolved changes and assembling the merged record.
func diffFields(base, source, target map[string]any, path string, result *DiffResult) map[string]any {
	merged := map[string]any{}
	for key, value := range base {
		merged[key] = cloneValue(value)
	}

	for _, key := range unionKeys(base, source, target) {
		baseValue := base[key]
		sourceValue := source[key]
		targetValue := target[key]

		sourceChanged := !deepEqual(sourceValue, baseValue)
		targetChanged := !deepEqual(targetValue, baseValue)

		switch {
		case !sourceChanged && !targetChanged:
			continue

		case sourceChanged && !targetChanged:
			result.AutoResolved = append(result.AutoResolved, AutoResolvedChange{
				Path:          joinPath(path, key),
				ResolvedTo:    ResolvedToSource,
				BaseValue:     cloneValue(baseValue),
				SourceValue:   cloneValue(sourceValue),
				TargetValue:   cloneValue(targetValue),
				ResolvedValue: cloneValue(sourceValue),
			})
			assignMergedField(merged, key, sourceValue)

		case !sourceChanged && targetChanged:
			result.AutoResolved = append(result.AutoResolved, AutoResolvedChange{
				Path:          joinPath(path, key),
				ResolvedTo:    ResolvedToTarget,
				BaseValue:     cloneValue(baseValue),
				SourceValue:   cloneValue(sourceValue),
				TargetValue:   cloneValue(targetValue),
				ResolvedValue: cloneValue(targetValue),
			})
			assignMergedField(merged, key, targetValue)

		default:
			sourceRecord, sourceIsRecord := sourceValue.(map[string]any)
			targetRecord, targetIsRecord := targetValue.(map[string]any)
			if sourceIsRecord && targetIsRecord {
				// Recurse rather than reporting a single record-level
				// conflict; a subtree with no differing leaves emits
				// nothing at all.
				baseRecord, _ := baseValue.(map[string]any)
				if baseRecord == nil {
					baseRecord = map[string]any{}
				}
				merged[key] = diffFields(baseRecord, sourceRecord, targetRecord, joinPath(path, key), result)
				continue
			}

			if deepEqual(sourceValue, targetValue) {
				// Both branches converged on the same value independently.
				result.AutoResolved = append(result.AutoResolved, AutoResolvedChange{
					Path:          joinPath(path, key),
					ResolvedTo:    ResolvedToBoth,
					BaseValue:     cloneValue(baseValue),
					SourceValue:   cloneValue(sourceValue),
					TargetValue:   cloneValue(targetValue),
					ResolvedValue: cloneValue(sourceValue),
				})
				assignMergedField(merged, key, sourceValue)
				continue
			}

			// Sequences and scalars are compared as single atomic values;
			// heterogeneous types at the same path land here as well.
			result.Conflicts = append(result.Conflicts, Conflict{
				Path:        joinPath(path, key),
				Type:        ConflictBothModified,
				BaseValue:   cloneValue(baseValue),
				SourceValue: cloneValue(sourceValue),
				TargetValue: cloneValue(targetValue),
			})
		}
	}

	return merged
}

func assignMergedField(merged map[string]any, key string, value any) {
	if value == nil {
		delete(merged, key)
		return
	}
	merged[key] = cloneValue(value)
}

func unionKeys(maps ...map[string]any) []string {
	seen := map[string]struct{}{}
	for _, m := range maps {
		for key := range m {
			seen[key] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ConflictDescription renders a human-readable sentence for a conflict. It is
// presentation only and plays no part in merge decisions.
func ConflictDescription(conflict Conflict) string {
	field := humanizeSegment(lastPathSegment(conflict.Path))

	switch conflict.Type {
	case ConflictDeletedModified:
		return fmt.Sprintf("%s was deleted on the source branch but changed to %s on the target branch",
			field, formatConflictValue(conflict.TargetValue))
	case ConflictModifiedDeleted:
		return fmt.Sprintf("%s was changed to %s on the source branch but deleted on the target branch",
			field, formatConflictValue(conflict.SourceValue))
	case ConflictBothDeleted:
		return fmt.Sprintf("%s was deleted on both branches", field)
	default:
		return fmt.Sprintf("%s was changed to %s on the source branch and to %s on the target branch",
			field, formatConflictValue(conflict.SourceValue), formatConflictValue(conflict.TargetValue))
	}
}

func conflictPathLabel(path string) string {
	if path == "" {
		return "the entity"
	}
	return path
}

func lastPathSegment(path string) string {
	if path == "" {
		return ""
	}
	segments := splitPath(path)
	return segments[len(segments)-1]
}

// humanizeSegment turns a payload key like "goldReserve" or "gold_reserve"
// into "gold reserve" for display.
func humanizeSegment(segment string) string {
	if segment == "" {
		return "the entity"
	}

	var builder strings.Builder
	for idx, r := range segment {
		switch {
		case r == '_' || r == '-':
			builder.WriteRune(' ')
		case unicode.IsUpper(r) && idx > 0:
			builder.WriteRune(' ')
			builder.WriteRune(unicode.ToLower(r))
		default:
			builder.WriteRune(r)
		}
	}
	return builder.String()
}

func formatConflictValue(value any) string {
	if value == nil {
		return "null"
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(encoded)
}
