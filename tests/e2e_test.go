package tests

import (
	"fmt"
	"net/http"
	"testing"
	"time"
)

// TestMergeFlow walks the whole surface: create a root branch, seed an
// entity, fork, diverge on both sides, preview the merge, resolve the
// conflict, execute, and read the merged state back.
func TestMergeFlow(t *testing.T) {
	requireServer(t)

	suffix := time.Now().UnixNano()

	var root branchResponse
	postJSON(t, "/api/branches", map[string]any{
		"name": fmt.Sprintf("main-%d", suffix),
	}, &root)
	if root.ID == "" {
		t.Fatalf("expected branch id, got %+v", root)
	}

	var seeded versionResponse
	postJSON(t, "/api/entities", map[string]any{
		"entityType": "settlement",
		"entityId":   "11111111-2222-3333-4444-555555555555",
		"branchId":   root.ID,
		"worldTime":  100,
		"payload": map[string]any{
			"name":      "Port Ashen",
			"resources": map[string]any{"gold": 500},
		},
	}, &seeded)
	if seeded.Version != 1 {
		t.Fatalf("expected version 1, got %+v", seeded)
	}
	entityID := seeded.EntityID

	var fork branchResponse
	postJSON(t, "/api/branches/fork", map[string]any{
		"name":           fmt.Sprintf("what-if-%d", suffix),
		"parentBranchId": root.ID,
		"forkWorldTime":  150,
	}, &fork)

	// The fork inherits the parent's state before any local edit.
	var inherited versionResponse
	getJSON(t, "/api/entities?"+entityQuery("settlement", entityID, fork.ID, 160), &inherited)
	if inherited.BranchID != root.ID {
		t.Fatalf("expected inherited version from parent, got %+v", inherited)
	}

	// Diverge: both sides touch the same leaf.
	postJSON(t, "/api/entities", map[string]any{
		"entityType": "settlement",
		"entityId":   entityID,
		"branchId":   fork.ID,
		"worldTime":  160,
		"payload": map[string]any{
			"name":      "Port Ashen",
			"resources": map[string]any{"gold": 800},
		},
	}, nil)
	postJSON(t, "/api/entities", map[string]any{
		"entityType": "settlement",
		"entityId":   entityID,
		"branchId":   root.ID,
		"worldTime":  170,
		"payload": map[string]any{
			"name":      "Port Ashen",
			"resources": map[string]any{"gold": 600},
		},
	}, nil)

	var preview struct {
		TotalConflicts           int  `json:"totalConflicts"`
		RequiresManualResolution bool `json:"requiresManualResolution"`
		Entities                 []struct {
			Conflicts []struct {
				Path string `json:"path"`
			} `json:"conflicts"`
		} `json:"entities"`
	}
	postJSON(t, "/api/merge/preview", map[string]any{
		"sourceBranchId": fork.ID,
		"targetBranchId": root.ID,
		"worldTime":      200,
	}, &preview)
	if preview.TotalConflicts != 1 || !preview.RequiresManualResolution {
		t.Fatalf("expected one conflict, got %+v", preview)
	}
	if preview.Entities[0].Conflicts[0].Path != "resources.gold" {
		t.Fatalf("unexpected conflict path: %+v", preview)
	}

	// Execute without resolutions must be rejected without writing anything.
	status := doJSON(t, http.MethodPost, "/api/merge/execute", map[string]any{
		"sourceBranchId": fork.ID,
		"targetBranchId": root.ID,
		"worldTime":      200,
	}, nil)
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unresolved conflicts, got %d", status)
	}

	var result struct {
		Success         bool `json:"success"`
		VersionsCreated int  `json:"versionsCreated"`
	}
	postJSON(t, "/api/merge/execute", map[string]any{
		"sourceBranchId": fork.ID,
		"targetBranchId": root.ID,
		"worldTime":      200,
		"resolutions": []map[string]any{{
			"entityType":    "settlement",
			"entityId":      entityID,
			"path":          "resources.gold",
			"resolvedValue": 700,
		}},
	}, &result)
	if !result.Success || result.VersionsCreated != 1 {
		t.Fatalf("unexpected merge result: %+v", result)
	}

	var merged versionResponse
	getJSON(t, "/api/entities?"+entityQuery("settlement", entityID, root.ID, 250), &merged)
	resources, _ := merged.Payload["resources"].(map[string]any)
	if resources["gold"] != float64(700) {
		t.Fatalf("expected merged gold 700, got %+v", merged.Payload)
	}

	// Pre-merge instants still resolve to the superseded version.
	var before versionResponse
	getJSON(t, "/api/entities?"+entityQuery("settlement", entityID, root.ID, 199), &before)
	if res, _ := before.Payload["resources"].(map[string]any); res["gold"] != float64(600) {
		t.Fatalf("expected pre-merge gold 600, got %+v", before.Payload)
	}

	var history []versionResponse
	getJSON(t, "/api/entities/history?"+entityQuery("settlement", entityID, root.ID, 0), &history)
	if len(history) != 3 {
		t.Fatalf("expected 3 versions on target, got %d", len(history))
	}
}

func TestBranchAncestry(t *testing.T) {
	requireServer(t)

	suffix := time.Now().UnixNano()

	var root branchResponse
	postJSON(t, "/api/branches", map[string]any{"name": fmt.Sprintf("root-%d", suffix)}, &root)

	var child branchResponse
	postJSON(t, "/api/branches/fork", map[string]any{
		"name":           fmt.Sprintf("child-%d", suffix),
		"parentBranchId": root.ID,
		"forkWorldTime":  10,
	}, &child)

	var chain []branchResponse
	getJSON(t, "/api/branches/ancestry?id="+child.ID, &chain)
	if len(chain) != 2 || chain[0].ID != child.ID || chain[1].ID != root.ID {
		t.Fatalf("unexpected ancestry chain: %+v", chain)
	}
}
