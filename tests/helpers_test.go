package tests

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
)

const baseURL = "http://localhost:8080"

// requireServer skips the test when no server is listening locally.
func requireServer(t *testing.T) {
	t.Helper()
	conn, err := net.Dial("tcp", "localhost:8080")
	if err != nil {
		t.Skipf("server not running on :8080, skipping integration test: %v", err)
	}
	_ = conn.Close()
}

func doJSON(t *testing.T, method, path string, payload any, out any) int {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal request: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, baseURL+path, body)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor", "integration-test")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("failed to make request: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	if out != nil && len(raw) > 0 && resp.StatusCode < 300 {
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("failed to parse response: %v\nRaw: %s", err, string(raw))
		}
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, path string, payload any, out any) {
	t.Helper()
	status := doJSON(t, http.MethodPost, path, payload, out)
	if status >= 300 {
		t.Fatalf("POST %s returned %d", path, status)
	}
}

func getJSON(t *testing.T, path string, out any) {
	t.Helper()
	status := doJSON(t, http.MethodGet, path, nil, out)
	if status >= 300 {
		t.Fatalf("GET %s returned %d", path, status)
	}
}

type branchResponse struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ParentBranchID string `json:"parentBranchId"`
	ForkWorldTime  *int64 `json:"forkWorldTime"`
}

type versionResponse struct {
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	BranchID   string         `json:"branchId"`
	Version    int64          `json:"version"`
	ValidFrom  int64          `json:"validFrom"`
	ValidTo    *int64         `json:"validTo"`
	Payload    map[string]any `json:"payload"`
}

func entityQuery(entityType, entityID, branchID string, worldTime int64) string {
	return fmt.Sprintf("entityType=%s&entityId=%s&branchId=%s&worldTime=%d",
		entityType, entityID, branchID, worldTime)
}
