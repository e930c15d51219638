package domain

import "testing"

func TestDeepEqualNumericWidening(t *testing.T) {
	if !deepEqual(int64(1500), float64(1500)) {
		t.Fatalf("expected int64 and float64 of equal value to compare equal")
	}
	if deepEqual(float64(1500), float64(1501)) {
		t.Fatalf("expected differing numbers to compare unequal")
	}
	if deepEqual(float64(0), "0") {
		t.Fatalf("number and string must not compare equal")
	}
}

func TestPayloadsEqualNilHandling(t *testing.T) {
	if !PayloadsEqual(nil, nil) {
		t.Fatalf("two nil payloads must be equal")
	}
	if PayloadsEqual(nil, Payload{}) {
		t.Fatalf("nil payload and empty record are distinct states")
	}
}

func TestClonePayloadIsDeep(t *testing.T) {
	original := Payload{
		"nested": map[string]any{"gold": float64(1)},
		"tags":   []any{"a", "b"},
	}
	cloned := ClonePayload(original)
	cloned["nested"].(map[string]any)["gold"] = float64(2)
	cloned["tags"].([]any)[0] = "z"

	if original["nested"].(map[string]any)["gold"] != float64(1) {
		t.Fatalf("nested map shared between clone and original")
	}
	if original["tags"].([]any)[0] != "a" {
		t.Fatalf("sequence shared between clone and original")
	}
}

func TestSetPayloadValueCreatesIntermediateRecords(t *testing.T) {
	payload := Payload{}
	if err := setPayloadValue(payload, "resources.vault.gems", float64(3)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	vault := payload["resources"].(map[string]any)["vault"].(map[string]any)
	if vault["gems"] != float64(3) {
		t.Fatalf("expected nested write, got %+v", payload)
	}
}

func TestSetPayloadValueNilRemovesLeaf(t *testing.T) {
	payload := Payload{"resources": map[string]any{"gold": float64(5)}}
	if err := setPayloadValue(payload, "resources.gold", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, exists := payload["resources"].(map[string]any)["gold"]; exists {
		t.Fatalf("expected leaf removal, got %+v", payload)
	}
}

func TestSetPayloadValueRejectsScalarTraversal(t *testing.T) {
	payload := Payload{"name": "Keep"}
	if err := setPayloadValue(payload, "name.length", float64(4)); err == nil {
		t.Fatalf("expected error traversing through a scalar")
	}
}
