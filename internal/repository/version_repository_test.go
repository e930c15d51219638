package repository

import (
	"strings"
	"testing"

	"github.com/loreforge/loregql/internal/domain"

	"github.com/google/uuid"
)

func validWrite() domain.VersionWrite {
	return domain.VersionWrite{
		Ref:       domain.EntityRef{EntityType: "settlement", EntityID: uuid.New()},
		BranchID:  uuid.New(),
		ValidFrom: 100,
		Payload:   domain.Payload{"name": "Port Ashen"},
		CreatedBy: "gm",
	}
}

func TestValidateWriteAcceptsCompleteWrite(t *testing.T) {
	if err := validateWrite(validWrite()); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestValidateWriteRejectsMissingCoordinates(t *testing.T) {
	cases := map[string]func(*domain.VersionWrite){
		"entity type": func(w *domain.VersionWrite) { w.Ref.EntityType = "  " },
		"entity id":   func(w *domain.VersionWrite) { w.Ref.EntityID = uuid.Nil },
		"branch id":   func(w *domain.VersionWrite) { w.BranchID = uuid.Nil },
		"createdBy":   func(w *domain.VersionWrite) { w.CreatedBy = "" },
		"expected":    func(w *domain.VersionWrite) { w.ExpectedVersion = -1 },
	}

	for name, mutate := range cases {
		write := validWrite()
		mutate(&write)
		if err := validateWrite(write); err == nil {
			t.Errorf("expected validation error for missing %s", name)
		}
	}
}

func TestPrefixedVersionColumns(t *testing.T) {
	prefixed := prefixedVersionColumns("v")
	if !strings.HasPrefix(prefixed, "v.id, v.entity_type") {
		t.Fatalf("unexpected prefix result: %s", prefixed)
	}
	if strings.Contains(prefixed, ", entity_id") && !strings.Contains(prefixed, ", v.entity_id") {
		t.Fatalf("column left unprefixed: %s", prefixed)
	}
}
