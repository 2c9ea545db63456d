package assist

import (
	"context"
	"testing"

	"github.com/clinicore/migration/pkg/common/models"
)

func TestFallbackMapsExactNames(t *testing.T) {
	source := []SourceService{
		{ID: "s1", Name: "Botox"},
		{ID: "s2", Name: "  dermal FILLER "},
		{ID: "s3", Name: "Laser Hair Removal"},
	}
	targets := []models.ServiceRef{
		{ID: "t1", Name: "botox"},
		{ID: "t2", Name: "Dermal Filler"},
	}

	proposals, err := NewOffline().ProposeServiceMappings(context.Background(), source, targets)
	if err != nil {
		t.Fatalf("propose failed: %v", err)
	}
	if len(proposals) != 3 {
		t.Fatalf("expected 3 proposals, got %d", len(proposals))
	}

	byID := make(map[string]MappingProposal)
	for _, p := range proposals {
		byID[p.SourceID] = p
	}

	if p := byID["s1"]; p.Action != ActionMapExisting || p.TargetID != "t1" || p.Confidence != confidenceExactName {
		t.Fatalf("expected s1 map_existing to t1, got %+v", p)
	}
	if p := byID["s2"]; p.Action != ActionMapExisting || p.TargetID != "t2" {
		t.Fatalf("expected whitespace/case-insensitive match for s2, got %+v", p)
	}
	if p := byID["s3"]; p.Action != ActionCreateNew || p.Confidence != confidenceCreateNew {
		t.Fatalf("expected create_new for unmatched s3, got %+v", p)
	}
	for _, p := range proposals {
		if p.Reasoning == "" {
			t.Fatalf("proposal %s missing reasoning", p.SourceID)
		}
	}
}

func TestFallbackIsDeterministic(t *testing.T) {
	source := []SourceService{{ID: "s1", Name: "Peel"}, {ID: "s2", Name: "Facial"}}
	targets := []models.ServiceRef{{ID: "t9", Name: "Facial"}}

	first, _ := NewOffline().ProposeServiceMappings(context.Background(), source, targets)
	second, _ := NewOffline().ProposeServiceMappings(context.Background(), source, targets)
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("fallback not deterministic at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}
