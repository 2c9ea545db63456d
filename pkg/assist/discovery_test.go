package assist

import (
	"context"
	"testing"
)

func TestDeterministicDiscoveryIssues(t *testing.T) {
	input := DiscoveryInput{
		Patients: []map[string]interface{}{
			{"id": "p1", "email": "a@x.com"},
			{"id": "p2", "email": "A@X.COM"},
			{"id": "p3", "email": ""},
			{"id": "p4"},
		},
		Services: []map[string]interface{}{
			{"id": "s1", "name": "Botox"},
			{"id": "s2", "name": "botox "},
			{"id": "s3", "name": "Filler"},
		},
		Appointments: []map[string]interface{}{
			{"id": "a1", "patient_id": "p1", "service_id": "s1", "provider_name": "Dr. Reyes"},
			{"id": "a2", "patient_id": "ghost", "service_id": "s3", "provider_name": "Dr. Reyes"},
			{"id": "a3", "patient_id": "p2", "service_id": "missing", "provider_name": "Dr. Chen"},
		},
	}

	summary, err := NewOffline().Discover(context.Background(), input)
	if err != nil {
		t.Fatalf("discover failed: %v", err)
	}

	if summary.EntityCounts["patients"] != 4 || summary.EntityCounts["services"] != 3 || summary.EntityCounts["appointments"] != 3 {
		t.Fatalf("unexpected counts: %+v", summary.EntityCounts)
	}

	issues := make(map[string]DataIssue)
	for _, issue := range summary.Issues {
		issues[issue.Code] = issue
	}

	if issues["missing_email"].Count != 2 {
		t.Fatalf("expected 2 missing emails, got %+v", issues["missing_email"])
	}
	if issues["duplicate_email"].Count != 1 {
		t.Fatalf("expected 1 duplicate email, got %+v", issues["duplicate_email"])
	}
	if issues["duplicate_service_name"].Count != 1 {
		t.Fatalf("expected 1 duplicate service name, got %+v", issues["duplicate_service_name"])
	}
	if issues["unknown_patient_ref"].Count != 1 {
		t.Fatalf("expected 1 unknown patient ref, got %+v", issues["unknown_patient_ref"])
	}
	if issues["unknown_service_ref"].Count != 1 {
		t.Fatalf("expected 1 unknown service ref, got %+v", issues["unknown_service_ref"])
	}
	if summary.DistinctProviderNames != 2 {
		t.Fatalf("expected 2 distinct provider names, got %d", summary.DistinctProviderNames)
	}
}

func TestDiscoveryCleanData(t *testing.T) {
	input := DiscoveryInput{
		Patients:     []map[string]interface{}{{"id": "p1", "email": "a@x.com"}},
		Services:     []map[string]interface{}{{"id": "s1", "name": "Botox"}},
		Appointments: []map[string]interface{}{{"id": "a1", "patient_id": "p1", "service_id": "s1"}},
	}
	summary, err := NewOffline().Discover(context.Background(), input)
	if err != nil {
		t.Fatalf("discover failed: %v", err)
	}
	if len(summary.Issues) != 0 {
		t.Fatalf("expected no issues, got %+v", summary.Issues)
	}
}
