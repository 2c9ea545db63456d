package dedupe

import (
	"context"
	"strings"
	"testing"
)

type fakeDirectory struct {
	patients []TargetPatient
}

func (f *fakeDirectory) FindPatientByEmail(_ context.Context, _, email string) (TargetPatient, bool, error) {
	for _, p := range f.patients {
		if strings.ToLower(p.Email) == email && p.Email != "" {
			return p, true, nil
		}
	}
	return TargetPatient{}, false, nil
}

func (f *fakeDirectory) FindPatientByPhone(_ context.Context, _, normalized string) (TargetPatient, bool, error) {
	for _, p := range f.patients {
		if p.Phone != "" && NormalizePhone(p.Phone, "1") == normalized {
			return p, true, nil
		}
	}
	return TargetPatient{}, false, nil
}

func (f *fakeDirectory) FindPatientsByDOB(_ context.Context, _, dob string) ([]TargetPatient, error) {
	var out []TargetPatient
	for _, p := range f.patients {
		if p.DateOfBirth == dob {
			out = append(out, p)
		}
	}
	return out, nil
}

func TestExactEmailMatchWinsRegardlessOfOtherFields(t *testing.T) {
	dir := &fakeDirectory{patients: []TargetPatient{
		{ID: "t-1", FirstName: "Jane", LastName: "Doe", Email: "Jane.Doe@Example.com", Phone: "5551112222", DateOfBirth: "1990-01-01"},
	}}
	det := NewDetector(dir, "1", 3)

	match, err := det.Detect(context.Background(), "clinic-1", Candidate{
		FirstName:   "Completely",
		LastName:    "Different",
		Email:       "JANE.DOE@example.COM",
		Phone:       "999-999-9999",
		DateOfBirth: "1985-06-15",
	})
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if !match.IsDuplicate || match.MatchType != MatchExactEmail {
		t.Fatalf("expected exact_email match, got %+v", match)
	}
	if match.ExistingTargetID != "t-1" {
		t.Fatalf("expected target t-1, got %s", match.ExistingTargetID)
	}
	if match.Reasoning == "" || !strings.Contains(match.Reasoning, "jane.doe@example.com") {
		t.Fatalf("expected reasoning citing the email, got %q", match.Reasoning)
	}
}

func TestPhoneMatchTolerantOfFormatting(t *testing.T) {
	dir := &fakeDirectory{patients: []TargetPatient{
		{ID: "t-2", FirstName: "Ann", LastName: "Lee", Phone: "(555) 123-4567"},
	}}
	det := NewDetector(dir, "1", 3)

	for _, raw := range []string{"555.123.4567", "5551234567", "1-555-123-4567", "+1 (555) 123 4567"} {
		match, err := det.Detect(context.Background(), "clinic-1", Candidate{FirstName: "A", LastName: "B", Phone: raw})
		if err != nil {
			t.Fatalf("detect failed: %v", err)
		}
		if !match.IsDuplicate || match.MatchType != MatchExactPhone {
			t.Fatalf("expected exact_phone for %q, got %+v", raw, match)
		}
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"(555) 123-4567":  "+15551234567",
		"15551234567":     "+15551234567",
		"+44 20 7946 099": "+44207946099",
		"":                "",
		"ext":             "",
	}
	for raw, want := range cases {
		if got := NormalizePhone(raw, "1"); got != want {
			t.Fatalf("NormalizePhone(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestFuzzyNameDOBMatch(t *testing.T) {
	dir := &fakeDirectory{patients: []TargetPatient{
		{ID: "t-3", FirstName: "Katherine", LastName: "Smith", DateOfBirth: "1988-03-12"},
	}}
	det := NewDetector(dir, "1", 3)

	// Prefix-3 first name match plus exact DOB and last name.
	match, err := det.Detect(context.Background(), "clinic-1", Candidate{
		FirstName:   "Katie",
		LastName:    "SMITH",
		DateOfBirth: "1988-03-12",
	})
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if !match.IsDuplicate || match.MatchType != MatchFuzzyNameDOB {
		t.Fatalf("expected fuzzy match, got %+v", match)
	}
	if !match.ReviewRequired {
		t.Fatal("fuzzy matches must be flagged for review")
	}

	// Different last name breaks the tier.
	match, _ = det.Detect(context.Background(), "clinic-1", Candidate{
		FirstName:   "Katie",
		LastName:    "Smythe",
		DateOfBirth: "1988-03-12",
	})
	if match.IsDuplicate {
		t.Fatalf("expected no match for different last name, got %+v", match)
	}

	// Same name, different DOB breaks the tier.
	match, _ = det.Detect(context.Background(), "clinic-1", Candidate{
		FirstName:   "Katherine",
		LastName:    "Smith",
		DateOfBirth: "1989-03-12",
	})
	if match.IsDuplicate {
		t.Fatalf("expected no match for different DOB, got %+v", match)
	}
}

func TestNoMatchAtAnyTier(t *testing.T) {
	dir := &fakeDirectory{patients: []TargetPatient{
		{ID: "t-4", FirstName: "Bob", LastName: "Jones", Email: "bob@x.com", Phone: "5550001111", DateOfBirth: "1970-01-01"},
	}}
	det := NewDetector(dir, "1", 3)

	match, err := det.Detect(context.Background(), "clinic-1", Candidate{
		FirstName:   "Alice",
		LastName:    "Brown",
		Email:       "alice@y.com",
		Phone:       "5559998888",
		DateOfBirth: "1992-12-12",
	})
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if match.IsDuplicate {
		t.Fatalf("expected no duplicate, got %+v", match)
	}
	if match.Reasoning == "" {
		t.Fatal("expected reasoning even for non-matches")
	}
}
