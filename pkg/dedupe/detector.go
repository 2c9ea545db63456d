package dedupe

import (
	"context"
	"fmt"
	"strings"
)

// Candidate is the incoming source patient being checked against the clinic's
// existing target patients.
type Candidate struct {
	FirstName   string
	LastName    string
	Email       string
	Phone       string
	DateOfBirth string
}

// TargetPatient is the minimal view of an already-loaded patient.
type TargetPatient struct {
	ID          string
	FirstName   string
	LastName    string
	Email       string
	Phone       string
	DateOfBirth string
}

type Match struct {
	IsDuplicate      bool   `json:"is_duplicate"`
	ExistingTargetID string `json:"existing_target_id,omitempty"`
	MatchType        string `json:"match_type,omitempty"` // exact_email, exact_phone, fuzzy_name_dob
	Reasoning        string `json:"reasoning"`
	// ReviewRequired flags fuzzy matches for operator review instead of a
	// silent auto-merge; the fuzzy tier can false-positive on common first
	// names sharing a birth date.
	ReviewRequired bool `json:"review_required,omitempty"`
}

const (
	MatchExactEmail   = "exact_email"
	MatchExactPhone   = "exact_phone"
	MatchFuzzyNameDOB = "fuzzy_name_dob"
)

// PatientDirectory is the clinic-scoped lookup the target store provides.
// Phone lookups receive the canonical normalized form.
type PatientDirectory interface {
	FindPatientByEmail(ctx context.Context, clinicID, email string) (TargetPatient, bool, error)
	FindPatientByPhone(ctx context.Context, clinicID, normalizedPhone string) (TargetPatient, bool, error)
	FindPatientsByDOB(ctx context.Context, clinicID, dateOfBirth string) ([]TargetPatient, error)
}

// Detector applies the deterministic duplicate-matching tiers in strict
// priority order: exact email, exact normalized phone, fuzzy name+DOB.
// First match wins.
type Detector struct {
	dir            PatientDirectory
	defaultCountry string
	prefixLen      int
}

func NewDetector(dir PatientDirectory, defaultCountry string, prefixLen int) *Detector {
	if defaultCountry == "" {
		defaultCountry = "1"
	}
	if prefixLen <= 0 {
		prefixLen = 3
	}
	return &Detector{dir: dir, defaultCountry: defaultCountry, prefixLen: prefixLen}
}

func (d *Detector) Detect(ctx context.Context, clinicID string, c Candidate) (Match, error) {
	if email := strings.ToLower(strings.TrimSpace(c.Email)); email != "" {
		existing, found, err := d.dir.FindPatientByEmail(ctx, clinicID, email)
		if err != nil {
			return Match{}, err
		}
		if found {
			return Match{
				IsDuplicate:      true,
				ExistingTargetID: existing.ID,
				MatchType:        MatchExactEmail,
				Reasoning:        fmt.Sprintf("Email %s exactly matches existing patient %s %s.", email, existing.FirstName, existing.LastName),
			}, nil
		}
	}

	if phone := NormalizePhone(c.Phone, d.defaultCountry); phone != "" {
		existing, found, err := d.dir.FindPatientByPhone(ctx, clinicID, phone)
		if err != nil {
			return Match{}, err
		}
		if found {
			return Match{
				IsDuplicate:      true,
				ExistingTargetID: existing.ID,
				MatchType:        MatchExactPhone,
				Reasoning:        fmt.Sprintf("Phone number normalizes to %s, matching existing patient %s %s.", phone, existing.FirstName, existing.LastName),
			}, nil
		}
	}

	if match, err := d.fuzzyMatch(ctx, clinicID, c); err != nil || match.IsDuplicate {
		return match, err
	}

	return Match{Reasoning: "No existing patient matched by email, phone, or name with date of birth."}, nil
}

func (d *Detector) fuzzyMatch(ctx context.Context, clinicID string, c Candidate) (Match, error) {
	dob := strings.TrimSpace(c.DateOfBirth)
	first := strings.ToLower(strings.TrimSpace(c.FirstName))
	last := strings.ToLower(strings.TrimSpace(c.LastName))
	if dob == "" || first == "" || last == "" {
		return Match{}, nil
	}

	candidates, err := d.dir.FindPatientsByDOB(ctx, clinicID, dob)
	if err != nil {
		return Match{}, err
	}

	for _, existing := range candidates {
		existingFirst := strings.ToLower(strings.TrimSpace(existing.FirstName))
		existingLast := strings.ToLower(strings.TrimSpace(existing.LastName))
		if existingLast != last {
			continue
		}
		if existingFirst == first || sharesPrefix(existingFirst, first, d.prefixLen) {
			return Match{
				IsDuplicate:      true,
				ExistingTargetID: existing.ID,
				MatchType:        MatchFuzzyNameDOB,
				Reasoning: fmt.Sprintf(
					"Date of birth %s and last name %q match existing patient %s %s with similar first name.",
					dob, c.LastName, existing.FirstName, existing.LastName),
				ReviewRequired: true,
			}, nil
		}
	}
	return Match{}, nil
}

func sharesPrefix(a, b string, n int) bool {
	if len(a) < n || len(b) < n {
		return false
	}
	return a[:n] == b[:n]
}

// NormalizePhone reduces a raw phone string to a canonical international
// form: 10 digits get the default country code, 11 digits with a leading
// country digit are kept, anything else is prefixed as-is.
func NormalizePhone(raw, defaultCountry string) string {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	n := digits.String()
	if n == "" {
		return ""
	}

	switch {
	case len(n) == 10:
		return "+" + defaultCountry + n
	case len(n) == 11 && strings.HasPrefix(n, defaultCountry):
		return "+" + n
	default:
		return "+" + n
	}
}
