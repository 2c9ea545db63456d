package assist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/clinicore/migration/pkg/common/logger"
)

type DataIssue struct {
	Code    string `json:"code"`
	Entity  string `json:"entity"`
	Count   int    `json:"count"`
	Message string `json:"message"`
}

type DiscoverySummary struct {
	EntityCounts          map[string]int `json:"entity_counts"`
	Issues                []DataIssue    `json:"issues"`
	DistinctProviderNames int            `json:"distinct_provider_names"`
	Summary               string         `json:"summary,omitempty"`
}

// DiscoveryInput carries the raw records discovery inspects. It never leaves
// the process; only counts and issue codes reach the assistant.
type DiscoveryInput struct {
	Patients     []map[string]interface{}
	Services     []map[string]interface{}
	Appointments []map[string]interface{}
	OtherCounts  map[string]int
}

const discoverySystemPrompt = `You summarize a clinic data migration for an operator.
You receive entity counts and a list of detected data-quality issues; you never see record values.
Respond with a JSON object {"summary": string}.`

// Discover computes entity counts and data-quality issues. The deterministic
// issue list is authoritative; the assistant may only contribute the summary
// prose.
func (a *Assistant) Discover(ctx context.Context, input DiscoveryInput) (DiscoverySummary, error) {
	summary := deterministicDiscovery(input)

	if !a.client.Enabled() {
		return summary, nil
	}

	payload, err := json.Marshal(map[string]interface{}{
		"entity_counts": summary.EntityCounts,
		"issues":        summary.Issues,
	})
	if err != nil {
		return DiscoverySummary{}, err
	}

	var reply struct {
		Summary string `json:"summary"`
	}
	err = a.client.Complete(ctx, discoverySystemPrompt, string(payload), &reply)
	if errors.Is(err, ErrRateLimited) {
		logger.Log.Warn("assistant rate limited, discovery summary omitted")
		return summary, nil
	}
	if err != nil {
		return DiscoverySummary{}, err
	}
	summary.Summary = reply.Summary
	return summary, nil
}

func deterministicDiscovery(input DiscoveryInput) DiscoverySummary {
	out := DiscoverySummary{EntityCounts: map[string]int{
		"patients":     len(input.Patients),
		"services":     len(input.Services),
		"appointments": len(input.Appointments),
	}}
	for entity, count := range input.OtherCounts {
		out.EntityCounts[entity] = count
	}

	// Missing and duplicate patient emails.
	missingEmails := 0
	emailCounts := make(map[string]int)
	for _, p := range input.Patients {
		email := strings.ToLower(strings.TrimSpace(getString(p["email"])))
		if email == "" {
			missingEmails++
			continue
		}
		emailCounts[email]++
	}
	duplicateEmails := 0
	for _, c := range emailCounts {
		if c > 1 {
			duplicateEmails += c - 1
		}
	}
	if missingEmails > 0 {
		out.Issues = append(out.Issues, DataIssue{
			Code: "missing_email", Entity: "patients", Count: missingEmails,
			Message: fmt.Sprintf("%d patients have no email address.", missingEmails),
		})
	}
	if duplicateEmails > 0 {
		out.Issues = append(out.Issues, DataIssue{
			Code: "duplicate_email", Entity: "patients", Count: duplicateEmails,
			Message: fmt.Sprintf("%d patients share an email with another patient.", duplicateEmails),
		})
	}

	// Duplicate service names by normalized string equality.
	serviceIDs := make(map[string]struct{})
	nameCounts := make(map[string]int)
	for _, s := range input.Services {
		if id := getString(s["id"]); id != "" {
			serviceIDs[id] = struct{}{}
		}
		if name := normalizeServiceName(getString(s["name"])); name != "" {
			nameCounts[name]++
		}
	}
	duplicateNames := 0
	for _, c := range nameCounts {
		if c > 1 {
			duplicateNames += c - 1
		}
	}
	if duplicateNames > 0 {
		out.Issues = append(out.Issues, DataIssue{
			Code: "duplicate_service_name", Entity: "services", Count: duplicateNames,
			Message: fmt.Sprintf("%d services share a normalized name with another service.", duplicateNames),
		})
	}

	// Appointments referencing unknown services or patients.
	patientIDs := make(map[string]struct{})
	for _, p := range input.Patients {
		if id := getString(p["id"]); id != "" {
			patientIDs[id] = struct{}{}
		}
	}
	unknownService := 0
	unknownPatient := 0
	providerNames := make(map[string]struct{})
	for _, appt := range input.Appointments {
		if sid := getString(appt["service_id"]); sid != "" {
			if _, ok := serviceIDs[sid]; !ok {
				unknownService++
			}
		}
		if pid := getString(appt["patient_id"]); pid != "" {
			if _, ok := patientIDs[pid]; !ok {
				unknownPatient++
			}
		}
		if name := strings.TrimSpace(getString(appt["provider_name"])); name != "" {
			providerNames[strings.ToLower(name)] = struct{}{}
		}
	}
	if unknownService > 0 {
		out.Issues = append(out.Issues, DataIssue{
			Code: "unknown_service_ref", Entity: "appointments", Count: unknownService,
			Message: fmt.Sprintf("%d appointments reference a service id not present in the export.", unknownService),
		})
	}
	if unknownPatient > 0 {
		out.Issues = append(out.Issues, DataIssue{
			Code: "unknown_patient_ref", Entity: "appointments", Count: unknownPatient,
			Message: fmt.Sprintf("%d appointments reference a patient id not present in the export.", unknownPatient),
		})
	}
	out.DistinctProviderNames = len(providerNames)

	return out
}

func getString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case fmt.Stringer:
		return strings.TrimSpace(val.String())
	default:
		return ""
	}
}
