package profile

import (
	"regexp"
	"strings"

	"github.com/clinicore/migration/pkg/common/models"
)

const distributionPlaceholder = "[distribution available]"

// SafeField carries only statistics about a source field, never values.
type SafeField struct {
	Name               string  `json:"name"`
	Type               string  `json:"type"`
	NullRate           float64 `json:"null_rate"`
	UniqueRate         float64 `json:"unique_rate"`
	SampleDistribution string  `json:"sample_distribution,omitempty"`
}

type SafeEntity struct {
	Entity      string      `json:"entity"`
	RecordCount int         `json:"record_count"`
	Fields      []SafeField `json:"fields"`
}

// SafeContext is the PHI-free summary sent to the external assistant.
// Target services are plain id/name pairs (non-PHI) passed through for
// service-mapping context.
type SafeContext struct {
	Entities       []SafeEntity        `json:"entities"`
	TargetServices []models.ServiceRef `json:"target_services,omitempty"`
}

// BuildSafeContext converts profiles into the assistant-facing summary. A
// sample distribution survives only if it looks like counts/percentages; a
// string that appears to enumerate literal values is replaced with a fixed
// placeholder regardless of the field's PHI flag.
func BuildSafeContext(profiles []EntityProfile, targetServices []models.ServiceRef) SafeContext {
	ctx := SafeContext{TargetServices: targetServices}
	for _, prof := range profiles {
		safe := SafeEntity{Entity: prof.Entity, RecordCount: prof.RecordCount}
		for _, field := range prof.Fields {
			sf := SafeField{
				Name:       field.Name,
				Type:       field.InferredType,
				NullRate:   field.NullRate,
				UniqueRate: field.UniqueRate,
			}
			if field.SampleDistribution != "" {
				if enumeratesLiteralValues(field.SampleDistribution) {
					sf.SampleDistribution = distributionPlaceholder
				} else {
					sf.SampleDistribution = field.SampleDistribution
				}
			}
			safe.Fields = append(safe.Fields, sf)
		}
		ctx.Entities = append(ctx.Entities, safe)
	}
	return ctx
}

var properNounToken = regexp.MustCompile(`^[A-Z][a-z]+$`)

// enumeratesLiteralValues is the sanity filter: a distribution string that
// contains proper-noun-like tokens (rather than counts and percentages)
// probably leaks literal values.
func enumeratesLiteralValues(s string) bool {
	hasStats := strings.ContainsAny(s, "%0123456789")
	tokens := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == ':' || r == ';'
	})
	for _, token := range tokens {
		token = strings.Trim(token, ".()[]\"'")
		if properNounToken.MatchString(token) || strings.Contains(token, "@") {
			return true
		}
	}
	return !hasStats
}
