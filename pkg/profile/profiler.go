package profile

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

type FieldProfile struct {
	Name               string  `json:"name"`
	InferredType       string  `json:"inferred_type"` // string, number, boolean, date, object, array, null
	NullRate           float64 `json:"null_rate"`
	UniqueRate         float64 `json:"unique_rate"`
	SampleDistribution string  `json:"sample_distribution,omitempty"`
	PHI                bool    `json:"phi"`
}

type EntityProfile struct {
	Entity      string         `json:"entity"`
	RecordCount int            `json:"record_count"`
	Fields      []FieldProfile `json:"fields"`
}

type compiledPHIRule struct {
	name string
	re   *regexp.Regexp
}

var phiValueRules = []compiledPHIRule{
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"email", regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
	{"phone", regexp.MustCompile(`\b\d{3}[-.\s]?\d{3}[-.\s]?\d{4}\b|\(\d{3}\)\s?\d{3}-\d{4}`)},
	{"dob", regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b|\b\d{1,2}/\d{1,2}/\d{4}\b`)},
}

var phiFieldKeywords = []string{
	"name", "email", "phone", "mobile", "dob", "birth", "ssn",
	"address", "street", "city", "zip", "postal", "note", "notes",
}

const maxDistinctForDistribution = 6

// Build computes the statistical profile of one entity's raw records. The
// profile feeds the safe-context builder; it is the only thing the external
// assistant ever sees about source data.
func Build(entity string, records []map[string]interface{}) EntityProfile {
	prof := EntityProfile{Entity: entity, RecordCount: len(records)}
	if len(records) == 0 {
		return prof
	}

	fieldNames := collectFieldNames(records)
	for _, name := range fieldNames {
		prof.Fields = append(prof.Fields, profileField(name, records))
	}
	return prof
}

func collectFieldNames(records []map[string]interface{}) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, rec := range records {
		for k := range rec {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				names = append(names, k)
			}
		}
	}
	sort.Strings(names)
	return names
}

func profileField(name string, records []map[string]interface{}) FieldProfile {
	total := len(records)
	nulls := 0
	typeCounts := make(map[string]int)
	distinct := make(map[string]int)
	phiHits := 0
	nonNull := 0

	for _, rec := range records {
		value, present := rec[name]
		if !present || value == nil {
			nulls++
			continue
		}
		if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
			nulls++
			continue
		}
		nonNull++

		t := inferType(value)
		typeCounts[t]++
		distinct[fmt.Sprintf("%v", value)]++

		if s, ok := value.(string); ok && matchesPHIRule(s) {
			phiHits++
		}
	}

	field := FieldProfile{
		Name:         name,
		InferredType: dominantType(typeCounts),
		NullRate:     float64(nulls) / float64(total),
	}
	if nonNull > 0 {
		field.UniqueRate = float64(len(distinct)) / float64(nonNull)
	}
	field.SampleDistribution = distributionSummary(field.InferredType, distinct, nonNull)
	field.PHI = isPHIFieldName(name) || (nonNull > 0 && float64(phiHits)/float64(nonNull) > 0.3)
	return field
}

func inferType(value interface{}) string {
	switch v := value.(type) {
	case bool:
		return "boolean"
	case float64, float32, int, int64:
		return "number"
	case map[string]interface{}:
		return "object"
	case []interface{}:
		return "array"
	case string:
		if looksLikeDate(v) {
			return "date"
		}
		return "string"
	default:
		return "string"
	}
}

func looksLikeDate(s string) bool {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02", time.RFC3339, "01/02/2006"} {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

func dominantType(counts map[string]int) string {
	if len(counts) == 0 {
		return "null"
	}
	best := ""
	bestCount := -1
	for t, c := range counts {
		if c > bestCount || (c == bestCount && t < best) {
			best = t
			bestCount = c
		}
	}
	return best
}

// distributionSummary renders a short counts/percentages string for
// low-cardinality fields, e.g. "3 distinct: 60% completed, 30% cancelled,
// 10% no_show". High-cardinality or non-categorical fields get none.
func distributionSummary(inferredType string, distinct map[string]int, nonNull int) string {
	if nonNull == 0 || len(distinct) == 0 || len(distinct) > maxDistinctForDistribution {
		return ""
	}
	if inferredType != "string" && inferredType != "boolean" {
		return ""
	}
	// Every value distinct means the field is not categorical.
	if len(distinct) == nonNull && nonNull > 1 {
		return ""
	}

	type valueCount struct {
		value string
		count int
	}
	var vcs []valueCount
	for v, c := range distinct {
		vcs = append(vcs, valueCount{v, c})
	}
	sort.Slice(vcs, func(i, j int) bool {
		if vcs[i].count != vcs[j].count {
			return vcs[i].count > vcs[j].count
		}
		return vcs[i].value < vcs[j].value
	})

	parts := make([]string, 0, len(vcs))
	for _, vc := range vcs {
		pct := int(float64(vc.count) / float64(nonNull) * 100)
		parts = append(parts, fmt.Sprintf("%d%% %s", pct, vc.value))
	}
	return fmt.Sprintf("%d distinct: %s", len(vcs), strings.Join(parts, ", "))
}

func matchesPHIRule(s string) bool {
	for _, rule := range phiValueRules {
		if rule.re.MatchString(s) {
			return true
		}
	}
	return false
}

func isPHIFieldName(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range phiFieldKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
