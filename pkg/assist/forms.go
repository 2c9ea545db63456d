package assist

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/clinicore/migration/pkg/common/logger"
	"github.com/clinicore/migration/pkg/provider"
)

const (
	FormConsent       = "consent"
	FormIntake        = "intake"
	FormClinicalChart = "clinical_chart"
	FormSkip          = "skip"
)

type FormTemplate struct {
	ID     string               `json:"id"`
	Name   string               `json:"name"`
	Fields []provider.FormField `json:"fields,omitempty"`
}

type ChartData struct {
	NarrativeText string `json:"narrative_text"`
	FieldCount    int    `json:"field_count"`
}

type FormClassification struct {
	FormID     string     `json:"form_id"`
	FormName   string     `json:"form_name"`
	Category   string     `json:"category"`
	Confidence float64    `json:"confidence"`
	Reasoning  string     `json:"reasoning"`
	ChartData  *ChartData `json:"chart_data,omitempty"`
}

const formSystemPrompt = `You classify clinic form templates into one of: consent, intake, clinical_chart, skip.
Respond with a JSON object {"category": string, "confidence": number, "reasoning": string}.`

// ClassifyForm routes a source form template into its destination family.
// The keyword classifier is authoritative when no assistant is configured or
// the assistant is rate limited; unmatched names default to consent at low
// confidence because consent forms are the safest fallback destination.
func (a *Assistant) ClassifyForm(ctx context.Context, form FormTemplate) (FormClassification, error) {
	result := a.classifyByKeywords(form)

	if a.client.Enabled() {
		var reply struct {
			Category   string  `json:"category"`
			Confidence float64 `json:"confidence"`
			Reasoning  string  `json:"reasoning"`
		}
		payload := fmt.Sprintf(`{"template_name": %q}`, form.Name)
		err := a.client.Complete(ctx, formSystemPrompt, payload, &reply)
		switch {
		case err == nil && validFormCategory(reply.Category):
			result.Category = reply.Category
			result.Confidence = reply.Confidence
			result.Reasoning = reply.Reasoning
		case errors.Is(err, ErrRateLimited):
			logger.Log.WithField("form", form.Name).Warn("assistant rate limited, using keyword classification")
		case err != nil:
			return FormClassification{}, err
		}
	}

	if result.Category == FormClinicalChart {
		result.ChartData = synthesizeChart(form.Fields)
	} else {
		result.ChartData = nil
	}
	return result, nil
}

func (a *Assistant) classifyByKeywords(form FormTemplate) FormClassification {
	name := strings.ToLower(form.Name)
	out := FormClassification{FormID: form.ID, FormName: form.Name}

	if kw, ok := matchKeyword(name, a.rules.Internal); ok {
		out.Category = FormSkip
		out.Confidence = 0.9
		out.Reasoning = fmt.Sprintf("Template name contains internal-form keyword %q; not patient-facing.", kw)
		return out
	}
	if kw, ok := matchKeyword(name, a.rules.Consent); ok {
		out.Category = FormConsent
		out.Confidence = 0.9
		out.Reasoning = fmt.Sprintf("Template name contains consent-family keyword %q.", kw)
		return out
	}
	if kw, ok := matchKeyword(name, a.rules.Intake); ok {
		out.Category = FormIntake
		out.Confidence = 0.9
		out.Reasoning = fmt.Sprintf("Template name contains intake-family keyword %q.", kw)
		return out
	}
	if kw, ok := matchKeyword(name, a.rules.Clinical); ok {
		out.Category = FormClinicalChart
		out.Confidence = 0.85
		out.Reasoning = fmt.Sprintf("Template name contains clinical-family keyword %q.", kw)
		return out
	}

	out.Category = FormConsent
	out.Confidence = 0.5
	out.Reasoning = "Template name matched no keyword family; defaulting to consent as the safest destination."
	return out
}

func matchKeyword(name string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(name, kw) {
			return kw, true
		}
	}
	return "", false
}

func validFormCategory(c string) bool {
	switch c {
	case FormConsent, FormIntake, FormClinicalChart, FormSkip:
		return true
	}
	return false
}

// synthesizeChart builds a narrative from the form's answered fields,
// concatenating label/value pairs in field order. Headings, signatures and
// images carry no clinical content and are skipped, as are fields with no
// value and no selected options.
func synthesizeChart(fields []provider.FormField) *ChartData {
	var lines []string
	for _, field := range fields {
		switch strings.ToLower(field.Type) {
		case "heading", "signature", "image":
			continue
		}
		value := strings.TrimSpace(field.Value)
		if value == "" && len(field.Selected) > 0 {
			value = strings.Join(field.Selected, ", ")
		}
		if value == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", field.Label, value))
	}
	return &ChartData{
		NarrativeText: strings.Join(lines, "\n"),
		FieldCount:    len(lines),
	}
}
