package assist

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/clinicore/migration/pkg/common/logger"
	"github.com/clinicore/migration/pkg/provider"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

func classify(t *testing.T, form FormTemplate) FormClassification {
	t.Helper()
	result, err := NewOffline().ClassifyForm(context.Background(), form)
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}
	return result
}

func TestClassifyConsentForm(t *testing.T) {
	result := classify(t, FormTemplate{ID: "f1", Name: "Botox Consent Form"})
	if result.Category != FormConsent {
		t.Fatalf("expected consent, got %s", result.Category)
	}
	if result.ChartData != nil {
		t.Fatal("consent forms carry no chart data")
	}
}

func TestClassifyIntakeForm(t *testing.T) {
	result := classify(t, FormTemplate{ID: "f2", Name: "New Patient Intake Form"})
	if result.Category != FormIntake {
		t.Fatalf("expected intake, got %s", result.Category)
	}
}

func TestClassifyInternalFormSkipped(t *testing.T) {
	result := classify(t, FormTemplate{ID: "f3", Name: "Staff Check-In Form"})
	if result.Category != FormSkip {
		t.Fatalf("expected skip, got %s", result.Category)
	}
}

func TestClassifyClinicalChartSynthesizesNarrative(t *testing.T) {
	form := FormTemplate{
		ID:   "f4",
		Name: "Patient Treatment Chart",
		Fields: []provider.FormField{
			{Label: "Treatment Summary", Type: "heading"},
			{Label: "Area Treated", Type: "text", Value: "Glabella"},
			{Label: "Units Used", Type: "text", Value: "20"},
			{Label: "Products", Type: "select", Selected: []string{"Botox", "Filler"}},
			{Label: "Complications", Type: "text", Value: ""},
			{Label: "Provider Signature", Type: "signature", Value: "sig.png"},
			{Label: "Before Photo", Type: "image", Value: "img.png"},
		},
	}

	result := classify(t, form)
	if result.Category != FormClinicalChart {
		t.Fatalf("expected clinical_chart, got %s", result.Category)
	}
	if result.ChartData == nil {
		t.Fatal("expected chart data")
	}

	narrative := result.ChartData.NarrativeText
	for _, label := range []string{"Area Treated", "Units Used", "Products"} {
		if !strings.Contains(narrative, label) {
			t.Fatalf("narrative missing label %q: %q", label, narrative)
		}
	}
	for _, excluded := range []string{"Treatment Summary", "Complications", "Provider Signature", "Before Photo"} {
		if strings.Contains(narrative, excluded) {
			t.Fatalf("narrative should not contain %q: %q", excluded, narrative)
		}
	}
	if !strings.Contains(narrative, "Botox, Filler") {
		t.Fatalf("narrative should include selected options: %q", narrative)
	}
	if result.ChartData.FieldCount != 3 {
		t.Fatalf("expected 3 narrative fields, got %d", result.ChartData.FieldCount)
	}
}

func TestClassifyUnknownDefaultsToConsentLowConfidence(t *testing.T) {
	result := classify(t, FormTemplate{ID: "f5", Name: "Quarterly Newsletter Signup"})
	if result.Category != FormConsent {
		t.Fatalf("expected consent default, got %s", result.Category)
	}
	if result.Confidence >= 0.7 {
		t.Fatalf("expected confidence below 0.7, got %f", result.Confidence)
	}
	if result.Reasoning == "" {
		t.Fatal("expected reasoning for default classification")
	}
}
