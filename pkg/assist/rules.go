package assist

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FormRules are the keyword families driving form classification. They ship
// with compiled defaults and can be overridden from a yaml file per
// deployment.
type FormRules struct {
	Internal []string `yaml:"internal" json:"internal"`
	Consent  []string `yaml:"consent" json:"consent"`
	Intake   []string `yaml:"intake" json:"intake"`
	Clinical []string `yaml:"clinical" json:"clinical"`
}

func LoadFormRules(path string) (FormRules, error) {
	if path == "" {
		return DefaultFormRules(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultFormRules(), err
	}

	var rules FormRules
	if err := yaml.Unmarshal(content, &rules); err != nil {
		return FormRules{}, err
	}
	if len(rules.Consent) == 0 && len(rules.Intake) == 0 && len(rules.Clinical) == 0 {
		return FormRules{}, errors.New("no form classification rules configured")
	}
	return rules, nil
}

func DefaultFormRules() FormRules {
	return FormRules{
		Internal: []string{"staff", "employee", "internal", "admin", "check-in", "checkin"},
		Consent:  []string{"consent", "waiver", "release", "authorization", "agreement", "hipaa"},
		Intake:   []string{"intake", "history", "questionnaire", "registration", "new patient"},
		Clinical: []string{"chart", "treatment record", "soap", "progress note", "procedure note", "clinical"},
	}
}
