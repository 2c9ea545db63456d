package assist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/clinicore/migration/pkg/common/logger"
	"github.com/clinicore/migration/pkg/common/models"
)

// Mapping actions for source services.
const (
	ActionMapExisting = "map_existing"
	ActionCreateNew   = "create_new"
	ActionSkip        = "skip"
	ActionNeedsInput  = "needs_input"
)

const (
	confidenceExactName = 0.95
	confidenceCreateNew = 0.6
)

type SourceService struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type MappingProposal struct {
	SourceID   string  `json:"source_id"`
	SourceName string  `json:"source_name"`
	Action     string  `json:"action"`
	TargetID   string  `json:"target_id,omitempty"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

const mappingSystemPrompt = `You map a clinic's source services onto existing target services.
For each source service choose one action: map_existing, create_new, skip, needs_input.
Respond with a JSON object {"proposals": [{"source_id": string, "action": string, "target_id": string, "confidence": number, "reasoning": string}]}.`

// ProposeServiceMappings proposes an action per source service. The
// deterministic fallback maps exact case-insensitive name matches onto the
// existing target service and proposes creation for everything else.
func (a *Assistant) ProposeServiceMappings(ctx context.Context, source []SourceService, targets []models.ServiceRef) ([]MappingProposal, error) {
	proposals := fallbackProposals(source, targets)

	if !a.client.Enabled() {
		return proposals, nil
	}

	payload, err := json.Marshal(map[string]interface{}{
		"source_services": source,
		"target_services": targets,
	})
	if err != nil {
		return nil, err
	}

	var reply struct {
		Proposals []MappingProposal `json:"proposals"`
	}
	err = a.client.Complete(ctx, mappingSystemPrompt, string(payload), &reply)
	if errors.Is(err, ErrRateLimited) {
		logger.Log.Warn("assistant rate limited, using deterministic service mapping")
		return proposals, nil
	}
	if err != nil {
		return nil, err
	}

	// Merge: the assistant may refine action/target for known source ids but
	// can never introduce services that do not exist.
	byID := make(map[string]MappingProposal, len(reply.Proposals))
	for _, p := range reply.Proposals {
		if validAction(p.Action) {
			byID[p.SourceID] = p
		}
	}
	for i, p := range proposals {
		if refined, ok := byID[p.SourceID]; ok {
			refined.SourceName = p.SourceName
			proposals[i] = refined
		}
	}
	return proposals, nil
}

func fallbackProposals(source []SourceService, targets []models.ServiceRef) []MappingProposal {
	targetByName := make(map[string]models.ServiceRef, len(targets))
	for _, t := range targets {
		targetByName[normalizeServiceName(t.Name)] = t
	}

	proposals := make([]MappingProposal, 0, len(source))
	for _, svc := range source {
		if target, ok := targetByName[normalizeServiceName(svc.Name)]; ok {
			proposals = append(proposals, MappingProposal{
				SourceID:   svc.ID,
				SourceName: svc.Name,
				Action:     ActionMapExisting,
				TargetID:   target.ID,
				Confidence: confidenceExactName,
				Reasoning:  fmt.Sprintf("Source service name matches existing target service %q exactly (case-insensitive).", target.Name),
			})
			continue
		}
		proposals = append(proposals, MappingProposal{
			SourceID:   svc.ID,
			SourceName: svc.Name,
			Action:     ActionCreateNew,
			Confidence: confidenceCreateNew,
			Reasoning:  "No existing target service shares this name; proposing creation.",
		})
	}
	return proposals
}

func normalizeServiceName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

func validAction(a string) bool {
	switch a {
	case ActionMapExisting, ActionCreateNew, ActionSkip, ActionNeedsInput:
		return true
	}
	return false
}
