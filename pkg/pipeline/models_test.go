package pipeline

import "testing"

func TestPhaseChainCoversAllPhases(t *testing.T) {
	status := StatusPending
	var visited []string
	for {
		phase, ok := nextPhase(status)
		if !ok {
			break
		}
		visited = append(visited, phase)
		status = completedStatus[phase]
		if status == StatusMappingDrafted {
			// The human approval gate is the only manual transition.
			if !CanTransition(status, StatusMappingApproved) {
				t.Fatal("mapping_drafted cannot reach mapping_approved")
			}
			status = StatusMappingApproved
		}
	}
	if status != StatusCompleted {
		t.Fatalf("chain ended at %q, want %q", status, StatusCompleted)
	}
	if len(visited) != len(phaseOrder) {
		t.Fatalf("chain visited %v, want %v", visited, phaseOrder)
	}
	for i, phase := range phaseOrder {
		if visited[i] != phase {
			t.Errorf("phase %d = %q, want %q", i, visited[i], phase)
		}
	}
}

func TestFailedReachableFromEveryRunningStatus(t *testing.T) {
	for _, phase := range phaseOrder {
		running := runningStatus[phase]
		if !CanTransition(running, StatusFailed) {
			t.Errorf("%s cannot fail", running)
		}
		if !CanTransition(running, completedStatus[phase]) {
			t.Errorf("%s cannot complete", running)
		}
	}
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	for _, terminal := range []string{StatusCompleted, StatusFailed} {
		if len(validTransitions[terminal]) != 0 {
			t.Errorf("%s has exits %v, want none", terminal, validTransitions[terminal])
		}
	}
}

func TestMappingDraftedAllowsRedraft(t *testing.T) {
	if !CanTransition(StatusMappingDrafted, StatusDraftingMapping) {
		t.Error("a rejected draft cannot be re-drafted")
	}
	if CanTransition(StatusMappingDrafted, StatusTransforming) {
		t.Error("transform reachable without approval")
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	run := &Run{}
	want := map[string]Checkpoint{
		"patients":     {Cursor: "200", Processed: 200},
		"appointments": {Processed: 531, Done: true},
	}
	if err := run.SetCheckpoints(want); err != nil {
		t.Fatalf("SetCheckpoints: %v", err)
	}
	got, err := run.CheckpointMap()
	if err != nil {
		t.Fatalf("CheckpointMap: %v", err)
	}
	if len(got) != 2 || got["patients"] != want["patients"] || got["appointments"] != want["appointments"] {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}

	empty := &Run{}
	got, err = empty.CheckpointMap()
	if err != nil || got == nil || len(got) != 0 {
		t.Errorf("empty checkpoints = %+v, %v", got, err)
	}
}
