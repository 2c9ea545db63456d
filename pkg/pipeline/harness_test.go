package pipeline

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"testing"

	"github.com/clinicore/migration/pkg/artifact"
	"github.com/clinicore/migration/pkg/assist"
	"github.com/clinicore/migration/pkg/common/logger"
	"github.com/clinicore/migration/pkg/common/models"
	"github.com/clinicore/migration/pkg/entitymap"
	"github.com/clinicore/migration/pkg/miglog"
	"github.com/clinicore/migration/pkg/provider"
	"github.com/clinicore/migration/pkg/target"
	"github.com/clinicore/migration/pkg/vault"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

const testVaultKey = "a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1"

// stubProvider serves fixed records with cursor pagination and counts every
// fetch so tests can assert that resume never refetches a served page.
type stubProvider struct {
	vendor      string
	caps        provider.CapabilitySet
	data        map[string][]map[string]interface{}
	byPatient   map[string]map[string][]map[string]interface{} // entity -> patient -> records
	pageSize    int
	fetchCounts map[string]int // "<entity>@<cursor>" -> times served
}

func newStubProvider(vendor string) *stubProvider {
	return &stubProvider{
		vendor:      vendor,
		caps:        provider.NewCapabilitySet(),
		data:        make(map[string][]map[string]interface{}),
		byPatient:   make(map[string]map[string][]map[string]interface{}),
		pageSize:    50,
		fetchCounts: make(map[string]int),
	}
}

func (s *stubProvider) serve(entity string, records []map[string]interface{}) {
	s.data[entity] = records
	s.caps[entity] = provider.Capability{Entity: entity}
}

func (s *stubProvider) Vendor() string                       { return s.vendor }
func (s *stubProvider) Capabilities() provider.CapabilitySet { return s.caps }

func (s *stubProvider) TestConnection(context.Context, provider.Credentials) (provider.ConnectionStatus, error) {
	return provider.ConnectionStatus{Connected: true}, nil
}

func (s *stubProvider) Fetch(_ context.Context, _ provider.Credentials, entity string, req provider.PageRequest) (provider.Page, error) {
	s.fetchCounts[entity+"@"+req.Cursor]++
	records := s.data[entity]
	start := 0
	if req.Cursor != "" {
		n, err := strconv.Atoi(req.Cursor)
		if err != nil {
			return provider.Page{}, fmt.Errorf("bad cursor %q", req.Cursor)
		}
		start = n
	}
	end := start + s.pageSize
	if end > len(records) {
		end = len(records)
	}
	page := provider.Page{Data: cloneRecords(records[start:end]), TotalCount: len(records)}
	if end < len(records) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func (s *stubProvider) FetchByPatient(_ context.Context, _ provider.Credentials, entity, patientSourceID string, _ provider.PageRequest) (provider.Page, error) {
	records := s.byPatient[entity][patientSourceID]
	return provider.Page{Data: cloneRecords(records), TotalCount: len(records)}, nil
}

func (s *stubProvider) FetchFormContent(context.Context, provider.Credentials, string) ([]provider.FormField, error) {
	return nil, nil
}

func cloneRecords(records []map[string]interface{}) []map[string]interface{} {
	out := make([]map[string]interface{}, len(records))
	for i, rec := range records {
		clone := make(map[string]interface{}, len(rec))
		for k, v := range rec {
			clone[k] = v
		}
		out[i] = clone
	}
	return out
}

type harness struct {
	orch      *Orchestrator
	runs      *MemRunStore
	specs     *MemSpecStore
	artifacts *artifact.MemStore
	entities  *entitymap.MemStore
	log       *miglog.MemRecorder
	target    *target.MemStore
	pause     *MemPauseFlag
	events    *MemPublisher
	provider  *stubProvider
}

func newHarness(t *testing.T, batchSize int) *harness {
	t.Helper()
	credVault, err := vault.New(testVaultKey)
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}

	stub := newStubProvider("stubvendor")
	registry := provider.NewRegistry()
	registry.Register(stub)

	h := &harness{
		runs:      NewMemRunStore(),
		specs:     NewMemSpecStore(),
		artifacts: artifact.NewMemStore(),
		entities:  entitymap.NewMemStore(),
		log:       miglog.NewMemRecorder(),
		target:    target.NewMemStore(),
		pause:     NewMemPauseFlag(),
		events:    NewMemPublisher(),
		provider:  stub,
	}
	h.orch = NewOrchestrator(Deps{
		Runs:      h.runs,
		Specs:     h.specs,
		Artifacts: h.artifacts,
		Entities:  h.entities,
		Log:       h.log,
		Target:    h.target,
		Providers: registry,
		Vault:     credVault,
		Assistant: assist.NewOffline(),
		Pause:     h.pause,
		Events:    h.events,
	}, Options{BatchSize: batchSize, PhoneDefaultCountry: "1", NamePrefixLen: 3})
	return h
}

func (h *harness) startRun(t *testing.T) *Run {
	t.Helper()
	run, err := h.orch.Start(context.Background(), models.StartRunRequest{
		ClinicID:    "clinic-1",
		Vendor:      "stubvendor",
		Credentials: map[string]string{"api_key": "test-key"},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return run
}

// runToCompletion drives the run through the approval gate to its end state.
func (h *harness) runToCompletion(t *testing.T, runID string) *Run {
	t.Helper()
	ctx := context.Background()
	err := h.orch.RunAll(ctx, runID)
	if err != nil && err != ErrApprovalRequired {
		t.Fatalf("RunAll before approval: %v", err)
	}
	if err == ErrApprovalRequired {
		if _, err := h.orch.ApproveMapping(ctx, runID, "reviewer-1"); err != nil {
			t.Fatalf("ApproveMapping: %v", err)
		}
		if err := h.orch.RunAll(ctx, runID); err != nil {
			t.Fatalf("RunAll after approval: %v", err)
		}
	}
	run, err := h.runs.Get(ctx, runID)
	if err != nil {
		t.Fatalf("Get run: %v", err)
	}
	return run
}

func entriesWithStatus(entries []miglog.Entry, entity, status string) []miglog.Entry {
	var out []miglog.Entry
	for _, e := range entries {
		if e.EntityType == entity && e.Status == status {
			out = append(out, e)
		}
	}
	return out
}
