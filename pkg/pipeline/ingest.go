package pipeline

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/clinicore/migration/pkg/artifact"
	"github.com/clinicore/migration/pkg/common/logger"
	"github.com/clinicore/migration/pkg/common/models"
	"github.com/clinicore/migration/pkg/provider"
)

// Ingestion strategies, in resolution priority order after an explicit
// override: uploaded files, vendor API, browser automation.
const (
	StrategyUpload  = "upload"
	StrategyAPI     = "api"
	StrategyBrowser = "browser"
)

func validStrategy(s string) bool {
	switch s {
	case StrategyUpload, StrategyAPI, StrategyBrowser:
		return true
	}
	return false
}

// BrowserAgent drives a scripted browser against a vendor portal that exposes
// no API. Read-only like the provider contract.
type BrowserAgent interface {
	Open(ctx context.Context, entryURL string, creds provider.Credentials) (BrowserSession, error)
}

type BrowserSession interface {
	// DiscoverSections returns the entity types the portal exposes.
	DiscoverSections(ctx context.Context) ([]string, error)
	// Records iterates one section. The iterator returns io.EOF when
	// exhausted; a binary payload accompanies records that carry one.
	Records(ctx context.Context, section string) (RecordIterator, error)
	Close() error
}

type RecordIterator interface {
	Next(ctx context.Context) (record map[string]interface{}, binary []byte, err error)
}

func ingestKey(entity string) string {
	return "ingest/" + entity + ".json"
}

func (o *Orchestrator) runIngest(ctx context.Context, run *Run) error {
	strategy, err := o.resolveStrategy(ctx, run)
	if err != nil {
		return err
	}
	logger.Log.WithFields(map[string]interface{}{
		"run_id": run.ID, "strategy": strategy,
	}).Info("ingest starting")

	switch strategy {
	case StrategyUpload:
		return o.ingestUploads(ctx, run)
	case StrategyAPI:
		return o.ingestAPI(ctx, run)
	case StrategyBrowser:
		return o.ingestBrowser(ctx, run)
	}
	return fmt.Errorf("unknown ingestion strategy %q", strategy)
}

func (o *Orchestrator) resolveStrategy(ctx context.Context, run *Run) (string, error) {
	if run.StrategyOverride != "" {
		return run.StrategyOverride, nil
	}

	refs, err := o.artifacts.List(ctx, run.ID)
	if err != nil {
		return "", err
	}
	for _, ref := range refs {
		if strings.HasPrefix(ref.Key, "upload/") {
			return StrategyUpload, nil
		}
	}

	creds, err := o.credentials(run)
	if err != nil {
		return "", err
	}
	if !creds.Empty() {
		if _, err := o.providers.Resolve(run.Vendor); err == nil {
			return StrategyAPI, nil
		}
	}

	if run.EntryURL != "" && o.browser != nil {
		return StrategyBrowser, nil
	}
	return "", errors.New("no viable ingestion strategy: no uploads, no usable credentials, no portal entry url")
}

// --- API strategy ---

func (o *Orchestrator) ingestAPI(ctx context.Context, run *Run) error {
	p, err := o.providers.Resolve(run.Vendor)
	if err != nil {
		return err
	}
	creds, err := o.credentials(run)
	if err != nil {
		return err
	}
	caps := p.Capabilities()

	checkpoints, err := run.CheckpointMap()
	if err != nil {
		return err
	}

	// Patients first: patient-scoped entities enumerate their ids.
	for _, entity := range topLevelOrder(caps) {
		if err := o.ingestEntity(ctx, run, p, creds, entity, checkpoints); err != nil {
			return err
		}
	}
	for _, entity := range patientScopedOrder(caps) {
		if err := o.ingestPatientScoped(ctx, run, p, creds, entity, checkpoints); err != nil {
			return err
		}
	}
	return nil
}

// entityPriority fixes the fetch order: patients always lead.
var entityPriority = []string{
	models.EntityPatients, models.EntityServices, models.EntityAppointments,
	models.EntityInvoices, models.EntityForms, models.EntityDocuments,
	models.EntityPhotos, models.EntityCharts,
}

func topLevelOrder(caps provider.CapabilitySet) []string {
	var out []string
	for _, entity := range entityPriority {
		if caps.Has(entity) && !caps.PatientScoped(entity) {
			out = append(out, entity)
		}
	}
	return out
}

func patientScopedOrder(caps provider.CapabilitySet) []string {
	var out []string
	for _, entity := range entityPriority {
		if caps.Has(entity) && caps.PatientScoped(entity) {
			out = append(out, entity)
		}
	}
	return out
}

func (o *Orchestrator) ingestEntity(ctx context.Context, run *Run, p provider.Provider, creds provider.Credentials, entity string, checkpoints map[string]Checkpoint) error {
	cp := checkpoints[entity]
	if cp.Done {
		return nil
	}

	records, err := o.loadIngestedRecords(ctx, run.ID, entity)
	if err != nil {
		return err
	}
	cursor := cp.Cursor

	for {
		req := provider.PageRequest{Cursor: cursor, Limit: o.opts.BatchSize}
		page, err := o.fetchPage(ctx, p, creds, func() (provider.Page, error) {
			return p.Fetch(ctx, creds, entity, req)
		})
		if err != nil {
			return fmt.Errorf("fetch %s: %w", entity, err)
		}

		if entity == models.EntityForms {
			o.attachFormFields(ctx, p, creds, page.Data)
		}
		records = append(records, page.Data...)
		cursor = page.NextCursor

		cp = Checkpoint{Cursor: cursor, Processed: int64(len(records)), Done: cursor == ""}
		checkpoints[entity] = cp
		if err := o.saveIngestProgress(ctx, run, entity, records, checkpoints); err != nil {
			return err
		}
		if cp.Done {
			return nil
		}
		if err := o.checkPause(ctx, run.ID); err != nil {
			return err
		}
	}
}

func (o *Orchestrator) ingestPatientScoped(ctx context.Context, run *Run, p provider.Provider, creds provider.Credentials, entity string, checkpoints map[string]Checkpoint) error {
	cp := checkpoints[entity]
	if cp.Done {
		return nil
	}

	patients, err := o.loadIngestedRecords(ctx, run.ID, models.EntityPatients)
	if err != nil {
		return err
	}
	records, err := o.loadIngestedRecords(ctx, run.ID, entity)
	if err != nil {
		return err
	}

	// Checkpoint granularity is one patient: Processed counts patients fully
	// fetched, so resume skips them entirely.
	for i := int(cp.Processed); i < len(patients); i++ {
		patientID := sourceRecordID(patients[i])
		if patientID == "" {
			continue
		}
		cursor := ""
		for {
			req := provider.PageRequest{Cursor: cursor, Limit: o.opts.BatchSize}
			page, err := o.fetchPage(ctx, p, creds, func() (provider.Page, error) {
				return p.FetchByPatient(ctx, creds, entity, patientID, req)
			})
			if err != nil {
				return fmt.Errorf("fetch %s for patient %s: %w", entity, patientID, err)
			}
			for _, rec := range page.Data {
				rec["patient_source_id"] = patientID
				records = append(records, rec)
			}
			cursor = page.NextCursor
			if cursor == "" {
				break
			}
		}

		cp = Checkpoint{Processed: int64(i + 1), Done: i+1 == len(patients)}
		checkpoints[entity] = cp
		if err := o.saveIngestProgress(ctx, run, entity, records, checkpoints); err != nil {
			return err
		}
		if !cp.Done {
			if err := o.checkPause(ctx, run.ID); err != nil {
				return err
			}
		}
	}

	if !cp.Done {
		checkpoints[entity] = Checkpoint{Processed: int64(len(patients)), Done: true}
		if err := o.saveIngestProgress(ctx, run, entity, records, checkpoints); err != nil {
			return err
		}
	}
	return nil
}

// fetchPage re-authenticates and retries exactly once on session expiry when
// the provider supports deterministic re-auth.
func (o *Orchestrator) fetchPage(ctx context.Context, p provider.Provider, creds provider.Credentials, fetch func() (provider.Page, error)) (provider.Page, error) {
	if auth, ok := p.(provider.Authenticator); ok {
		return provider.FetchWithReauth(ctx, auth, creds, fetch)
	}
	return fetch()
}

func (o *Orchestrator) attachFormFields(ctx context.Context, p provider.Provider, creds provider.Credentials, forms []map[string]interface{}) {
	for _, form := range forms {
		if _, ok := form["fields"]; ok {
			continue
		}
		formID := sourceRecordID(form)
		if formID == "" {
			continue
		}
		fields, err := p.FetchFormContent(ctx, creds, formID)
		if err != nil {
			logger.Log.WithField("form_id", formID).WithError(err).Warn("failed to fetch form content")
			continue
		}
		form["fields"] = fields
	}
}

// saveIngestProgress re-puts the aggregated entity artifact and persists the
// checkpoint in one step, so any later resume sees matching state. The
// artifact store is content addressed; unchanged pages cost nothing extra.
func (o *Orchestrator) saveIngestProgress(ctx context.Context, run *Run, entity string, records []map[string]interface{}, checkpoints map[string]Checkpoint) error {
	data, err := json.Marshal(records)
	if err != nil {
		return err
	}
	if _, err := o.artifacts.Put(ctx, run.ID, ingestKey(entity), data); err != nil {
		return err
	}
	if err := run.SetCheckpoints(checkpoints); err != nil {
		return err
	}
	progress, err := run.ProgressMap()
	if err != nil {
		return err
	}
	progress[entity] = int64(len(records))
	if err := run.SetProgress(progress); err != nil {
		return err
	}
	return o.runs.Update(ctx, run)
}

func (o *Orchestrator) loadIngestedRecords(ctx context.Context, runID, entity string) ([]map[string]interface{}, error) {
	data, err := o.artifacts.Get(ctx, runID, ingestKey(entity))
	if errors.Is(err, artifact.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var records []map[string]interface{}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode %s artifact: %w", entity, err)
	}
	return records, nil
}

// --- upload strategy ---

// ingestUploads converts operator-uploaded files into per-entity ingest
// artifacts. The file stem names the entity: upload/patients.csv feeds the
// patients artifact.
func (o *Orchestrator) ingestUploads(ctx context.Context, run *Run) error {
	refs, err := o.artifacts.List(ctx, run.ID)
	if err != nil {
		return err
	}

	converted := 0
	checkpoints, err := run.CheckpointMap()
	if err != nil {
		return err
	}
	for _, ref := range refs {
		if !strings.HasPrefix(ref.Key, "upload/") {
			continue
		}
		filename := strings.TrimPrefix(ref.Key, "upload/")
		entity := strings.TrimSuffix(filename, path.Ext(filename))
		if !knownEntity(entity) {
			logger.Log.WithField("file", filename).Warn("uploaded file does not name a known entity, skipping")
			continue
		}

		data, err := o.artifacts.Get(ctx, run.ID, ref.Key)
		if err != nil {
			return err
		}
		records, err := parseUpload(filename, data)
		if err != nil {
			return fmt.Errorf("parse upload %s: %w", filename, err)
		}

		checkpoints[entity] = Checkpoint{Processed: int64(len(records)), Done: true}
		if err := o.saveIngestProgress(ctx, run, entity, records, checkpoints); err != nil {
			return err
		}
		converted++
	}

	if converted == 0 {
		return errors.New("upload strategy selected but no usable uploaded files found")
	}
	return nil
}

func parseUpload(filename string, data []byte) ([]map[string]interface{}, error) {
	switch strings.ToLower(path.Ext(filename)) {
	case ".json":
		var records []map[string]interface{}
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, err
		}
		return records, nil
	case ".csv":
		return parseCSV(data)
	}
	return nil, fmt.Errorf("unsupported upload format %q", path.Ext(filename))
}

// parseCSV maps rows onto records using the header row for field names. A
// header-only file is zero records, not an error.
func parseCSV(data []byte) ([]map[string]interface{}, error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("empty csv file")
	}
	if err != nil {
		return nil, err
	}

	var records []map[string]interface{}
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		record := make(map[string]interface{}, len(header))
		for i, name := range header {
			if i < len(row) {
				record[strings.TrimSpace(name)] = row[i]
			}
		}
		records = append(records, record)
	}
	return records, nil
}

// --- browser strategy ---

// ingestBrowser drives the automation agent through the vendor portal. Each
// section restarts once on a mid-stream error; records gathered before the
// failure are kept, re-iteration overwrites them by position.
func (o *Orchestrator) ingestBrowser(ctx context.Context, run *Run) error {
	if o.browser == nil {
		return errors.New("browser strategy selected but no automation agent is configured")
	}
	creds, err := o.credentials(run)
	if err != nil {
		return err
	}

	session, err := o.browser.Open(ctx, run.EntryURL, creds)
	if err != nil {
		return fmt.Errorf("open portal session: %w", err)
	}
	defer session.Close()

	sections, err := session.DiscoverSections(ctx)
	if err != nil {
		return fmt.Errorf("discover portal sections: %w", err)
	}

	checkpoints, err := run.CheckpointMap()
	if err != nil {
		return err
	}
	for _, entity := range sections {
		if !knownEntity(entity) {
			logger.Log.WithField("section", entity).Warn("portal section does not map to a known entity, skipping")
			continue
		}
		if checkpoints[entity].Done {
			continue
		}

		records, err := o.iterateSection(ctx, run, session, entity)
		if err != nil {
			// One restart per entity tolerates transient portal flakiness.
			logger.Log.WithFields(map[string]interface{}{
				"run_id": run.ID, "entity": entity,
			}).WithError(err).Warn("portal iteration failed, restarting section once")
			records, err = o.iterateSection(ctx, run, session, entity)
			if err != nil {
				return fmt.Errorf("iterate portal section %s: %w", entity, err)
			}
		}

		checkpoints[entity] = Checkpoint{Processed: int64(len(records)), Done: true}
		if err := o.saveIngestProgress(ctx, run, entity, records, checkpoints); err != nil {
			return err
		}
		if err := o.checkPause(ctx, run.ID); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) iterateSection(ctx context.Context, run *Run, session BrowserSession, entity string) ([]map[string]interface{}, error) {
	iter, err := session.Records(ctx, entity)
	if err != nil {
		return nil, err
	}

	var records []map[string]interface{}
	for {
		record, binary, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		if len(binary) > 0 {
			sourceID := sourceRecordID(record)
			if sourceID != "" {
				key := fmt.Sprintf("binary/%s/%s", entity, sourceID)
				if _, err := o.artifacts.Put(ctx, run.ID, key, binary); err != nil {
					return nil, err
				}
				record["binary_key"] = key
			}
		}
		records = append(records, record)
	}
}

// --- shared helpers ---

func knownEntity(entity string) bool {
	for _, known := range entityPriority {
		if known == entity {
			return true
		}
	}
	return false
}

func sourceRecordID(record map[string]interface{}) string {
	for _, key := range []string{"id", "source_id"} {
		if s := recordString(record, key); s != "" {
			return s
		}
	}
	return ""
}

func recordString(record map[string]interface{}, key string) string {
	v, ok := record[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", t))
	}
}
