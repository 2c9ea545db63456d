package pipeline

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/clinicore/migration/pkg/artifact"
	"github.com/clinicore/migration/pkg/common/logger"
	"github.com/clinicore/migration/pkg/common/models"
	"github.com/gorilla/mux"
)

// RunRequested is the event type the API publishes onto the run topic; the
// worker consumes it and drives the run.
const RunRequested = "run_requested"

type Handler struct {
	orchestrator *Orchestrator
	runs         RunStore
	specs        SpecStore
	artifacts    artifact.Store
	runQueue     EventPublisher
	maxUpload    int64
}

func NewHandler(orchestrator *Orchestrator, runs RunStore, specs SpecStore, artifacts artifact.Store, runQueue EventPublisher, maxUpload int64) *Handler {
	if maxUpload <= 0 {
		maxUpload = 32 * 1024 * 1024
	}
	return &Handler{
		orchestrator: orchestrator,
		runs:         runs,
		specs:        specs,
		artifacts:    artifacts,
		runQueue:     runQueue,
		maxUpload:    maxUpload,
	}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/runs", h.handleStartRun).Methods(http.MethodPost)
	r.HandleFunc("/runs", h.handleListRuns).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}", h.handleGetRun).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}/approve-mapping", h.handleApproveMapping).Methods(http.MethodPost)
	r.HandleFunc("/runs/{id}/pause", h.handlePause).Methods(http.MethodPost)
	r.HandleFunc("/runs/{id}/resume", h.handleResume).Methods(http.MethodPost)
	r.HandleFunc("/runs/{id}/mapping", h.handleGetMapping).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}/report", h.handleGetReport).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}/log", h.handleGetLog).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}/uploads", h.handleUpload).Methods(http.MethodPost)
}

func (h *Handler) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req models.StartRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.ClinicID == "" {
		http.Error(w, "clinic_id is required", http.StatusBadRequest)
		return
	}
	run, err := h.orchestrator.Start(r.Context(), req)
	if err != nil {
		logger.Log.WithError(err).Error("failed to start migration run")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.runQueue.Publish(r.Context(), RunRequested, run.ID, nil); err != nil {
		logger.Log.WithField("run_id", run.ID).WithError(err).Error("failed to enqueue run")
		http.Error(w, "failed to enqueue run", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"run": toView(run)})
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	clinicID := r.URL.Query().Get("clinic_id")
	if clinicID == "" {
		http.Error(w, "clinic_id is required", http.StatusBadRequest)
		return
	}
	runs, err := h.runs.ListByClinic(r.Context(), clinicID)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list runs")
		http.Error(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	views := make([]models.RunView, 0, len(runs))
	for i := range runs {
		views = append(views, toView(&runs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": views})
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	view, err := h.orchestrator.View(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, ErrRunNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Log.WithError(err).Error("failed to get run")
		http.Error(w, "failed to get run", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"run": view})
}

func (h *Handler) handleApproveMapping(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ApproverID string `json:"approver_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.ApproverID == "" {
		http.Error(w, "approver_id is required", http.StatusBadRequest)
		return
	}
	runID := mux.Vars(r)["id"]
	run, err := h.orchestrator.ApproveMapping(r.Context(), runID, req.ApproverID)
	if errors.Is(err, ErrRunNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if errors.Is(err, ErrInvalidTransition) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		logger.Log.WithError(err).Error("failed to approve mapping")
		http.Error(w, "failed to approve mapping", http.StatusInternalServerError)
		return
	}
	// Approval unblocks the run; hand it back to the worker.
	if err := h.runQueue.Publish(r.Context(), RunRequested, run.ID, nil); err != nil {
		logger.Log.WithField("run_id", run.ID).WithError(err).Error("failed to enqueue approved run")
		http.Error(w, "failed to enqueue run", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"run": toView(run)})
}

func (h *Handler) handlePause(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	err := h.orchestrator.Pause(r.Context(), runID)
	if errors.Is(err, ErrRunNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Log.WithError(err).Error("failed to pause run")
		http.Error(w, "failed to pause run", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"status": "pause requested"})
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	run, err := h.orchestrator.Resume(r.Context(), runID)
	if errors.Is(err, ErrRunNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if errors.Is(err, ErrApprovalRequired) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		logger.Log.WithError(err).Error("failed to resume run")
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err := h.runQueue.Publish(r.Context(), RunRequested, run.ID, nil); err != nil {
		logger.Log.WithField("run_id", run.ID).WithError(err).Error("failed to enqueue resumed run")
		http.Error(w, "failed to enqueue run", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"run": toView(run)})
}

func (h *Handler) handleGetMapping(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	spec, err := h.specs.Latest(r.Context(), runID)
	if errors.Is(err, ErrSpecNotFound) {
		http.Error(w, "no mapping drafted yet", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Log.WithError(err).Error("failed to load mapping spec")
		http.Error(w, "failed to load mapping spec", http.StatusInternalServerError)
		return
	}
	services, err := spec.ServiceMappings()
	if err != nil {
		http.Error(w, "failed to decode mapping spec", http.StatusInternalServerError)
		return
	}
	forms, err := spec.FormClassifications()
	if err != nil {
		http.Error(w, "failed to decode mapping spec", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":  spec.Version,
		"services": services,
		"forms":    forms,
	})
}

func (h *Handler) handleGetReport(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	report, err := h.orchestrator.Report(r.Context(), runID)
	if errors.Is(err, artifact.ErrNotFound) {
		http.Error(w, "report not generated yet", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Log.WithError(err).Error("failed to load report")
		http.Error(w, "failed to load report", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"report": report})
}

func (h *Handler) handleGetLog(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	limit := parseLimit(r, 500)
	entries, err := h.orchestrator.log.ListEntries(r.Context(), runID, limit)
	if err != nil {
		logger.Log.WithError(err).Error("failed to load migration log")
		http.Error(w, "failed to load migration log", http.StatusInternalServerError)
		return
	}
	events, err := h.orchestrator.log.ListEvents(r.Context(), runID)
	if err != nil {
		logger.Log.WithError(err).Error("failed to load phase events")
		http.Error(w, "failed to load migration log", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries, "events": events})
}

// handleUpload accepts operator files for the upload ingestion strategy. Each
// file lands in the artifact store under upload/<filename>.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	if _, err := h.runs.Get(r.Context(), runID); errors.Is(err, ErrRunNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	} else if err != nil {
		http.Error(w, "failed to load run", http.StatusInternalServerError)
		return
	}

	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		http.Error(w, "invalid multipart request", http.StatusBadRequest)
		return
	}
	var stored []string
	for _, headers := range r.MultipartForm.File {
		for _, header := range headers {
			file, err := header.Open()
			if err != nil {
				http.Error(w, "failed to read uploaded file", http.StatusBadRequest)
				return
			}
			data, err := io.ReadAll(io.LimitReader(file, h.maxUpload))
			file.Close()
			if err != nil {
				http.Error(w, "failed to read uploaded file", http.StatusBadRequest)
				return
			}
			key := "upload/" + header.Filename
			if _, err := h.artifacts.Put(r.Context(), runID, key, data); err != nil {
				logger.Log.WithError(err).Error("failed to store upload")
				http.Error(w, "failed to store upload", http.StatusInternalServerError)
				return
			}
			stored = append(stored, key)
		}
	}
	if len(stored) == 0 {
		http.Error(w, "no files in request", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"stored": stored})
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	if v, err := strconv.Atoi(raw); err == nil && v > 0 {
		return v
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
