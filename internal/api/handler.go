package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-ident/kestrel/internal/analyzer"
	"github.com/opensource-ident/kestrel/internal/domain"
	"github.com/opensource-ident/kestrel/internal/policy"
	"github.com/opensource-ident/kestrel/internal/screening"
)

// GlobalTenantID is used for policies that apply to all tenants.
const GlobalTenantID = "*"

// minTextLen is the minimum number of runes accepted for screening.
// Anything shorter is an upload error, not a document.
const minTextLen = 10

// analysisCacheTTL bounds how long identical OCR text reuses a prior analysis.
const analysisCacheTTL = time.Hour

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	analyzer  *analyzer.Analyzer
	engine    *policy.Engine
	processor *screening.Processor
	version   string
	mode      domain.ScreeningMode
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, a *analyzer.Analyzer, engine *policy.Engine, processor *screening.Processor, version string, mode domain.ScreeningMode) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		analyzer:  a,
		engine:    engine,
		processor: processor,
		version:   version,
		mode:      mode,
	}
}

// ScreenRequest is the request body for POST /screen.
type ScreenRequest struct {
	Text               string         `json:"text"`
	RenterID           string         `json:"renterId"`
	ReservationID      string         `json:"reservationId,omitempty"`
	Source             string         `json:"source,omitempty"`
	ResubmissionWindow int            `json:"resubmissionWindow,omitempty"` // seconds
	Metadata           map[string]any `json:"metadata,omitempty"`
}

// Screen handles POST /screen requests.
func (h *Handler) Screen(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	// Parse request
	var req ScreenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	// Validate required fields
	if utf8.RuneCountInString(req.Text) < minTextLen {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "text must contain at least 10 characters of OCR output",
		})
		return
	}
	if req.RenterID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "renterId is required",
		})
		return
	}

	// Create document record
	docID := uuid.New().String()
	doc := &domain.Document{
		ID:            docID,
		TenantID:      tenantID,
		RenterID:      req.RenterID,
		ReservationID: req.ReservationID,
		Source:        req.Source,
		Text:          req.Text,
		SubmittedAt:   time.Now().UTC(),
		CreatedAt:     time.Now().UTC(),
		Metadata:      req.Metadata,
	}

	// Save document if repository is available. Failures are logged but not
	// fatal; screening the document matters more than persisting it.
	if h.repo != nil {
		if err := h.repo.SaveDocument(ctx, tenantID, doc); err != nil {
			slog.Error("failed to save document", "error", err)
		}
	}

	ingestMs := time.Since(start).Milliseconds()

	// Async mode: hand off to the worker via the event bus
	if h.mode == domain.ModeAsync && h.bus != nil {
		msg := map[string]any{
			"documentId":         docID,
			"tenantId":           tenantID,
			"traceId":            traceID,
			"renterId":           req.RenterID,
			"reservationId":      req.ReservationID,
			"source":             req.Source,
			"text":               req.Text,
			"resubmissionWindow": req.ResubmissionWindow,
		}
		payload, _ := json.Marshal(msg)

		if err := h.bus.Publish(ctx, tenantID, domain.TopicDocumentIngested, payload); err != nil {
			slog.Error("failed to publish document", "document_id", docID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to enqueue document",
			})
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{
			"documentId": docID,
			"status":     "QUEUED",
			"traceId":    traceID,
		})
		return
	}

	// Sync mode: run the pipeline inline

	// 1. Analyze OCR text, reusing a cached result for identical text
	analyzeStart := time.Now()
	textHash := hashText(req.Text)

	var result *domain.AnalysisResult
	if h.cache != nil {
		cached, err := h.cache.GetAnalysis(ctx, tenantID, textHash)
		if err == nil && cached != nil {
			result = cached
		}
	}
	if result == nil {
		result = h.analyzer.Analyze(req.Text)
		if h.cache != nil {
			if err := h.cache.SetAnalysis(ctx, tenantID, textHash, result, analysisCacheTTL); err != nil {
				slog.Debug("failed to cache analysis", "error", err)
			}
		}
	}
	analyzeMs := time.Since(analyzeStart).Milliseconds()

	// 2. Evaluate policies
	resubmissionWindow := req.ResubmissionWindow
	if resubmissionWindow == 0 {
		resubmissionWindow = 3600
	}

	policyResults, err := h.engine.EvaluateAll(ctx, &policy.EvaluateInput{
		TenantID:           tenantID,
		DocumentID:         docID,
		RenterID:           req.RenterID,
		Source:             req.Source,
		Analysis:           result,
		ResubmissionWindow: resubmissionWindow,
	})
	if err != nil {
		slog.Error("policy evaluation failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "policy evaluation failed",
		})
		return
	}

	// 3. Produce decision
	scr := h.processor.Process(ctx, &screening.DecisionInput{
		TenantID:      tenantID,
		DocumentID:    docID,
		TraceID:       traceID,
		Analysis:      result,
		PolicyResults: policyResults,
		IngestMs:      ingestMs,
		AnalyzeMs:     analyzeMs,
		StartTime:     start,
	})

	// 4. Save screening
	if h.repo != nil {
		if err := h.repo.SaveScreening(ctx, tenantID, scr); err != nil {
			slog.Error("failed to save screening", "error", err)
		}
	}

	// 5. Publish completion and alerts
	if h.bus != nil {
		payload, _ := json.Marshal(scr)
		if err := h.bus.Publish(ctx, tenantID, domain.TopicScreeningCompleted, payload); err != nil {
			slog.Error("failed to publish screening", "document_id", docID, "error", err)
		}
		if screening.ShouldAlert(scr) {
			if err := h.bus.Publish(ctx, tenantID, domain.TopicScreeningAlert, payload); err != nil {
				slog.Error("failed to publish alert", "document_id", docID, "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, scr.ToResponse())
}

// hashText returns the cache key for a document's OCR text.
func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetScreening retrieves a screening by ID.
func (h *Handler) GetScreening(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	screeningID := chi.URLParam(r, "id")

	if screeningID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "screening id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	scr, err := h.repo.GetScreening(ctx, tenantID, screeningID)
	if err != nil {
		slog.Error("failed to get screening", "id", screeningID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "screening not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, scr)
}

// GetDocument retrieves a document by ID.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	docID := chi.URLParam(r, "id")

	if docID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "document id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	doc, err := h.repo.GetDocument(ctx, tenantID, docID)
	if err != nil {
		slog.Error("failed to get document", "id", docID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "document not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// ListPolicies returns all loaded policies from the engine.
// Policies are loaded from the database at startup and can be reloaded via POST /policies/reload.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	loadedPolicies := h.engine.GetLoadedPolicies()

	writeJSON(w, http.StatusOK, map[string]any{
		"policies": loadedPolicies,
		"count":    len(loadedPolicies),
		"source":   "database",
	})
}

// GetPolicy retrieves a policy by ID from the loaded engine policies.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	policyID := chi.URLParam(r, "id")

	if policyID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "policy id is required",
		})
		return
	}

	// Check policies loaded in the engine (from database)
	for _, p := range h.engine.GetLoadedPolicies() {
		if p.ID == policyID {
			writeJSON(w, http.StatusOK, p)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "policy not found",
	})
}

// CreatePolicyRequest is the request body for creating a policy.
type CreatePolicyRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Action      string `json:"action"`
	Reason      string `json:"reason,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// CreatePolicy creates a new policy and saves it to the database.
// Policies are saved globally (tenant_id = "*") so they apply to all tenants.
// After saving, call POST /policies/reload to hot-reload into the engine.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	// Validate
	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	// Create policy config (global tenant)
	policyConfig := &domain.PolicyConfig{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Action:      req.Action,
		Reason:      req.Reason,
		Enabled:     req.Enabled,
	}

	// Validate the CEL expression and action before persisting
	if err := h.engine.ValidatePolicy(policyConfig); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid policy: " + err.Error(),
		})
		return
	}

	// Persist to repository (global tenant ID)
	if h.repo != nil {
		if err := h.repo.SavePolicyConfig(ctx, GlobalTenantID, policyConfig); err != nil {
			slog.Error("failed to save policy config", "id", policyConfig.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save policy",
			})
			return
		}
	}

	slog.Info("policy created", "id", policyConfig.ID, "name", policyConfig.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"policy":  policyConfig,
		"message": "Policy created. Call POST /policies/reload to apply changes.",
	})
}

// UpdatePolicy updates an existing policy.
func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	policyID := chi.URLParam(r, "id")

	if policyID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "policy id is required",
		})
		return
	}

	var req CreatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	policyConfig := &domain.PolicyConfig{
		ID:          policyID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Action:      req.Action,
		Reason:      req.Reason,
		Enabled:     req.Enabled,
	}

	if err := h.engine.ValidatePolicy(policyConfig); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid policy: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SavePolicyConfig(ctx, GlobalTenantID, policyConfig); err != nil {
			slog.Error("failed to update policy", "id", policyID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to update policy",
			})
			return
		}
	}

	slog.Info("policy updated", "id", policyID)
	writeJSON(w, http.StatusOK, map[string]any{
		"policy":  policyConfig,
		"message": "Policy updated. Call POST /policies/reload to apply changes.",
	})
}

// DeletePolicy soft-deletes a policy and auto-reloads the engine.
func (h *Handler) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	policyID := chi.URLParam(r, "id")

	if policyID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "policy id is required",
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.DeletePolicyConfig(ctx, GlobalTenantID, policyID); err != nil {
			slog.Error("failed to delete policy", "id", policyID, "error", err)
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "policy not found",
			})
			return
		}

		// Auto-reload engine after delete
		dbPolicies, err := h.repo.ListPolicyConfigs(ctx, GlobalTenantID)
		if err != nil {
			slog.Error("failed to reload policies after delete", "error", err)
		} else if err := h.engine.ReloadPolicies(dbPolicies); err != nil {
			slog.Error("failed to reload policies into engine", "error", err)
		} else {
			slog.Info("policies auto-reloaded after delete", "count", len(dbPolicies))
		}
	}

	slog.Info("policy deleted", "id", policyID)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Policy deleted and engine reloaded.",
	})
}

// ReloadPolicies reloads all policies from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	// Load policies from database (global policies)
	dbPolicies, err := h.repo.ListPolicyConfigs(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list policies from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load policies from database",
		})
		return
	}

	// Reload into engine
	if err := h.engine.ReloadPolicies(dbPolicies); err != nil {
		slog.Error("failed to reload policies into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload policies: " + err.Error(),
		})
		return
	}

	slog.Info("policies reloaded from database", "count", len(dbPolicies))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "policies reloaded successfully",
		"count":   len(dbPolicies),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
