package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/rakunlabs/kaizen/internal/kschema"
	"github.com/rakunlabs/kaizen/internal/store"
)

// ─── Namespace CRUD API ───

type namespacesResponse struct {
	Namespaces []kschema.Namespace `json:"namespaces"`
}

// ListNamespacesAPI handles GET /api/v1/namespaces.
func (s *Server) ListNamespacesAPI(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	namespaces, err := s.facade.ListNamespaces(r.Context(), limit)
	if err != nil {
		httpResponse(w, fmt.Sprintf("failed to list namespaces: %v", err), http.StatusInternalServerError)
		return
	}
	if namespaces == nil {
		namespaces = []kschema.Namespace{}
	}

	httpResponseJSON(w, namespacesResponse{Namespaces: namespaces}, http.StatusOK)
}

type createNamespaceRequest struct {
	ID string `json:"id"`
}

// CreateNamespaceAPI handles POST /api/v1/namespaces.
func (s *Server) CreateNamespaceAPI(w http.ResponseWriter, r *http.Request) {
	var req createNamespaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httpResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ns, err := s.facade.CreateNamespace(r.Context(), req.ID)
	if err != nil {
		var alreadyExists *kschema.NamespaceAlreadyExistsError
		if errors.As(err, &alreadyExists) {
			httpResponse(w, err.Error(), http.StatusConflict)
			return
		}
		slog.Error("create namespace failed", "error", err)
		httpResponse(w, fmt.Sprintf("failed to create namespace: %v", err), http.StatusInternalServerError)
		return
	}

	httpResponseJSON(w, ns, http.StatusCreated)
}

// GetNamespaceAPI handles GET /api/v1/namespaces/:id.
func (s *Server) GetNamespaceAPI(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		httpResponse(w, "namespace id is required", http.StatusBadRequest)
		return
	}

	ns, err := s.facade.GetNamespace(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	httpResponseJSON(w, ns, http.StatusOK)
}

// DeleteNamespaceAPI handles DELETE /api/v1/namespaces/:id.
func (s *Server) DeleteNamespaceAPI(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		httpResponse(w, "namespace id is required", http.StatusBadRequest)
		return
	}

	if err := s.facade.DeleteNamespace(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}

	httpResponse(w, "namespace deleted", http.StatusOK)
}

// ─── Entity CRUD API ───

type searchEntitiesResponse struct {
	Entities []kschema.RecordedEntity `json:"entities"`
}

// SearchEntitiesAPI handles GET /api/v1/namespaces/:id/entities.
func (s *Server) SearchEntitiesAPI(w http.ResponseWriter, r *http.Request) {
	nsID := r.PathValue("id")
	if nsID == "" {
		httpResponse(w, "namespace id is required", http.StatusBadRequest)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	filter := store.Filter{
		Type:  r.URL.Query().Get("type"),
		Query: r.URL.Query().Get("query"),
		Limit: limit,
	}

	entities, err := s.facade.SearchEntities(r.Context(), nsID, filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if entities == nil {
		entities = []kschema.RecordedEntity{}
	}

	httpResponseJSON(w, searchEntitiesResponse{Entities: entities}, http.StatusOK)
}

type createEntitiesRequest struct {
	Entities                 []kschema.Entity `json:"entities"`
	EnableConflictResolution bool             `json:"enable_conflict_resolution"`
}

type createEntitiesResponse struct {
	Updates []kschema.EntityUpdate `json:"updates"`
}

// CreateEntitiesAPI handles POST /api/v1/namespaces/:id/entities.
// The metadata validation policy in SPEC_FULL §14 (422 for guideline/policy
// typed metadata) is applied before the write reaches the store.
func (s *Server) CreateEntitiesAPI(w http.ResponseWriter, r *http.Request) {
	nsID := r.PathValue("id")
	if nsID == "" {
		httpResponse(w, "namespace id is required", http.StatusBadRequest)
		return
	}

	var req createEntitiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Entities) == 0 {
		httpResponse(w, "entities must be a non-empty array", http.StatusBadRequest)
		return
	}

	if err := validateTypedMetadata(req.Entities); err != nil {
		httpResponse(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	updates, err := s.facade.UpdateEntities(r.Context(), nsID, req.Entities, req.EnableConflictResolution)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	httpResponseJSON(w, createEntitiesResponse{Updates: updates}, http.StatusCreated)
}

type deleteEntityRequest struct {
	EntityID string `json:"entity_id"`
}

// DeleteEntityAPI handles POST /api/v1/namespaces/:id/entities/delete.
func (s *Server) DeleteEntityAPI(w http.ResponseWriter, r *http.Request) {
	nsID := r.PathValue("id")
	if nsID == "" {
		httpResponse(w, "namespace id is required", http.StatusBadRequest)
		return
	}

	var req deleteEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EntityID == "" {
		httpResponse(w, "entity_id is required", http.StatusBadRequest)
		return
	}

	if err := s.facade.DeleteEntity(r.Context(), nsID, req.EntityID); err != nil {
		writeStoreError(w, err)
		return
	}

	httpResponse(w, "entity deleted", http.StatusOK)
}

// ─── Consolidation API ───

type consolidateRequest struct {
	Threshold float64 `json:"threshold"`
}

// ConsolidateTipsAPI handles POST /api/v1/namespaces/:id/consolidate.
func (s *Server) ConsolidateTipsAPI(w http.ResponseWriter, r *http.Request) {
	nsID := r.PathValue("id")
	if nsID == "" {
		httpResponse(w, "namespace id is required", http.StatusBadRequest)
		return
	}

	var req consolidateRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	// req.Threshold == 0 (unset) lets the clusterer fall back to its
	// configured default (KAIZEN_CLUSTERING_THRESHOLD) rather than
	// hardcoding one here.
	result, err := s.facade.ConsolidateTips(r.Context(), nsID, req.Threshold)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	httpResponseJSON(w, result, http.StatusOK)
}

// ─── Dashboard API ───

type dashboardResponse struct {
	Namespaces []dashboardNamespace `json:"namespaces"`
}

type dashboardNamespace struct {
	ID          string         `json:"id"`
	NumEntities int            `json:"num_entities"`
	TypeCounts  map[string]int `json:"type_counts"`
}

// DashboardAPI handles GET /api/v1/dashboard: an aggregate summary of
// num_entities and per-type breakdowns across every namespace.
func (s *Server) DashboardAPI(w http.ResponseWriter, r *http.Request) {
	namespaces, err := s.facade.ListNamespaces(r.Context(), 0)
	if err != nil {
		httpResponse(w, fmt.Sprintf("failed to list namespaces: %v", err), http.StatusInternalServerError)
		return
	}

	out := make([]dashboardNamespace, 0, len(namespaces))
	for _, ns := range namespaces {
		entities, err := s.facade.SearchEntities(r.Context(), ns.ID, store.Filter{Limit: 10000})
		if err != nil {
			slog.Warn("dashboard: search failed for namespace", "namespace", ns.ID, "error", err)
			continue
		}

		typeCounts := map[string]int{}
		for _, e := range entities {
			typeCounts[e.Type]++
		}

		out = append(out, dashboardNamespace{
			ID:          ns.ID,
			NumEntities: len(entities),
			TypeCounts:  typeCounts,
		})
	}

	httpResponseJSON(w, dashboardResponse{Namespaces: out}, http.StatusOK)
}

// ─── Health ───

// Healthz handles GET /healthz.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.facade.Ready(r.Context()); err != nil {
		httpResponse(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	httpResponse(w, "ok", http.StatusOK)
}

// ─── Shared error mapping ───

// writeStoreError maps the C1 error taxonomy to HTTP status codes per
// SPEC_FULL §14: 404 for a missing namespace, 400 for anything else.
func writeStoreError(w http.ResponseWriter, err error) {
	var notFound *kschema.NamespaceNotFoundError
	if errors.As(err, &notFound) {
		httpResponse(w, err.Error(), http.StatusNotFound)
		return
	}

	httpResponse(w, err.Error(), http.StatusBadRequest)
}

// validateTypedMetadata enforces the 422 contract for guideline/policy
// entities: guideline metadata must carry category/trigger, policy metadata
// must carry a recognized type.
func validateTypedMetadata(entities []kschema.Entity) error {
	for _, e := range entities {
		switch e.Type {
		case kschema.EntityTypeGuideline:
			if e.Metadata["category"] == nil || e.Metadata["trigger"] == nil {
				return fmt.Errorf("guideline metadata requires category and trigger")
			}
		case kschema.EntityTypePolicy:
			policyType, _ := e.Metadata["type"].(string)
			switch kschema.PolicyType(policyType) {
			case kschema.PolicyPlaybook, kschema.PolicyIntentGuard, kschema.PolicyToolGuide,
				kschema.PolicyToolApproval, kschema.PolicyOutputFormatter:
			default:
				return fmt.Errorf("policy metadata requires a recognized type")
			}
		}
	}
	return nil
}
