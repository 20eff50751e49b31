package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/docuseek/rag/internal/auth"
	"github.com/docuseek/rag/internal/repository"
	"github.com/docuseek/rag/internal/retrieval"
	"github.com/docuseek/rag/internal/service"
)

// maxUploadBytes caps document uploads.
const maxUploadBytes = 64 << 20

type handlers struct {
	retrieval   *service.RetrievalService
	collections *service.CollectionService
	documents   *service.DocumentService
	logger      *slog.Logger
}

type retrieveRequest struct {
	Query          string `json:"query"`
	OrganizationID string `json:"organization_id,omitempty"`
}

type sectionResponse struct {
	DocumentName     string  `json:"document_name"`
	DocumentID       string  `json:"document_id,omitempty"`
	Headers          string  `json:"headers,omitempty"`
	Content          string  `json:"content"`
	Recurrence       int     `json:"recurrence"`
	Score            float32 `json:"score"`
	SourceCollection string  `json:"source_collection"`
	IsPersonal       bool    `json:"is_personal"`
}

func sectionResponses(sections []retrieval.Section) []sectionResponse {
	out := make([]sectionResponse, len(sections))
	for i, s := range sections {
		out[i] = sectionResponse{
			DocumentName:     s.DocumentName,
			DocumentID:       s.DocumentID,
			Headers:          s.Headers,
			Content:          s.Content,
			Recurrence:       s.Recurrence,
			Score:            s.Score,
			SourceCollection: s.SourceCollection,
			IsPersonal:       s.IsPersonal,
		}
	}
	return out
}

func (h *handlers) retrieve(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	organizationID := req.OrganizationID
	if organizationID == "" {
		organizationID = principal.OrganizationID
	}

	sections, err := h.retrieval.Retrieve(r.Context(), principal.UserID, organizationID, req.Query)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": sectionResponses(sections)})
}

func (h *handlers) retrieveCollection(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sections, err := h.retrieval.RetrieveCollection(r.Context(),
		principal.UserID, chi.URLParam(r, "name"), req.Query)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": sectionResponses(sections)})
}

type rerankRequest struct {
	Query      string   `json:"query"`
	Threshold  *float32 `json:"threshold,omitempty"`
	Candidates []struct {
		ID      string `json:"id"`
		Content string `json:"content"`
	} `json:"candidates"`
}

func (h *handlers) rerank(w http.ResponseWriter, r *http.Request) {
	var req rerankRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	threshold := float32(retrieval.DefaultRerankThreshold)
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	candidates := make([]service.RerankCandidate, len(req.Candidates))
	for i, c := range req.Candidates {
		candidates[i] = service.RerankCandidate{ID: c.ID, Content: c.Content}
	}

	results, err := h.retrieval.Rerank(r.Context(), req.Query, candidates, threshold)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	type scored struct {
		ID    string  `json:"id"`
		Score float32 `json:"score"`
	}
	out := make([]scored, len(results))
	for i, res := range results {
		out[i] = scored{ID: res.ID, Score: res.Score}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

type collectionResponse struct {
	Name           string `json:"name"`
	OrganizationID string `json:"organization_id,omitempty"`
	IsPersonal     bool   `json:"is_personal"`
	CreatedBy      string `json:"created_by"`
}

func collectionResponses(cs []*repository.Collection) []collectionResponse {
	out := make([]collectionResponse, len(cs))
	for i, c := range cs {
		out[i] = collectionResponse{
			Name:           c.Name,
			OrganizationID: c.OrganizationID,
			IsPersonal:     c.IsPersonal,
			CreatedBy:      c.UserID,
		}
	}
	return out
}

func (h *handlers) listCollections(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	organizationID := r.URL.Query().Get("organization_id")
	if organizationID == "" {
		organizationID = principal.OrganizationID
	}

	collections, err := h.collections.List(r.Context(), principal.UserID, organizationID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": collectionResponses(collections)})
}

func (h *handlers) createCollection(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var req struct {
		Name           string `json:"name"`
		Personal       bool   `json:"personal"`
		OrganizationID string `json:"organization_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	organizationID := req.OrganizationID
	if organizationID == "" {
		organizationID = principal.OrganizationID
	}

	c, err := h.collections.Create(r.Context(), principal.UserID, organizationID, req.Name, req.Personal)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, collectionResponses([]*repository.Collection{c})[0])
}

func (h *handlers) deleteCollection(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := h.collections.Delete(r.Context(), principal.UserID, chi.URLParam(r, "name")); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listDocuments(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	docs, total, err := h.documents.List(r.Context(), principal.UserID, chi.URLParam(r, "name"), limit, offset)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	type docResponse struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		Status     string `json:"status"`
		ChunkCount int    `json:"chunk_count"`
		UploadedBy string `json:"uploaded_by"`
	}
	out := make([]docResponse, len(docs))
	for i, d := range docs {
		out[i] = docResponse{
			ID:         d.ID.String(),
			Name:       d.Name,
			Status:     d.Status,
			ChunkCount: d.ChunkCount,
			UploadedBy: d.UploadedBy,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": out, "total": total})
}

func (h *handlers) uploadDocument(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart upload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	name := r.FormValue("name")
	if name == "" {
		name = header.Filename
	}

	doc, err := h.documents.Ingest(r.Context(), principal.UserID, chi.URLParam(r, "name"), name, file)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":          doc.ID.String(),
		"name":        doc.Name,
		"status":      doc.Status,
		"chunk_count": doc.ChunkCount,
	})
}

func (h *handlers) deleteDocument(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	err := h.documents.Delete(r.Context(), principal.UserID,
		chi.URLParam(r, "name"), chi.URLParam(r, "document"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) invalidateIdentity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID         string `json:"user_id,omitempty"`
		OrganizationID string `json:"organization_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.retrieval.InvalidateIdentity(req.UserID, req.OrganizationID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "permission denied")
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, service.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
