package merge

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/loreforge/loregql/internal/auth"
	"github.com/loreforge/loregql/internal/domain"
)

type Handler struct {
	service *Service
}

func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/preview"):
		h.handlePreview(w, r)
		return
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/execute"):
		h.handleExecute(w, r)
		return
	default:
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
}

type previewPayload struct {
	SourceBranchID string `json:"sourceBranchId"`
	TargetBranchID string `json:"targetBranchId"`
	WorldTime      int64  `json:"worldTime"`
}

type resolutionPayload struct {
	EntityType    string `json:"entityType"`
	EntityID      string `json:"entityId"`
	Path          string `json:"path"`
	ResolvedValue any    `json:"resolvedValue"`
}

type executePayload struct {
	SourceBranchID string              `json:"sourceBranchId"`
	TargetBranchID string              `json:"targetBranchId"`
	WorldTime      int64               `json:"worldTime"`
	Resolutions    []resolutionPayload `json:"resolutions"`
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var payload previewPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	sourceID, err := uuid.Parse(strings.TrimSpace(payload.SourceBranchID))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid sourceBranchId: %v", err), http.StatusBadRequest)
		return
	}
	targetID, err := uuid.Parse(strings.TrimSpace(payload.TargetBranchID))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid targetBranchId: %v", err), http.StatusBadRequest)
		return
	}

	preview, err := h.service.Preview(r.Context(), sourceID, targetID, domain.WorldTime(payload.WorldTime))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (h *Handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var payload executePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	sourceID, err := uuid.Parse(strings.TrimSpace(payload.SourceBranchID))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid sourceBranchId: %v", err), http.StatusBadRequest)
		return
	}
	targetID, err := uuid.Parse(strings.TrimSpace(payload.TargetBranchID))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid targetBranchId: %v", err), http.StatusBadRequest)
		return
	}

	resolutions := make([]domain.ConflictResolution, 0, len(payload.Resolutions))
	for _, res := range payload.Resolutions {
		entityID, parseErr := uuid.Parse(strings.TrimSpace(res.EntityID))
		if parseErr != nil {
			http.Error(w, fmt.Sprintf("invalid entityId %q: %v", res.EntityID, parseErr), http.StatusBadRequest)
			return
		}
		resolutions = append(resolutions, domain.ConflictResolution{
			EntityType:    strings.TrimSpace(res.EntityType),
			EntityID:      entityID,
			Path:          res.Path,
			ResolvedValue: res.ResolvedValue,
		})
	}

	actor := auth.ActorFromContext(r.Context())
	result, err := h.service.Execute(r.Context(), sourceID, targetID, domain.WorldTime(payload.WorldTime), resolutions, actor)
	if err != nil {
		var validationErr *domain.MergeValidationError
		if errors.As(err, &validationErr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"success":  false,
				"problems": validationErr.Problems,
			})
			return
		}
		if errors.Is(err, domain.ErrMergeAborted) || errors.Is(err, domain.ErrVersionConflict) {
			writeJSON(w, http.StatusConflict, result)
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
