package timeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/loreforge/loregql/internal/auth"
	"github.com/loreforge/loregql/internal/domain"
)

// BranchHandler exposes branch management over HTTP.
type BranchHandler struct {
	service *Service
}

func NewBranchHTTPHandler(service *Service) http.Handler {
	return &BranchHandler{service: service}
}

func (h *BranchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/fork"):
		h.handleFork(w, r)
		return
	case r.Method == http.MethodPost:
		h.handleCreate(w, r)
		return
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/ancestry"):
		h.handleAncestry(w, r)
		return
	case r.Method == http.MethodGet && r.URL.Query().Get("id") != "":
		h.handleGet(w, r)
		return
	case r.Method == http.MethodGet:
		h.handleList(w, r)
		return
	default:
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
}

type createBranchPayload struct {
	Name string `json:"name"`
}

type forkBranchPayload struct {
	Name           string `json:"name"`
	ParentBranchID string `json:"parentBranchId"`
	ForkWorldTime  int64  `json:"forkWorldTime"`
}

func (h *BranchHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var payload createBranchPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	branch, err := h.service.CreateRootBranch(r.Context(), payload.Name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, branch)
}

func (h *BranchHandler) handleFork(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var payload forkBranchPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	parentID, err := uuid.Parse(strings.TrimSpace(payload.ParentBranchID))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid parentBranchId: %v", err), http.StatusBadRequest)
		return
	}
	branch, err := h.service.ForkBranch(r.Context(), parentID, payload.Name, domain.WorldTime(payload.ForkWorldTime))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, branch)
}

func (h *BranchHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(strings.TrimSpace(r.URL.Query().Get("id")))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid id: %v", err), http.StatusBadRequest)
		return
	}
	branch, err := h.service.GetBranch(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, branch)
}

func (h *BranchHandler) handleList(w http.ResponseWriter, r *http.Request) {
	branches, err := h.service.ListBranches(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, branches)
}

func (h *BranchHandler) handleAncestry(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(strings.TrimSpace(r.URL.Query().Get("id")))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid id: %v", err), http.StatusBadRequest)
		return
	}
	chain, err := h.service.Ancestry(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chain)
}

// EntityHandler exposes entity reads and writes over HTTP.
type EntityHandler struct {
	service *Service
}

func NewEntityHTTPHandler(service *Service) http.Handler {
	return &EntityHandler{service: service}
}

func (h *EntityHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost:
		h.handleSave(w, r)
		return
	case r.Method == http.MethodDelete:
		h.handleDelete(w, r)
		return
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/history"):
		h.handleHistory(w, r)
		return
	case r.Method == http.MethodGet:
		h.handleResolve(w, r)
		return
	default:
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
}

type saveEntityPayload struct {
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	BranchID   string         `json:"branchId"`
	WorldTime  int64          `json:"worldTime"`
	Payload    domain.Payload `json:"payload"`
	Comment    *string        `json:"comment"`
}

func (h *EntityHandler) handleSave(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var payload saveEntityPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	ref, branchID, err := parseRef(payload.EntityType, payload.EntityID, payload.BranchID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	version, err := h.service.SaveEntity(r.Context(), SaveEntityInput{
		Ref:       ref,
		BranchID:  branchID,
		At:        domain.WorldTime(payload.WorldTime),
		Payload:   payload.Payload,
		CreatedBy: auth.ActorFromContext(r.Context()),
		Comment:   payload.Comment,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, version)
}

func (h *EntityHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	ref, branchID, err := parseRef(query.Get("entityType"), query.Get("entityId"), query.Get("branchId"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	at, err := parseWorldTime(query.Get("worldTime"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	version, err := h.service.DeleteEntity(r.Context(), ref, branchID, at, auth.ActorFromContext(r.Context()), nil)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, version)
}

func (h *EntityHandler) handleResolve(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	ref, branchID, err := parseRef(query.Get("entityType"), query.Get("entityId"), query.Get("branchId"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	at, err := parseWorldTime(query.Get("worldTime"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	version, err := h.service.ResolveEntity(r.Context(), ref, branchID, at)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, version)
}

func (h *EntityHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	ref, branchID, err := parseRef(query.Get("entityType"), query.Get("entityId"), query.Get("branchId"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	history, err := h.service.History(r.Context(), ref, branchID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func parseRef(entityType, entityID, branchID string) (domain.EntityRef, uuid.UUID, error) {
	entityType = strings.TrimSpace(entityType)
	if entityType == "" {
		return domain.EntityRef{}, uuid.Nil, fmt.Errorf("entityType is required")
	}
	id, err := uuid.Parse(strings.TrimSpace(entityID))
	if err != nil {
		return domain.EntityRef{}, uuid.Nil, fmt.Errorf("invalid entityId: %v", err)
	}
	branch, err := uuid.Parse(strings.TrimSpace(branchID))
	if err != nil {
		return domain.EntityRef{}, uuid.Nil, fmt.Errorf("invalid branchId: %v", err)
	}
	return domain.EntityRef{EntityType: entityType, EntityID: id}, branch, nil
}

func parseWorldTime(raw string) (domain.WorldTime, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid worldTime: %v", err)
	}
	return domain.WorldTime(value), nil
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrVersionConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
