package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/loreforge/loregql/internal/auth"
	"github.com/loreforge/loregql/internal/domain"
)

// Handler exposes bulk import as an HTTP endpoint.
type Handler struct {
	service *Service
}

// NewHTTPHandler wraps the service with a POST endpoint.
func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, fmt.Sprintf("invalid form data: %v", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("file required: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	branchID, err := uuid.Parse(strings.TrimSpace(r.FormValue("branchId")))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid branch id: %v", err), http.StatusBadRequest)
		return
	}

	entityType := strings.TrimSpace(r.FormValue("entityType"))
	if entityType == "" {
		http.Error(w, "entityType is required", http.StatusBadRequest)
		return
	}

	worldTime, err := strconv.ParseInt(strings.TrimSpace(r.FormValue("worldTime")), 10, 64)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid worldTime: %v", err), http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read file: %v", err), http.StatusBadRequest)
		return
	}

	req := Request{
		BranchID:   branchID,
		EntityType: entityType,
		WorldTime:  domain.WorldTime(worldTime),
		FileName:   header.Filename,
		Data:       bytes.NewReader(data),
		CreatedBy:  auth.ActorFromContext(r.Context()),
	}

	summary, err := h.service.Import(r.Context(), req)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
