package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/loreforge/loregql/internal/domain"
)

type Handler struct {
	service *Service
}

func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	sourceID, err := uuid.Parse(strings.TrimSpace(query.Get("sourceBranchId")))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid sourceBranchId: %v", err), http.StatusBadRequest)
		return
	}
	targetID, err := uuid.Parse(strings.TrimSpace(query.Get("targetBranchId")))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid targetBranchId: %v", err), http.StatusBadRequest)
		return
	}
	at, err := strconv.ParseInt(strings.TrimSpace(query.Get("worldTime")), 10, 64)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid worldTime: %v", err), http.StatusBadRequest)
		return
	}

	report, err := h.service.BuildReport(r.Context(), sourceID, targetID, domain.WorldTime(at))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	format := strings.ToLower(strings.TrimSpace(query.Get("format")))
	switch format {
	case "", "xlsx":
		var buf bytes.Buffer
		if err := h.service.WriteXLSX(report, &buf); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		filename := fmt.Sprintf("merge-report-%s-%d.xlsx", sourceID, at)
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
		w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
		_, _ = buf.WriteTo(w)
	case "csv":
		var buf bytes.Buffer
		if err := h.service.WriteCSV(report, &buf); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		filename := fmt.Sprintf("merge-report-%s-%d.csv", sourceID, at)
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
		w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
		_, _ = buf.WriteTo(w)
	case "json":
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
	default:
		http.Error(w, fmt.Sprintf("unsupported format %q", format), http.StatusBadRequest)
	}
}
