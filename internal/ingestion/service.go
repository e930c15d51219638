package ingestion

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/loreforge/loregql/internal/domain"
	"github.com/loreforge/loregql/internal/timeline"
)

// EntitySaver is the slice of the timeline service bulk import writes through.
type EntitySaver interface {
	SaveEntity(ctx context.Context, input timeline.SaveEntityInput) (domain.EntityVersion, error)
}

type Service struct {
	saver   EntitySaver
	maxRows int
}

type Option func(*Service)

// WithMaxRows caps how many data rows a single upload may carry.
func WithMaxRows(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.maxRows = limit
		}
	}
}

func NewService(saver EntitySaver, opts ...Option) *Service {
	service := &Service{
		saver:   saver,
		maxRows: 10000,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// Request describes one bulk import upload.
type Request struct {
	BranchID   uuid.UUID
	EntityType string
	WorldTime  domain.WorldTime
	FileName   string
	Data       io.Reader
	CreatedBy  string
}

// RowError records why one data row could not be imported.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// Summary reports the outcome of a bulk import.
type Summary struct {
	TotalRows        int         `json:"totalRows"`
	ImportedRows     int         `json:"importedRows"`
	FailedRows       int         `json:"failedRows"`
	RowErrors        []RowError  `json:"rowErrors"`
	CreatedEntityIDs []uuid.UUID `json:"createdEntityIds"`
}

type tableData struct {
	headers []string
	rows    [][]string
}

// Import reads the uploaded table and creates one entity version per data
// row. Rows that fail to parse or persist are reported in the summary; the
// rest are imported anyway.
func (s *Service) Import(ctx context.Context, req Request) (Summary, error) {
	if req.EntityType = strings.TrimSpace(req.EntityType); req.EntityType == "" {
		return Summary{}, fmt.Errorf("entity type is required")
	}
	payload, err := io.ReadAll(req.Data)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read upload: %w", err)
	}

	table, err := parseTable(req.FileName, payload)
	if err != nil {
		return Summary{}, err
	}
	if len(table.rows) > s.maxRows {
		return Summary{}, fmt.Errorf("upload has %d rows, limit is %d", len(table.rows), s.maxRows)
	}

	idColumn := -1
	for idx, header := range table.headers {
		if header == "id" {
			idColumn = idx
			break
		}
	}

	summary := Summary{
		TotalRows:        len(table.rows),
		RowErrors:        []RowError{},
		CreatedEntityIDs: []uuid.UUID{},
	}
	for rowIdx, row := range table.rows {
		rowNumber := rowIdx + 2 // 1-based, after the header row

		entityID := uuid.New()
		if idColumn >= 0 && strings.TrimSpace(row[idColumn]) != "" {
			parsed, parseErr := uuid.Parse(strings.TrimSpace(row[idColumn]))
			if parseErr != nil {
				summary.FailedRows++
				summary.RowErrors = append(summary.RowErrors, RowError{Row: rowNumber, Message: fmt.Sprintf("invalid id: %v", parseErr)})
				continue
			}
			entityID = parsed
		}

		entityPayload, buildErr := buildPayload(table.headers, row, idColumn)
		if buildErr != nil {
			summary.FailedRows++
			summary.RowErrors = append(summary.RowErrors, RowError{Row: rowNumber, Message: buildErr.Error()})
			continue
		}

		if _, saveErr := s.saver.SaveEntity(ctx, timeline.SaveEntityInput{
			Ref:       domain.EntityRef{EntityType: req.EntityType, EntityID: entityID},
			BranchID:  req.BranchID,
			At:        req.WorldTime,
			Payload:   entityPayload,
			CreatedBy: req.CreatedBy,
		}); saveErr != nil {
			log.Printf("[INGEST] row %d failed: %v", rowNumber, saveErr)
			summary.FailedRows++
			summary.RowErrors = append(summary.RowErrors, RowError{Row: rowNumber, Message: saveErr.Error()})
			continue
		}

		summary.ImportedRows++
		summary.CreatedEntityIDs = append(summary.CreatedEntityIDs, entityID)
	}

	return summary, nil
}

func parseTable(fileName string, payload []byte) (tableData, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv", ".txt", "":
		return parseCSV(payload)
	case ".xlsx", ".xlsm":
		return parseExcel(payload)
	default:
		return tableData{}, fmt.Errorf("unsupported file type %q", ext)
	}
}

func parseCSV(payload []byte) (tableData, error) {
	csvReader := csv.NewReader(bytes.NewReader(payload))
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read csv: %w", err)
	}
	return normalizeTable(records)
}

func parseExcel(payload []byte) (tableData, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return tableData{}, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return tableData{}, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return normalizeTable(rows)
}

func normalizeTable(records [][]string) (tableData, error) {
	var headerRow []string
	var dataRows [][]string
	for _, row := range records {
		if len(cleanRow(row)) == 0 {
			continue
		}
		if headerRow == nil {
			headerRow = row
			continue
		}
		dataRows = append(dataRows, row)
	}
	if headerRow == nil {
		return tableData{}, errors.New("no rows found in file")
	}

	headers := sanitizeHeaders(headerRow)
	for i := range dataRows {
		dataRows[i] = padRow(dataRows[i], len(headers))
	}
	return tableData{headers: headers, rows: dataRows}, nil
}

func cleanRow(row []string) []string {
	var cleaned []string
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			cleaned = append(cleaned, cell)
		}
	}
	return cleaned
}

// sanitizeHeaders keeps dots intact: a header like "resources.gold" addresses
// a nested record field in the built payload.
func sanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)

	for idx, value := range raw {
		name := strings.TrimSpace(value)
		name = strings.ReplaceAll(name, " ", "_")
		name = strings.ReplaceAll(name, "-", "_")
		name = strings.Trim(name, "_.")
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}

		base := name
		count := seen[base]
		if count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
		}
		seen[base] = count + 1

		headers[idx] = name
	}

	return headers
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	for i := len(row); i < length; i++ {
		padded[i] = ""
	}
	return padded
}

func buildPayload(headers []string, row []string, idColumn int) (domain.Payload, error) {
	payload := domain.Payload{}
	for idx, header := range headers {
		if idx == idColumn {
			continue
		}
		raw := strings.TrimSpace(row[idx])
		if raw == "" {
			continue
		}
		if err := setNested(payload, header, inferValue(raw)); err != nil {
			return nil, fmt.Errorf("column %q: %w", header, err)
		}
	}
	if len(payload) == 0 {
		return nil, errors.New("row has no values")
	}
	return payload, nil
}

func setNested(payload domain.Payload, path string, value any) error {
	segments := strings.Split(path, ".")
	node := payload
	for _, segment := range segments[:len(segments)-1] {
		next, ok := node[segment]
		if !ok {
			child := map[string]any{}
			node[segment] = child
			node = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("segment %q is not a record", segment)
		}
		node = child
	}
	node[segments[len(segments)-1]] = value
	return nil
}

func inferValue(raw string) any {
	lowered := strings.ToLower(raw)
	if lowered == "true" || lowered == "false" {
		return lowered == "true"
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}
