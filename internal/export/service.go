package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/loreforge/loregql/internal/domain"
	"github.com/loreforge/loregql/internal/repository"
)

// Previewer computes a merge preview without committing anything.
type Previewer interface {
	Preview(ctx context.Context, sourceID, targetID uuid.UUID, at domain.WorldTime) (domain.MergePreview, error)
}

// Report is a merge preview decorated with branch names for human readers.
type Report struct {
	Preview          domain.MergePreview `json:"preview"`
	SourceBranchName string              `json:"sourceBranchName"`
	TargetBranchName string              `json:"targetBranchName"`
	GeneratedAt      time.Time           `json:"generatedAt"`
}

type Service struct {
	previewer Previewer
	branches  repository.BranchRepository
	now       func() time.Time
}

type Option func(*Service)

// WithClock overrides the report timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(previewer Previewer, branches repository.BranchRepository, opts ...Option) *Service {
	service := &Service{
		previewer: previewer,
		branches:  branches,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// BuildReport previews the merge and resolves branch names for the header.
func (s *Service) BuildReport(ctx context.Context, sourceID, targetID uuid.UUID, at domain.WorldTime) (Report, error) {
	preview, err := s.previewer.Preview(ctx, sourceID, targetID, at)
	if err != nil {
		return Report{}, err
	}
	source, err := s.branches.GetByID(ctx, sourceID)
	if err != nil {
		return Report{}, err
	}
	target, err := s.branches.GetByID(ctx, targetID)
	if err != nil {
		return Report{}, err
	}
	return Report{
		Preview:          preview,
		SourceBranchName: source.Name,
		TargetBranchName: target.Name,
		GeneratedAt:      s.now().UTC(),
	}, nil
}

const (
	summarySheet      = "Summary"
	conflictSheet     = "Conflicts"
	autoResolvedSheet = "Auto-Resolved"
)

var conflictHeader = []string{"Entity Type", "Entity ID", "Path", "Conflict Type", "Description", "Base Value", "Source Value", "Target Value"}

var autoResolvedHeader = []string{"Entity Type", "Entity ID", "Path", "Resolved To", "Base Value", "Source Value", "Target Value", "Resolved Value"}

// WriteXLSX renders the report as a workbook with a summary sheet plus one
// sheet each for conflicts and auto-resolved changes.
func (s *Service) WriteXLSX(report Report, w io.Writer) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("rename summary sheet: %w", err)
	}
	if _, err := f.NewSheet(conflictSheet); err != nil {
		return fmt.Errorf("create conflicts sheet: %w", err)
	}
	if _, err := f.NewSheet(autoResolvedSheet); err != nil {
		return fmt.Errorf("create auto-resolved sheet: %w", err)
	}

	summaryRows := [][]any{
		{"Source Branch", report.SourceBranchName},
		{"Target Branch", report.TargetBranchName},
		{"World Time", int64(report.Preview.WorldTime)},
		{"Generated At", report.GeneratedAt.Format(time.RFC3339)},
		{"Entities Affected", len(report.Preview.Entities)},
		{"Conflicts", report.Preview.TotalConflicts},
		{"Auto-Resolved Changes", report.Preview.TotalAutoResolved},
		{"Requires Manual Resolution", report.Preview.RequiresManualResolution},
	}
	for rowIdx, row := range summaryRows {
		for colIdx, value := range row {
			cell, err := excelize.CoordinatesToCellName(colIdx+1, rowIdx+1)
			if err != nil {
				return fmt.Errorf("summary cell: %w", err)
			}
			if err := f.SetCellValue(summarySheet, cell, value); err != nil {
				return fmt.Errorf("write summary cell: %w", err)
			}
		}
	}

	if err := writeSheetRows(f, conflictSheet, conflictHeader, report.conflictRows()); err != nil {
		return err
	}
	if err := writeSheetRows(f, autoResolvedSheet, autoResolvedHeader, report.autoResolvedRows()); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// WriteCSV renders the conflict and auto-resolved rows as one flat CSV with a
// leading Kind column.
func (s *Service) WriteCSV(report Report, w io.Writer) error {
	writer := csv.NewWriter(w)

	header := append([]string{"Kind"}, conflictHeader...)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, row := range report.conflictRows() {
		if err := writer.Write(append([]string{"conflict"}, row...)); err != nil {
			return fmt.Errorf("write conflict row: %w", err)
		}
	}
	for _, row := range report.autoResolvedRows() {
		// CSV carries the resolution side in the Conflict Type column and
		// drops the resolved value to keep one header for both kinds.
		flattened := append([]string{"autoResolved"}, row[0], row[1], row[2], row[3], "", row[4], row[5], row[6])
		if err := writer.Write(flattened); err != nil {
			return fmt.Errorf("write auto-resolved row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func (r Report) conflictRows() [][]string {
	rows := [][]string{}
	for _, entity := range r.Preview.Entities {
		for _, conflict := range entity.Conflicts {
			rows = append(rows, []string{
				entity.EntityType,
				entity.EntityID.String(),
				conflict.Path,
				string(conflict.Type),
				domain.ConflictDescription(conflict),
				formatCellValue(conflict.BaseValue),
				formatCellValue(conflict.SourceValue),
				formatCellValue(conflict.TargetValue),
			})
		}
	}
	return rows
}

func (r Report) autoResolvedRows() [][]string {
	rows := [][]string{}
	for _, entity := range r.Preview.Entities {
		for _, change := range entity.AutoResolved {
			rows = append(rows, []string{
				entity.EntityType,
				entity.EntityID.String(),
				change.Path,
				string(change.ResolvedTo),
				formatCellValue(change.BaseValue),
				formatCellValue(change.SourceValue),
				formatCellValue(change.TargetValue),
				formatCellValue(change.ResolvedValue),
			})
		}
	}
	return rows
}

func writeSheetRows(f *excelize.File, sheet string, header []string, rows [][]string) error {
	for colIdx, title := range header {
		cell, err := excelize.CoordinatesToCellName(colIdx+1, 1)
		if err != nil {
			return fmt.Errorf("header cell: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, title); err != nil {
			return fmt.Errorf("write header cell: %w", err)
		}
	}
	for rowIdx, row := range rows {
		for colIdx, value := range row {
			cell, err := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			if err != nil {
				return fmt.Errorf("row cell: %w", err)
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return fmt.Errorf("write row cell: %w", err)
			}
		}
	}
	return nil
}

func formatCellValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case bool:
		return strconv.FormatBool(typed)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprintf("%v", typed)
		}
		return string(encoded)
	}
}
