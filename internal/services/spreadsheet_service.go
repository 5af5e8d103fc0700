package services

import (
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"realtycrm/internal/crm"
	"realtycrm/internal/crm/filter"
	"realtycrm/internal/crm/view"
	"realtycrm/internal/models"
	"realtycrm/internal/settings"
)

// maxImportRows caps one upload
const maxImportRows = 5000

// SpreadsheetService exports filtered record lists to xlsx and imports
// records from xlsx uploads
type SpreadsheetService struct {
	pipeline *PipelineService
	settings *settings.Store
	now      func() time.Time
}

// NewSpreadsheetService creates a new spreadsheet service. st may be nil.
func NewSpreadsheetService(pipeline *PipelineService, st *settings.Store) *SpreadsheetService {
	return &SpreadsheetService{pipeline: pipeline, settings: st, now: time.Now}
}

var exportColumns = []string{
	"ID", "Name", "Phone", "Email", "Location", "Stage", "Days In Stage",
	"Value", "Source", "Project", "Assigned To", "Tags", "Created At",
}

// SheetName is the worksheet title used for kind
func SheetName(kind crm.EntityKind) string {
	p := kind.Plural()
	return strings.ToUpper(p[:1]) + p[1:]
}

// Export writes the records matching filters, in sort order, as an xlsx
// workbook and returns how many rows were written. Custom fields configured
// for display in settings become extra columns.
func (s *SpreadsheetService) Export(ctx context.Context, kind crm.EntityKind, filters filter.State, sort view.SortState, w io.Writer) (int, error) {
	records, err := s.pipeline.Filtered(ctx, kind, filters, sort)
	if err != nil {
		return 0, err
	}

	var extra []string
	if s.settings != nil {
		extra = s.settings.Get().CustomFieldDisplay[string(kind)]
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := SheetName(kind)
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return 0, fmt.Errorf("failed to name sheet: %w", err)
	}

	header := make([]any, 0, len(exportColumns)+len(extra))
	for _, c := range exportColumns {
		header = append(header, c)
	}
	for _, key := range extra {
		header = append(header, key)
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return 0, fmt.Errorf("failed to write header: %w", err)
	}

	now := s.now()
	for i, r := range records {
		assigned := ""
		if r.IsAssigned() {
			assigned = *r.AssignedTo
		}
		row := []any{
			r.ID, r.Name, r.Phone, r.Email, r.Location, r.Stage,
			crm.AgeDays(r.StageEnteredAt, now), r.Value, r.Source, r.Project,
			assigned, strings.Join(r.Tags, ", "), r.CreatedAt.Format("2006-01-02 15:04"),
		}
		for _, key := range extra {
			v, _ := r.Field(models.CustomFieldAttr(key))
			row = append(row, crm.AsString(v))
		}

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return 0, err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return 0, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.Write(w); err != nil {
		return 0, fmt.Errorf("failed to write workbook: %w", err)
	}
	return len(records), nil
}

// ImportError reports one rejected spreadsheet row
type ImportError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// ImportResult summarises an import
type ImportResult struct {
	Created int           `json:"created"`
	Errors  []ImportError `json:"errors"`
}

// Import creates one record per data row of the first sheet. The first row
// holds the column names; unknown columns are ignored and bad rows are
// reported without stopping the import.
func (s *SpreadsheetService) Import(ctx context.Context, kind crm.EntityKind, r io.Reader, actor string) (ImportResult, error) {
	result := ImportResult{Errors: []ImportError{}}

	f, err := excelize.OpenReader(r)
	if err != nil {
		return result, invalid(fmt.Errorf("failed to open workbook: %w", err))
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return result, invalid(fmt.Errorf("no sheets found in workbook"))
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return result, invalid(fmt.Errorf("failed to read sheet '%s': %w", sheets[0], err))
	}
	if len(rows) < 2 {
		return result, nil
	}
	if len(rows)-1 > maxImportRows {
		return result, invalid(fmt.Errorf("at most %d rows can be imported at once, got %d", maxImportRows, len(rows)-1))
	}

	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = normalizeHeader(h)
	}

	for i, row := range rows[1:] {
		rowNum := i + 2
		if isEmptyRow(row) {
			continue
		}
		in, err := inputFromRow(headers, row)
		if err == nil {
			var rec crm.Record
			rec, err = in.ToRecord(kind, s.now())
			if err == nil {
				_, err = s.pipeline.Create(ctx, kind, rec, actor)
			}
		}
		if err != nil {
			result.Errors = append(result.Errors, ImportError{Row: rowNum, Error: err.Error()})
			continue
		}
		result.Created++
	}

	log.Printf("📥 [IMPORT] %s: %d created, %d rejected", kind.Plural(), result.Created, len(result.Errors))
	return result, nil
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(h)
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func inputFromRow(headers, row []string) (models.RecordInput, error) {
	var in models.RecordInput
	for i, h := range headers {
		if i >= len(row) {
			break
		}
		cell := strings.TrimSpace(row[i])
		if cell == "" {
			continue
		}
		switch h {
		case "name", "client":
			in.Name = cell
		case "phone", "mobile":
			in.Phone = cell
		case "email":
			in.Email = cell
		case "location":
			in.Location = cell
		case "stage", "status":
			in.Stage = cell
		case "value", "budget", "dealvalue":
			v, err := strconv.ParseFloat(strings.ReplaceAll(cell, ",", ""), 64)
			if err != nil {
				return in, fmt.Errorf("%s: %q is not a number", h, cell)
			}
			in.Value = &v
		case "source":
			in.Source = cell
		case "project":
			in.Project = cell
		case "tags":
			for _, tag := range strings.Split(cell, ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					in.Tags = append(in.Tags, tag)
				}
			}
		case "assignedto", "executive":
			a := cell
			in.AssignedTo = &a
		case "scheduledat", "visitdate", "date":
			t, ok := crm.ParseTime(cell)
			if !ok {
				return in, fmt.Errorf("%s: %q is not a date", h, cell)
			}
			in.ScheduledAt = &t
			in.VisitDate = &t
		case "notes":
			in.Notes = cell
		}
	}
	return in, nil
}
