// Package export writes structured records to spreadsheets.
package export

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
)

// Ensure XLSXExporter implements the interface.
var _ driven.RecordExporter = (*XLSXExporter)(nil)

// Sheet names.
const (
	FieldsSheet = "Fields"
	RowsSheet   = "Rows"
	PeopleSheet = "People"
)

// XLSXExporter writes a record as a workbook with a fields sheet and a
// rows sheet, plus a people sheet when the record names further people.
type XLSXExporter struct{}

// NewXLSXExporter creates an exporter.
func NewXLSXExporter() *XLSXExporter {
	return &XLSXExporter{}
}

// Export writes rec to w. Cells of invalid values are listed in the issues
// column of their row.
func (e *XLSXExporter) Export(ctx context.Context, rec *domain.StructuredRecord, schema domain.Schema, w io.Writer) error {
	if rec == nil {
		return fmt.Errorf("%w: no record", domain.ErrInvalidInput)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", FieldsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := writeFields(f, rec, schema); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := f.NewSheet(RowsSheet); err != nil {
		return fmt.Errorf("create rows sheet: %w", err)
	}
	if err := writeTable(f, RowsSheet, columnOrder(schema.RowFields, rec.Rows), rec.Rows); err != nil {
		return err
	}

	if len(rec.People) > 0 {
		if _, err := f.NewSheet(PeopleSheet); err != nil {
			return fmt.Errorf("create people sheet: %w", err)
		}
		if err := writeTable(f, PeopleSheet, columnOrder(schema.Fields, rec.People), rec.People); err != nil {
			return err
		}
	}
	f.SetActiveSheet(0)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

func writeFields(f *excelize.File, rec *domain.StructuredRecord, schema domain.Schema) error {
	headers := []any{"Field", "Value", "Confidence", "Valid", "Issue", "Page", "Run"}
	if err := f.SetSheetRow(FieldsSheet, "A1", &headers); err != nil {
		return fmt.Errorf("write field headers: %w", err)
	}

	row := 2
	for _, name := range fieldOrder(rec, schema) {
		fv := rec.Fields[name]
		values := []any{name, cellValue(fv.Value), string(fv.Confidence), fv.Valid, fv.Issue, page(fv), fv.Provenance.RunID}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(FieldsSheet, cell, &values); err != nil {
			return fmt.Errorf("write field %s: %w", name, err)
		}
		row++
	}

	_ = f.SetColWidth(FieldsSheet, "A", "A", 24)
	_ = f.SetColWidth(FieldsSheet, "B", "B", 36)
	_ = f.SetColWidth(FieldsSheet, "E", "E", 40)
	return nil
}

// writeTable writes one sheet row per entry with an issues column last.
func writeTable(f *excelize.File, sheet string, columns []string, entries []domain.Row) error {
	headers := make([]any, 0, len(columns)+1)
	for _, c := range columns {
		headers = append(headers, c)
	}
	headers = append(headers, "Issues")
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return fmt.Errorf("write %s headers: %w", sheet, err)
	}

	for i, r := range entries {
		values := make([]any, 0, len(columns)+1)
		var issues []string
		for _, c := range columns {
			fv, ok := r.Values[c]
			if !ok {
				values = append(values, nil)
				continue
			}
			values = append(values, cellValue(fv.Value))
			if !fv.Valid && fv.Issue != "" {
				issues = append(issues, c+": "+fv.Issue)
			}
		}
		values = append(values, strings.Join(issues, "; "))

		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i, err)
		}
	}
	return nil
}

// fieldOrder lists schema fields first, then any extra fields by name.
func fieldOrder(rec *domain.StructuredRecord, schema domain.Schema) []string {
	var names []string
	seen := make(map[string]bool)
	for _, f := range schema.Fields {
		if _, ok := rec.Fields[f.Name]; ok {
			names = append(names, f.Name)
			seen[f.Name] = true
		}
	}
	var extra []string
	for name := range rec.Fields {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

// columnOrder lists the declared columns, then extra columns found in rows.
func columnOrder(specs []domain.FieldSpec, rows []domain.Row) []string {
	var cols []string
	seen := make(map[string]bool)
	for _, f := range specs {
		cols = append(cols, f.Name)
		seen[f.Name] = true
	}
	var extra []string
	for _, r := range rows {
		for name := range r.Values {
			if !seen[name] {
				extra = append(extra, name)
				seen[name] = true
			}
		}
	}
	sort.Strings(extra)
	return append(cols, extra...)
}

func cellValue(v any) any {
	switch v.(type) {
	case nil, string, float64, int, bool:
		return v
	}
	return fmt.Sprint(v)
}

// page is the 1-based page for display, nil when unknown.
func page(fv domain.FieldValue) any {
	if fv.Provenance.Page < 0 {
		return nil
	}
	return fv.Provenance.Page + 1
}
