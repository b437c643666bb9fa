package ingest

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"rollcall/internal/registry"
	"rollcall/internal/services"
)

// Column header aliases accepted for the identity number.
var identityHeaders = map[string]struct{}{
	"id_number":       {},
	"identity_number": {},
	"national_id":     {},
	"id":              {},
}

// ReadWorkbook opens a ward spreadsheet and returns one verification record
// per data row. The first row must be a header containing an identity-number
// column; unreadable or structurally broken files are a fatal ingest error.
func ReadWorkbook(path string) ([]registry.Record, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, services.Wrap(services.ErrFatalIngest, "ingest", "open workbook", path, err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, services.Wrap(services.ErrFatalIngest, "ingest", "read workbook", "workbook has no sheets", nil)
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, services.Wrap(services.ErrFatalIngest, "ingest", "read rows", path, err)
	}
	if len(rows) == 0 {
		return nil, services.Wrap(services.ErrFatalIngest, "ingest", "read rows", "workbook is empty", nil)
	}

	header := rows[0]
	identityCol := -1
	for i, cell := range header {
		if _, ok := identityHeaders[normalizeHeader(cell)]; ok {
			identityCol = i
			break
		}
	}
	if identityCol < 0 {
		return nil, services.Wrap(services.ErrFatalIngest, "ingest", "read header",
			fmt.Sprintf("no identity column in header %v", header), nil)
	}

	records := make([]registry.Record, 0, len(rows)-1)
	rowIndex := 0
	for _, row := range rows[1:] {
		if isBlankRow(row) {
			continue
		}
		rowIndex++
		record := registry.Record{
			RowIndex: rowIndex,
			Fields:   make(map[string]string, len(header)),
		}
		for i, cell := range row {
			if i >= len(header) {
				break
			}
			value := strings.TrimSpace(cell)
			if i == identityCol {
				record.IdentityNumber = value
			}
			if value != "" {
				record.Fields[normalizeHeader(header[i])] = value
			}
		}
		records = append(records, record)
	}
	return records, nil
}

func normalizeHeader(value string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(value), " ", "_"))
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
