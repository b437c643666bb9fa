package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

// WriteWorkbook creates an XLSX file at path with a header row followed by the
// provided data rows.
func WriteWorkbook(t testing.TB, path string, header []string, rows [][]string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)

	writeRow := func(rowIndex int, values []string) {
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, rowIndex)
			if err != nil {
				t.Fatalf("cell name: %v", err)
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				t.Fatalf("set cell %s: %v", cell, err)
			}
		}
	}

	writeRow(1, header)
	for i, row := range rows {
		writeRow(i+2, row)
	}

	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save workbook %s: %v", path, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close workbook: %v", err)
	}
}

// VoterHeader is the canonical header used by workbook fixtures.
var VoterHeader = []string{"id_number", "first_name", "last_name"}

// VoterRows produces n fixture rows with deterministic identity numbers.
func VoterRows(n int) [][]string {
	rows := make([][]string, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, []string{identityNumber(i), "Test", "Voter"})
	}
	return rows
}

func identityNumber(i int) string {
	const digits = "0123456789"
	buf := make([]byte, 0, 13)
	value := 1000000000000 + int64(i)
	for value > 0 {
		buf = append([]byte{digits[value%10]}, buf...)
		value /= 10
	}
	return string(buf)
}
