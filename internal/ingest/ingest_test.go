package ingest_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"rollcall/internal/ingest"
	"rollcall/internal/services"
	"rollcall/internal/testsupport"
)

func TestParseWardFilename(t *testing.T) {
	cases := []struct {
		name string
		ward int
		ok   bool
	}{
		{"WARD_12_voters_march.xlsx", 12, true},
		{"ward_3_export.XLSX", 3, true},
		{"/uploads/WARD_7_final.xlsx", 7, true},
		{"WARD_12.xlsx", 0, false},
		{"WARD_0_voters.xlsx", 0, false},
		{"district_12_voters.xlsx", 0, false},
		{"WARD_12_voters.csv", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		ward, err := ingest.ParseWardFilename(tc.name)
		if tc.ok {
			if err != nil {
				t.Errorf("ParseWardFilename(%q) failed: %v", tc.name, err)
				continue
			}
			if ward != tc.ward {
				t.Errorf("ParseWardFilename(%q) = %d, want %d", tc.name, ward, tc.ward)
			}
		} else if err == nil {
			t.Errorf("ParseWardFilename(%q) should fail", tc.name)
		}
	}
}

func TestFingerprintChangesOnModification(t *testing.T) {
	path := filepath.Join(t.TempDir(), "WARD_1_voters.xlsx")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	first, err := ingest.Fingerprint(path)
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	second, err := ingest.Fingerprint(path)
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	if first != second {
		t.Fatalf("fingerprint must be stable for unmodified file: %s vs %s", first, second)
	}

	later := time.Now().Add(time.Second)
	if err := os.WriteFile(path, []byte("v2-longer"), 0o644); err != nil {
		t.Fatalf("rewrite file: %v", err)
	}
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	changed, err := ingest.Fingerprint(path)
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	if changed == first {
		t.Fatal("fingerprint must change when the file is modified")
	}
}

func TestReadWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "WARD_5_voters.xlsx")
	testsupport.WriteWorkbook(t, path,
		[]string{"ID Number", "First Name", "Last Name"},
		[][]string{
			{"1000000000001", "Ada", "Mokoena"},
			{"1000000000002", "Sipho", "Dlamini"},
			{"", "", ""},
			{"1000000000003", "Thandi", "Nkosi"},
		},
	)

	records, err := ingest.ReadWorkbook(path)
	if err != nil {
		t.Fatalf("ReadWorkbook failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records (blank row skipped), got %d", len(records))
	}
	if records[0].IdentityNumber != "1000000000001" {
		t.Fatalf("unexpected identity number %q", records[0].IdentityNumber)
	}
	if records[2].RowIndex != 3 {
		t.Fatalf("expected contiguous row indices, got %d", records[2].RowIndex)
	}
	if records[1].Fields["first_name"] != "Sipho" {
		t.Fatalf("expected raw fields keyed by normalized header, got %v", records[1].Fields)
	}
}

func TestReadWorkbookMissingIdentityColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "WARD_5_voters.xlsx")
	testsupport.WriteWorkbook(t, path,
		[]string{"Name", "Surname"},
		[][]string{{"Ada", "Mokoena"}},
	)

	if _, err := ingest.ReadWorkbook(path); !errors.Is(err, services.ErrFatalIngest) {
		t.Fatalf("expected fatal ingest error, got %v", err)
	}
}

func TestReadWorkbookUnreadableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "WARD_5_voters.xlsx")
	if err := os.WriteFile(path, []byte("not a workbook"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	if _, err := ingest.ReadWorkbook(path); !errors.Is(err, services.ErrFatalIngest) {
		t.Fatalf("expected fatal ingest error, got %v", err)
	}
}
