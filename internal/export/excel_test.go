package export

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/fmuoria/cv-triage/internal/filters"
	"github.com/fmuoria/cv-triage/internal/models"
)

var generatedAt = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testResult() filters.Result {
	return filters.Result{
		View:  filters.ViewQualified,
		Total: 2,
		Candidates: []models.Candidate{
			{
				Record: models.CandidateRecord{
					ID:              "a",
					SourceEmail:     "jobs@example.com",
					Tags:            []string{"maths", "senior"},
					CandidateStatus: models.StatusShortlisted,
					ExtractedFields: &models.ExtractedFields{
						CurrentEmployment: "Head of Mathematics",
						Justification:     "Strong teaching record",
					},
				},
				Name:          "Grace Wanjiru",
				Email:         "grace@example.com",
				Score:         9,
				Skills:        []string{"Mathematics", "Mentoring"},
				Countries:     []string{"Kenya"},
				EffectiveDate: "2024-05-02",
			},
			{
				Record:        models.CandidateRecord{ID: "b"},
				Name:          "Peter Otieno",
				Email:         "peter@example.com",
				Score:         6,
				EffectiveDate: "2024-05-01",
			},
		},
	}
}

// TestExportToExcel_EnsuresXlsxExtension tests that .xlsx extension is added if missing
func TestExportToExcel_EnsuresXlsxExtension(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "test_report")

	path, err := ExportToExcel(testResult(), outputPath, generatedAt)
	if err != nil {
		t.Fatalf("ExportToExcel() failed: %v", err)
	}

	expectedPath := outputPath + ".xlsx"
	if path != expectedPath {
		t.Errorf("Expected path %s, got %s", expectedPath, path)
	}
	if _, err := os.Stat(expectedPath); os.IsNotExist(err) {
		t.Errorf("Expected file at %s but it doesn't exist", expectedPath)
	}
}

// TestExportToExcel_HandlesExistingXlsxExtension tests that existing .xlsx extension is preserved
func TestExportToExcel_HandlesExistingXlsxExtension(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "test_report.XLSX")

	path, err := ExportToExcel(testResult(), outputPath, generatedAt)
	if err != nil {
		t.Fatalf("ExportToExcel() failed: %v", err)
	}
	if path != outputPath {
		t.Errorf("Expected path %s, got %s", outputPath, path)
	}
}

// TestExportToExcel_CleansPaths tests that paths are cleaned
func TestExportToExcel_CleansPaths(t *testing.T) {
	tmpDir := t.TempDir()
	messyPath := tmpDir + "/./sub/../report.xlsx"

	path, err := ExportToExcel(testResult(), messyPath, generatedAt)
	if err != nil {
		t.Fatalf("ExportToExcel() failed: %v", err)
	}
	if path != filepath.Join(tmpDir, "report.xlsx") {
		t.Errorf("Expected cleaned path, got %s", path)
	}
}

// TestExportToExcel_EmptyResults tests export with empty results
func TestExportToExcel_EmptyResults(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "empty_report.xlsx")

	if _, err := ExportToExcel(filters.Result{View: filters.ViewBest}, outputPath, generatedAt); err != nil {
		t.Fatalf("ExportToExcel() should handle empty results: %v", err)
	}

	if _, err := os.Stat(outputPath); os.IsNotExist(err) {
		t.Errorf("Expected file at %s but it doesn't exist", outputPath)
	}
}

func TestWriteWorkbookContents(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, testResult(), generatedAt); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("failed to reopen workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	want := []string{"Summary", "Candidates", "Details"}
	if len(sheets) != len(want) {
		t.Fatalf("sheets = %v, want %v", sheets, want)
	}
	for i := range want {
		if sheets[i] != want[i] {
			t.Errorf("sheet %d = %s, want %s", i, sheets[i], want[i])
		}
	}

	rows, err := f.GetRows("Candidates")
	if err != nil {
		t.Fatalf("GetRows() failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(rows))
	}

	first := rows[1]
	checks := map[int]string{0: "1", 1: "Grace Wanjiru", 2: "grace@example.com", 3: "9", 5: "Kenya", 6: "Mathematics, Mentoring", 7: "shortlisted", 8: "maths, senior", 9: "jobs@example.com"}
	for col, value := range checks {
		if first[col] != value {
			t.Errorf("column %d = %q, want %q", col, first[col], value)
		}
	}
	if rows[2][7] != "new" {
		t.Errorf("missing status should export as new, got %q", rows[2][7])
	}

	details, err := f.GetCellValue("Details", "B2")
	if err != nil {
		t.Fatalf("GetCellValue() failed: %v", err)
	}
	if details != "Head of Mathematics" {
		t.Errorf("Details B2 = %q", details)
	}

	avg, err := f.GetCellValue("Summary", "B15")
	if err != nil {
		t.Fatalf("GetCellValue() failed: %v", err)
	}
	if avg != "7.50" {
		t.Errorf("average score cell = %q, want 7.50", avg)
	}
}

func TestBandFor(t *testing.T) {
	tests := []struct {
		score int
		want  string
	}{
		{10, "Excellent (9-10)"},
		{9, "Excellent (9-10)"},
		{8, "Good (7-8)"},
		{7, "Good (7-8)"},
		{6, "Fair (6)"},
		{5, "Poor (0-5)"},
		{0, "Poor (0-5)"},
		{-1, "Poor (0-5)"},
	}

	for _, tt := range tests {
		if got := Bands[BandFor(tt.score)].Label; got != tt.want {
			t.Errorf("BandFor(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}
