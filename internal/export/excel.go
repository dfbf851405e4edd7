package export

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/fmuoria/cv-triage/internal/filters"
	"github.com/fmuoria/cv-triage/internal/models"
)

const (
	summarySheet    = "Summary"
	candidatesSheet = "Candidates"
	detailsSheet    = "Details"
)

// Band is a score colour band
type Band struct {
	Label string
	Min   int
	Color string
}

// Bands are checked top to bottom; the first with Min <= score applies
var Bands = []Band{
	{Label: "Excellent (9-10)", Min: 9, Color: "C6EFCE"},
	{Label: "Good (7-8)", Min: 7, Color: "FFEB9C"},
	{Label: "Fair (6)", Min: filters.MinQualifyingScore, Color: "FFC7CE"},
	{Label: "Poor (0-5)", Min: 0, Color: "FF9999"},
}

// BandFor returns the index into Bands for score
func BandFor(score int) int {
	for i, b := range Bands {
		if score >= b.Min {
			return i
		}
	}
	return len(Bands) - 1
}

var thinBorder = []excelize.Border{
	{Type: "left", Color: "000000", Style: 1},
	{Type: "right", Color: "000000", Style: 1},
	{Type: "top", Color: "000000", Style: 1},
	{Type: "bottom", Color: "000000", Style: 1},
}

// ExportToExcel writes the result's workbook to outputPath, adding .xlsx if missing
func ExportToExcel(res filters.Result, outputPath string, generatedAt time.Time) (string, error) {
	// Ensure output path has .xlsx extension
	if !strings.HasSuffix(strings.ToLower(outputPath), ".xlsx") {
		outputPath = outputPath + ".xlsx"
	}

	// Clean the path for cross-platform compatibility (Windows paths)
	outputPath = filepath.Clean(outputPath)

	f, err := Build(res, generatedAt)
	if err != nil {
		return "", err
	}
	defer f.Close()

	// Try to save the file directly
	if err := f.SaveAs(outputPath); err != nil {
		// If direct save fails, try buffer write fallback
		var buf bytes.Buffer
		if writeErr := f.Write(&buf); writeErr != nil {
			return "", fmt.Errorf("failed to save Excel file: direct save failed (%v), buffer write also failed: %w", err, writeErr)
		}

		if fileErr := os.WriteFile(outputPath, buf.Bytes(), 0644); fileErr != nil {
			return "", fmt.Errorf("failed to save Excel file: direct save failed (%v), file write failed: %w", err, fileErr)
		}
	}

	return outputPath, nil
}

// Write streams the result's workbook to w
func Write(w io.Writer, res filters.Result, generatedAt time.Time) error {
	f, err := Build(res, generatedAt)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write Excel file: %w", err)
	}
	return nil
}

// Build creates the workbook for a pipeline result. The caller closes it.
func Build(res filters.Result, generatedAt time.Time) (*excelize.File, error) {
	f := excelize.NewFile()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}
	for _, name := range []string{candidatesSheet, detailsSheet} {
		if _, err := f.NewSheet(name); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
	}

	if err := createSummarySheet(f, res, generatedAt); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create summary sheet: %w", err)
	}

	if err := createCandidatesSheet(f, res.Candidates); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create candidates sheet: %w", err)
	}

	if err := createDetailsSheet(f, res.Candidates); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create details sheet: %w", err)
	}

	f.SetActiveSheet(0)
	return f, nil
}

// createSummarySheet writes the view, counts and score statistics
func createSummarySheet(f *excelize.File, res filters.Result, generatedAt time.Time) error {
	sheet := summarySheet
	f.SetColWidth(sheet, "A", "A", 28)
	f.SetColWidth(sheet, "B", "B", 40)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "left", Vertical: "center"},
	})
	if err != nil {
		return err
	}

	labelStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})
	if err != nil {
		return err
	}

	row := 1
	section := func(title string) {
		f.SetCellValue(sheet, cell("A", row), title)
		f.SetCellStyle(sheet, cell("A", row), cell("B", row), headerStyle)
		f.MergeCell(sheet, cell("A", row), cell("B", row))
		row++
	}
	label := func(name string, value any) {
		f.SetCellValue(sheet, cell("A", row), name)
		f.SetCellStyle(sheet, cell("A", row), cell("A", row), labelStyle)
		f.SetCellValue(sheet, cell("B", row), value)
		row++
	}

	section("Candidate Report")
	row++
	label("View:", string(res.View))
	label("Rules:", rulesLabel(res.Rules))
	label("Generated:", generatedAt.Format("2006-01-02 15:04:05"))
	label("Matching Candidates:", res.Total)
	label("Exported Candidates:", len(res.Candidates))
	row++

	section("Statistics")
	if len(res.Candidates) == 0 {
		label("Note:", "No candidates matched this view.")
		return nil
	}

	counts := make([]int, len(Bands))
	total, lowest, highest := 0, res.Candidates[0].Score, res.Candidates[0].Score
	for _, c := range res.Candidates {
		counts[BandFor(c.Score)]++
		total += c.Score
		lowest = min(lowest, c.Score)
		highest = max(highest, c.Score)
	}

	for i, b := range Bands {
		label(b.Label+":", counts[i])
	}
	row++
	label("Average Score:", fmt.Sprintf("%.2f", float64(total)/float64(len(res.Candidates))))
	label("Highest Score:", highest)
	label("Lowest Score:", lowest)
	return nil
}

// createCandidatesSheet writes one colour-banded row per candidate in rank order
func createCandidatesSheet(f *excelize.File, candidates []models.Candidate) error {
	sheet := candidatesSheet
	widths := []float64{8, 25, 30, 8, 12, 20, 35, 14, 20, 25}
	for i, w := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheet, col, col, w)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border:    thinBorder,
	})
	if err != nil {
		return err
	}

	bandStyles := make([]int, len(Bands))
	for i, b := range Bands {
		style, err := f.NewStyle(&excelize.Style{
			Fill:   excelize.Fill{Type: "pattern", Color: []string{b.Color}, Pattern: 1},
			Border: thinBorder,
		})
		if err != nil {
			return err
		}
		bandStyles[i] = style
	}

	headers := []string{"Rank", "Candidate", "Email", "Score", "Date", "Countries", "Skills", "Status", "Tags", "Source"}
	lastCol, _ := excelize.ColumnNumberToName(len(headers))
	for i, header := range headers {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetCellValue(sheet, cell(col, 1), header)
	}
	f.SetCellStyle(sheet, "A1", cell(lastCol, 1), headerStyle)

	for i, c := range candidates {
		row := i + 2
		values := []any{
			i + 1,
			c.Name,
			c.Email,
			c.Score,
			c.EffectiveDate,
			strings.Join(c.Countries, ", "),
			strings.Join(c.Skills, ", "),
			string(statusOf(c)),
			strings.Join(c.Record.Tags, ", "),
			c.Record.SourceEmail,
		}
		if err := f.SetSheetRow(sheet, cell("A", row), &values); err != nil {
			return err
		}
		f.SetCellStyle(sheet, cell("A", row), cell(lastCol, row), bandStyles[BandFor(c.Score)])
	}

	lastRow := max(len(candidates)+1, 2)
	if err := f.AutoFilter(sheet, fmt.Sprintf("A1:%s", cell(lastCol, lastRow)), nil); err != nil {
		return err
	}

	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

// createDetailsSheet writes the longer extracted text per candidate
func createDetailsSheet(f *excelize.File, candidates []models.Candidate) error {
	sheet := detailsSheet
	f.SetColWidth(sheet, "A", "A", 25)
	f.SetColWidth(sheet, "B", "E", 50)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
	})
	if err != nil {
		return err
	}

	wrapStyle, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
	})
	if err != nil {
		return err
	}

	headers := []any{"Candidate", "Current Employment", "Job History", "Education", "Justification"}
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return err
	}
	f.SetCellStyle(sheet, "A1", "E1", headerStyle)

	for i, c := range candidates {
		row := i + 2
		fields := c.Record.ExtractedFields
		if fields == nil {
			fields = &models.ExtractedFields{}
		}
		values := []any{c.Name, fields.CurrentEmployment, fields.JobHistory, fields.Education, fields.Justification}
		if err := f.SetSheetRow(sheet, cell("A", row), &values); err != nil {
			return err
		}
		f.SetCellStyle(sheet, cell("A", row), cell("E", row), wrapStyle)
	}
	return nil
}

func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}

func statusOf(c models.Candidate) models.CandidateStatus {
	if c.Record.CandidateStatus == "" {
		return models.StatusNew
	}
	return c.Record.CandidateStatus
}

func rulesLabel(r filters.Rules) string {
	if !r.Active {
		return "Base qualification"
	}
	label := r.Config.Name
	if r.PresetID != "" {
		label += " / preset " + r.PresetID
	}
	if r.Config.Strict {
		label += " (strict)"
	}
	if r.Fallback {
		label += " (fallback)"
	}
	return label
}
