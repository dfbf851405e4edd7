package ingestion

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const (
	// MinExtractedTextLength is the minimum text length required for successful extraction
	MinExtractedTextLength = 50
	// BinarySampleSize is the number of bytes to sample for binary detection
	BinarySampleSize = 1000
	// BinaryThreshold is the proportion of non-printable characters that indicates binary data
	BinaryThreshold = 0.3
	// maxDocxXMLSize caps the decompressed document.xml read from a .docx
	maxDocxXMLSize = 20 << 20
)

// SupportedExtensions lists the CV formats ExtractText understands
var SupportedExtensions = []string{".pdf", ".doc", ".docx", ".txt"}

// ErrUnsupportedType is returned for files with an unknown extension
var ErrUnsupportedType = errors.New("unsupported file type")

// IsSupported reports whether filename has a CV extension
func IsSupported(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, s := range SupportedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// ExtractText extracts text from PDF, DOCX, DOC, or TXT files
func ExtractText(ctx context.Context, filePath string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filePath))

	switch ext {
	case ".txt":
		return extractPlainText(filePath)
	case ".pdf":
		return extractPDF(ctx, filePath)
	case ".doc":
		return extractDOC(ctx, filePath)
	case ".docx":
		return extractDOCX(filePath)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, ext)
	}
}

func extractPlainText(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read text file: %w", err)
	}
	content := string(data)
	if IsBinaryData(content) {
		return "", fmt.Errorf("file has a .txt extension but contains binary data: %s", filePath)
	}
	return checkLength(content, filePath)
}

// extractPDF extracts text from PDF using pdftotext
func extractPDF(ctx context.Context, filePath string) (string, error) {
	cmd := exec.CommandContext(ctx, "pdftotext", "-layout", filePath, "-")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("PDF extraction requires 'pdftotext' (install poppler-utils): %w", err)
	}
	return checkLength(string(output), filePath)
}

// extractDOC extracts text from legacy Word files using antiword
func extractDOC(ctx context.Context, filePath string) (string, error) {
	cmd := exec.CommandContext(ctx, "antiword", filePath)
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("DOC extraction requires 'antiword': %w", err)
	}
	return checkLength(string(output), filePath)
}

// extractDOCX reads the paragraphs of word/document.xml inside the archive
func extractDOCX(filePath string) (string, error) {
	archive, err := zip.OpenReader(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open DOCX archive: %w", err)
	}
	defer archive.Close()

	for _, f := range archive.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("failed to open DOCX body: %w", err)
		}
		defer rc.Close()

		text, err := docxText(io.LimitReader(rc, maxDocxXMLSize))
		if err != nil {
			return "", err
		}
		return checkLength(text, filePath)
	}
	return "", fmt.Errorf("DOCX archive has no word/document.xml: %s", filePath)
}

// docxText collects w:t runs, breaking lines at paragraphs and breaks
func docxText(r io.Reader) (string, error) {
	var (
		sb     strings.Builder
		inText bool
	)
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to parse DOCX body: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				sb.WriteByte('\t')
			case "br":
				sb.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return sb.String(), nil
}

func checkLength(text, filePath string) (string, error) {
	if len(strings.TrimSpace(text)) < MinExtractedTextLength {
		return "", fmt.Errorf("extracted text is too short (likely failed extraction) from: %s", filePath)
	}
	return text, nil
}

// IsBinaryData checks if content appears to be binary (PDF/ZIP markers)
func IsBinaryData(content string) bool {
	if len(content) == 0 {
		return false
	}

	if strings.HasPrefix(content, "%PDF-") {
		return true
	}

	// ZIP magic number (DOCX files)
	if len(content) >= 2 && content[:2] == "PK" {
		return true
	}

	sampleSize := min(BinarySampleSize, len(content))
	nonPrintable := 0
	for i := 0; i < sampleSize; i++ {
		ch := content[i]
		if ch < 32 && ch != '\n' && ch != '\r' && ch != '\t' {
			nonPrintable++
		}
	}

	return float64(nonPrintable)/float64(sampleSize) > BinaryThreshold
}

// SanitizeUTF8 drops invalid UTF-8 sequences and NUL bytes
func SanitizeUTF8(s string) string {
	if utf8.ValidString(s) && !strings.ContainsRune(s, 0) {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if r == utf8.RuneError || r == 0 {
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
