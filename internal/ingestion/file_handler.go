package ingestion

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// MaxUploadSize caps a single stored CV
const MaxUploadSize = 20 << 20

// FileHandler stores uploaded CVs under one directory, keyed by record id
type FileHandler struct {
	uploadsDir string
}

// NewFileHandler creates a new file handler
func NewFileHandler(uploadsDir string) *FileHandler {
	return &FileHandler{
		uploadsDir: uploadsDir,
	}
}

// Dir is the uploads directory
func (fh *FileHandler) Dir() string {
	return fh.uploadsDir
}

// PathFor is where the file for record id with original name filename lives
func (fh *FileHandler) PathFor(id, filename string) string {
	return filepath.Join(fh.uploadsDir, id+strings.ToLower(filepath.Ext(filename)))
}

// SaveUploadedFile stores content as the file of record id. Content beyond
// MaxUploadSize is rejected.
func (fh *FileHandler) SaveUploadedFile(id, filename string, content io.Reader) (string, error) {
	if !IsSupported(filename) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, filepath.Ext(filename))
	}
	if err := os.MkdirAll(fh.uploadsDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create uploads directory: %w", err)
	}

	filePath := fh.PathFor(id, filename)
	file, err := os.Create(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}

	n, err := io.Copy(file, io.LimitReader(content, MaxUploadSize+1))
	closeErr := file.Close()
	if err == nil && n > MaxUploadSize {
		err = fmt.Errorf("file exceeds %d bytes", MaxUploadSize)
	}
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(filePath)
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	return filePath, nil
}

// Remove deletes the stored file of a record, ignoring a missing file
func (fh *FileHandler) Remove(id, filename string) error {
	if err := os.Remove(fh.PathFor(id, filename)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove file: %w", err)
	}
	return nil
}
