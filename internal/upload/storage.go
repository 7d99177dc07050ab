package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DefaultExtension is used when the client file name carries none.
const DefaultExtension = "bin"

// ErrUploadDirMissing is returned when the configured upload directory does not exist.
var ErrUploadDirMissing = errors.New("upload directory does not exist")

// Storage keeps one uploaded file per visitor in a flat directory.
type Storage struct {
	Dir string
}

// StoredName returns the file name an upload from visitorID with the client
// file name filename is stored under: "<visitorID>.<ext>".
func StoredName(visitorID, filename string) (string, error) {
	ext := strings.TrimPrefix(filepath.Ext(filepath.Base(strings.ReplaceAll(filename, `\`, "/"))), ".")
	if ext == "" {
		ext = DefaultExtension
	}
	return SanitizeFilename(visitorID + "." + ext)
}

// Ready reports ErrUploadDirMissing unless Dir is an existing directory.
func (s Storage) Ready() error {
	info, err := os.Stat(s.Dir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrUploadDirMissing, s.Dir)
	}
	return nil
}

// Save streams r into the file for visitorID and returns the stored name.
// The file only appears under its final name once fully written.
func (s Storage) Save(ctx context.Context, visitorID, filename string, r io.Reader) (string, error) {
	if err := s.Ready(); err != nil {
		return "", err
	}

	name, err := StoredName(visitorID, filename)
	if err != nil {
		return "", err
	}

	tmpFile, err := os.CreateTemp(s.Dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := io.Copy(tmpFile, contextReader{ctx: ctx, r: r}); err != nil {
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", fmt.Errorf("failed to close upload: %w", err)
	}

	dest := filepath.Join(s.Dir, name)
	if err := os.Rename(tmpPath, dest); err != nil {
		return "", fmt.Errorf("failed to store upload: %w", err)
	}
	return name, nil
}

// Open opens a stored file by name. Names that are not plain file names are rejected.
func (s Storage) Open(name string) (*os.File, error) {
	clean, err := SanitizeFilename(name)
	if err != nil || clean != name || strings.HasPrefix(name, ".upload-") {
		return nil, os.ErrNotExist
	}
	return os.Open(filepath.Join(s.Dir, name))
}

// contextReader stops a copy once ctx is done, e.g. when the client goes away.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
