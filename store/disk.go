package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"web3nst/middleware"
	"web3nst/models"
)

// DiskStore writes uploaded files into a single fixed directory
type DiskStore struct {
	dir   string
	namer *Namer
}

// NewDiskStore creates a DiskStore rooted at dir, creating the directory
// when it does not exist yet.
func NewDiskStore(dir string, namer *Namer) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	if namer == nil {
		namer = NewNamer(nil)
	}

	return &DiskStore{
		dir:   dir,
		namer: namer,
	}, nil
}

// Dir returns the destination directory
func (s *DiskStore) Dir() string {
	return s.dir
}

// Save streams r into a newly named file and returns its description.
// A partially written file is removed before the error is returned.
func (s *DiskStore) Save(ctx context.Context, fieldName, originalFilename string, r io.Reader) (models.UploadedFile, error) {
	requestID := middleware.RequestID(ctx)

	name, ext, receivedAt := s.namer.Name(fieldName, originalFilename)
	path := filepath.Join(s.dir, name)

	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		log.Error().
			Str("request_id", requestID).
			Str("path", path).
			Err(err).
			Msg("Failed to create upload file")
		return models.UploadedFile{}, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	written, err := io.Copy(out, r)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		log.Error().
			Str("request_id", requestID).
			Str("path", path).
			Int64("written", written).
			Err(err).
			Msg("Failed to write upload file")
		os.Remove(path)
		return models.UploadedFile{}, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	file := models.UploadedFile{
		FieldName:        fieldName,
		OriginalFilename: originalFilename,
		Extension:        ext,
		StoredName:       name,
		Path:             path,
		Size:             written,
		ReceivedAt:       receivedAt,
	}

	log.Info().
		Str("request_id", requestID).
		Str("field", fieldName).
		Str("original_name", originalFilename).
		Str("path", path).
		Int64("size", written).
		Msg("File stored")

	return file, nil
}

// Remove deletes a stored file, used to roll back a request that failed
// after some of its files were written.
func (s *DiskStore) Remove(ctx context.Context, file models.UploadedFile) {
	requestID := middleware.RequestID(ctx)

	if err := os.Remove(file.Path); err != nil && !os.IsNotExist(err) {
		log.Error().
			Str("request_id", requestID).
			Str("path", file.Path).
			Err(err).
			Msg("Failed to remove upload file")
		return
	}

	log.Debug().
		Str("request_id", requestID).
		Str("path", file.Path).
		Msg("Upload file removed")
}
