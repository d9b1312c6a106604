package upload

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"

	"github.com/segment-viewer/backend/internal/models"
)

// Candidate is a file offered for selection. Its bytes are read only after
// validation passes.
type Candidate struct {
	Name        string
	ContentType string
	Size        int64
	open        func() (io.ReadCloser, error)
}

// FromFileHeader builds a candidate from a multipart form file.
func FromFileHeader(fh *multipart.FileHeader) Candidate {
	return Candidate{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

// FromBytes builds a candidate from bytes already in memory.
func FromBytes(name, contentType string, data []byte) Candidate {
	return Candidate{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
		open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// Validate applies the upload policy to the candidate's declared metadata.
func (c Candidate) Validate() error {
	return Validate(c.Name, c.ContentType, c.Size)
}

// Load reads the candidate's bytes into a SelectedFile.
func (c Candidate) Load() (*models.SelectedFile, error) {
	if c.open == nil {
		return nil, fmt.Errorf("candidate %q has no content", c.Name)
	}
	rc, err := c.open()
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", c.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", c.Name, err)
	}
	if len(data) > MaxFileSize {
		return nil, fmt.Errorf("reading %q: content exceeds maximum size", c.Name)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("reading %q: file is empty", c.Name)
	}

	return &models.SelectedFile{
		Name:        c.Name,
		Size:        int64(len(data)),
		ContentType: c.ContentType,
		Data:        data,
	}, nil
}
