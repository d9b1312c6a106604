// Package upload validates and loads images picked for segmentation.
package upload

import (
	"fmt"
	"strings"

	"github.com/segment-viewer/backend/internal/models"
)

// MaxFileSize is the largest accepted upload, in bytes.
const MaxFileSize = 10 * 1024 * 1024

const (
	sizeAdvice   = "Maximum file size is 10MB. Try compressing your image using tools like TinyPNG.com or reduce the resolution."
	formatAdvice = "We only support JPG and PNG formats. You can convert your image using CloudConvert.com or similar tools."
)

var allowedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/jpg":  true,
}

var allowedExtensions = map[string]bool{
	"jpg":  true,
	"jpeg": true,
	"png":  true,
}

// Validate checks a candidate file against the size and type policy.
// It returns nil or an *models.UploadError of kind size or format.
func Validate(name, contentType string, size int64) error {
	if size > MaxFileSize {
		return &models.UploadError{
			Kind:    models.UploadErrorSize,
			Message: fmt.Sprintf("File too large (%.1f MB)", float64(size)/(1024*1024)),
			Details: sizeAdvice,
		}
	}

	ext := Extension(name)
	if !allowedTypes[contentType] && !allowedExtensions[ext] {
		detected := contentType
		if detected == "" {
			detected = strings.ToUpper(ext)
		}
		return &models.UploadError{
			Kind:    models.UploadErrorFormat,
			Message: fmt.Sprintf("Unsupported format: %s", detected),
			Details: formatAdvice,
		}
	}

	return nil
}

// Extension returns the lower-cased text after the last dot. A name without
// a dot is returned whole.
func Extension(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return strings.ToLower(name)
}
