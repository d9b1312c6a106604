package models

import "fmt"

// UploadErrorKind classifies an UploadError.
type UploadErrorKind string

const (
	UploadErrorSize    UploadErrorKind = "size"
	UploadErrorFormat  UploadErrorKind = "format"
	UploadErrorNetwork UploadErrorKind = "network"
	UploadErrorUnknown UploadErrorKind = "unknown"
)

// UploadError is a user-facing failure of validation or submission.
type UploadError struct {
	Kind    UploadErrorKind `json:"kind" msgpack:"kind"`
	Message string          `json:"message" msgpack:"message"`
	Details string          `json:"details,omitempty" msgpack:"details,omitempty"`
}

// Error implements the error interface
func (e *UploadError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}
