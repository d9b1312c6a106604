package models

import "time"

// Handle is a revocable reference to binary image data held by the server.
// It is rendered by the page through /api/blobs/{id} and must be released
// by its owner when superseded.
type Handle struct {
	ID          string    `json:"id" msgpack:"id"`
	Name        string    `json:"name" msgpack:"name"`
	ContentType string    `json:"contentType" msgpack:"contentType"`
	Size        int64     `json:"size" msgpack:"size"`
	CreatedAt   time.Time `json:"createdAt" msgpack:"createdAt"`
}

// SelectedFile is the image currently chosen for submission.
type SelectedFile struct {
	Name        string  `json:"name" msgpack:"name"`
	Size        int64   `json:"size" msgpack:"size"`
	ContentType string  `json:"contentType" msgpack:"contentType"`
	Data        []byte  `json:"-" msgpack:"-"`
	Preview     *Handle `json:"preview,omitempty" msgpack:"preview,omitempty"`
}
