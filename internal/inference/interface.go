package inference

import (
	"context"

	"github.com/segment-viewer/backend/internal/models"
)

// Client defines the interface for interacting with the segmentation endpoint
type Client interface {
	// Segment submits one image with the chosen tier and returns the normalized result.
	// Failures are *models.UploadError values of kind network or unknown.
	Segment(ctx context.Context, file *models.SelectedFile, tier string) (*models.SegmentationResult, error)
}

// Ensure HTTPClient implements the Client interface
var _ Client = (*HTTPClient)(nil)
