// mock_client.go - Mock segmentation client for testing
package testutil

import (
	"context"
	"image/color"
	"sync"
	"time"

	"github.com/segment-viewer/backend/internal/models"
	"github.com/segment-viewer/backend/internal/storage"
)

// MockClient is a mock implementation of inference.Client for testing
type MockClient struct {
	// Control behavior
	Store         storage.Store // Where mask handles are registered
	Width, Height int
	Classes       []string
	ShouldFail    bool
	FailErr       error         // Returned when ShouldFail is set; defaults to a 500 network error
	Gate          chan struct{} // When set, Segment blocks until it is closed
	IgnoreContext bool          // Keep waiting on Gate after the context is done

	// Track calls for assertions
	Calls []SegmentCall

	mu sync.Mutex
}

// SegmentCall records a call to Segment
type SegmentCall struct {
	FileName  string
	Tier      string
	Timestamp time.Time
}

// NewMockClient creates a mock client that answers with a 4x4 mask
func NewMockClient(store storage.Store) *MockClient {
	return &MockClient{
		Store:   store,
		Width:   4,
		Height:  4,
		Classes: []string{"background", "person"},
	}
}

// Segment records the call and returns a canned result
func (m *MockClient) Segment(ctx context.Context, file *models.SelectedFile, tier string) (*models.SegmentationResult, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, SegmentCall{FileName: file.Name, Tier: tier, Timestamp: time.Now()})
	gate := m.Gate
	m.mu.Unlock()

	if gate != nil {
		if m.IgnoreContext {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, &models.UploadError{
					Kind:    models.UploadErrorUnknown,
					Message: "Request failed",
					Details: ctx.Err().Error(),
				}
			}
		}
	}

	if m.ShouldFail {
		if m.FailErr != nil {
			return nil, m.FailErr
		}
		return nil, &models.UploadError{Kind: models.UploadErrorNetwork, Message: "Server error: 500"}
	}

	mask := SolidPNG(m.Width, m.Height, color.RGBA{R: 0, G: 0, B: 255, A: 255})
	h, err := m.Store.Create("mask.png", "image/png", mask)
	if err != nil {
		return nil, err
	}

	return &models.SegmentationResult{
		Mask:                  *h,
		Width:                 m.Width,
		Height:                m.Height,
		Classes:               append([]string(nil), m.Classes...),
		ImageName:             file.Name,
		ModelUsed:             tier,
		ProcessingTimeSeconds: 0.1,
	}, nil
}

// CallCount returns how many times Segment was invoked
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
