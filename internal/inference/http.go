package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/segment-viewer/backend/internal/metrics"
	"github.com/segment-viewer/backend/internal/models"
	"github.com/segment-viewer/backend/internal/storage"
	"go.uber.org/zap"
)

const segmentPath = "/segment"

// Options tunes what the endpoint is asked to return.
type Options struct {
	Overlay        bool
	ReturnOriginal bool
}

// HTTPClient handles communication with the segmentation endpoint
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	store      storage.Store
	options    Options
	logger     *zap.Logger
}

// segmentResponse is the endpoint's JSON envelope.
type segmentResponse struct {
	Success  bool     `json:"success"`
	Mask     string   `json:"mask"`
	Overlay  string   `json:"overlay,omitempty"`
	Original string   `json:"original,omitempty"`
	Width    int      `json:"width"`
	Height   int      `json:"height"`
	Classes  []string `json:"classes"`
}

// NewHTTPClient creates a client for the endpoint at baseURL. Decoded images
// are registered in store. The underlying http.Client has no timeout; callers
// bound requests through their context.
func NewHTTPClient(baseURL string, store storage.Store, opts Options, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		store:      store,
		options:    opts,
		logger:     logger,
	}
}

// Segment posts the file to <baseURL>/segment as multipart/form-data.
func (c *HTTPClient) Segment(ctx context.Context, file *models.SelectedFile, tier string) (*models.SegmentationResult, error) {
	start := time.Now()

	body, contentType, err := encodeForm(file, tier)
	if err != nil {
		return nil, unknownError("Failed to prepare request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL(), body)
	if err != nil {
		return nil, unknownError("Failed to prepare request", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	c.logger.Debug("submitting image",
		zap.String("url", httpReq.URL.String()),
		zap.String("file", file.Name),
		zap.Int64("size", file.Size),
		zap.String("tier", tier))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.observe(tier, "transport", start)
		return nil, unknownError("Request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.observe(tier, strconv.Itoa(resp.StatusCode), start)
		// Drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil, &models.UploadError{
			Kind:    models.UploadErrorNetwork,
			Message: fmt.Sprintf("Server error: %d", resp.StatusCode),
		}
	}

	var payload segmentResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.observe(tier, "decode", start)
		return nil, unknownError("Malformed response", err)
	}
	c.observe(tier, strconv.Itoa(resp.StatusCode), start)

	if !payload.Success {
		return nil, unknownError("Segmentation unsuccessful", fmt.Errorf("endpoint reported success=false"))
	}

	result, err := c.buildResult(&payload, file.Name, tier)
	if err != nil {
		return nil, err
	}
	result.ProcessingTimeSeconds = time.Since(start).Seconds()

	c.logger.Info("segmentation complete",
		zap.String("file", file.Name),
		zap.String("tier", tier),
		zap.Int("width", result.Width),
		zap.Int("height", result.Height),
		zap.Int("classes", len(result.Classes)),
		zap.Float64("seconds", result.ProcessingTimeSeconds))

	return result, nil
}

func (c *HTTPClient) endpointURL() string {
	params := url.Values{}
	params.Set("mask_format", "png")
	if c.options.Overlay {
		params.Set("overlay", "true")
	}
	if c.options.ReturnOriginal {
		params.Set("return_original", "true")
	}
	return c.baseURL + segmentPath + "?" + params.Encode()
}

// buildResult decodes the base64 payloads into handles. On failure every
// handle created so far is released.
func (c *HTTPClient) buildResult(payload *segmentResponse, imageName, tier string) (*models.SegmentationResult, error) {
	if payload.Mask == "" {
		return nil, unknownError("Malformed response", fmt.Errorf("response has no mask"))
	}

	var created []string
	fail := func(err error) (*models.SegmentationResult, error) {
		for _, id := range created {
			if relErr := c.store.Release(id); relErr != nil {
				c.logger.Warn("release after failed decode", zap.String("handle", id), zap.Error(relErr))
			}
		}
		return nil, unknownError("Malformed response", err)
	}

	decode := func(name, encoded string) (*models.Handle, error) {
		data, err := decodeImage(encoded)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", name, err)
		}
		h, err := c.store.Create(name, http.DetectContentType(data), data)
		if err != nil {
			return nil, err
		}
		created = append(created, h.ID)
		return h, nil
	}

	mask, err := decode("mask.png", payload.Mask)
	if err != nil {
		return fail(err)
	}
	result := &models.SegmentationResult{
		Mask:      *mask,
		Width:     payload.Width,
		Height:    payload.Height,
		Classes:   payload.Classes,
		ImageName: imageName,
		ModelUsed: tier,
	}
	if result.Classes == nil {
		result.Classes = []string{}
	}

	if payload.Overlay != "" {
		if result.Overlay, err = decode("overlay.png", payload.Overlay); err != nil {
			return fail(err)
		}
	}
	if payload.Original != "" {
		if result.Original, err = decode("original.png", payload.Original); err != nil {
			return fail(err)
		}
	}

	return result, nil
}

func (c *HTTPClient) observe(tier, status string, start time.Time) {
	metrics.InferenceDuration.WithLabelValues(tier, status).Observe(time.Since(start).Seconds())
}

// encodeForm builds the multipart body with the image and tier fields.
func encodeForm(file *models.SelectedFile, tier string) (io.Reader, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	ct := file.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, file.Name))
	header.Set("Content-Type", ct)

	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("model", tier); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

// decodeImage accepts raw base64 or a data URL.
func decodeImage(encoded string) ([]byte, error) {
	if strings.HasPrefix(encoded, "data:") {
		parts := strings.SplitN(encoded, ",", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid data url")
		}
		encoded = parts[1]
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image payload")
	}
	return data, nil
}

func unknownError(message string, cause error) *models.UploadError {
	return &models.UploadError{
		Kind:    models.UploadErrorUnknown,
		Message: message,
		Details: cause.Error(),
	}
}
