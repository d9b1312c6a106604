package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/segment-viewer/backend/internal/inference"
	"github.com/segment-viewer/backend/internal/models"
	"github.com/segment-viewer/backend/internal/session"
	"github.com/segment-viewer/backend/internal/storage"
	"github.com/segment-viewer/backend/internal/testutil"
	"github.com/segment-viewer/backend/internal/viewer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func newTestEcho(client inference.Client, store storage.Store) (*echo.Echo, *session.Manager) {
	mgr := session.NewManager(client, store, nil, session.Options{})
	e := echo.New()
	SetupMiddleware(e)
	RegisterRoutes(e, NewHandlers(&Dependencies{Store: store, SessionMgr: mgr, Version: "test"}))
	return e, mgr
}

func newMockEcho(t *testing.T) (*echo.Echo, *testutil.MockClient, *testutil.MockStore) {
	t.Helper()
	store := testutil.NewMockStore()
	client := testutil.NewMockClient(store)
	e, _ := newTestEcho(client, store)
	return e, client, store
}

func do(e *echo.Echo, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func doJSON(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	return do(e, method, path, r, echo.MIMEApplicationJSON)
}

func imageForm(t *testing.T, name, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := new(bytes.Buffer)
	w := multipart.NewWriter(body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, name))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func createSession(t *testing.T, e *echo.Echo) string {
	t.Helper()
	rec := doJSON(e, http.MethodPost, "/api/sessions", "")
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)
	assert.Equal(t, models.FlowStateUpload, resp.Flow.State)
	return resp.ID
}

func selectImage(t *testing.T, e *echo.Echo, id, name, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := imageForm(t, name, contentType, data)
	return do(e, http.MethodPost, "/api/sessions/"+id+"/file", body, ct)
}

func decodeSnapshot(t *testing.T, rec *httptest.ResponseRecorder) models.FlowSnapshot {
	t.Helper()
	var snap models.FlowSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	return snap
}

func decodeAPIError(t *testing.T, rec *httptest.ResponseRecorder) APIError {
	t.Helper()
	var apiErr APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	return apiErr
}

func submitAndWait(t *testing.T, e *echo.Echo, id string) submitResponse {
	t.Helper()
	rec := doJSON(e, http.MethodPost, "/api/sessions/"+id+"/submit?wait=true", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealthAndModels(t *testing.T) {
	e, _, _ := newMockEcho(t)

	rec := doJSON(e, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), `"version":"test"`)

	rec = doJSON(e, http.MethodGet, "/api/models", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Models  []models.ModelOption `json:"models"`
		Default string               `json:"default"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "fast", resp.Default)
	require.Len(t, resp.Models, 3)
	assert.Equal(t, []string{"fast", "balanced", "accurate"},
		[]string{resp.Models[0].ID, resp.Models[1].ID, resp.Models[2].ID})
}

func TestSessionLifecycle(t *testing.T) {
	e, _, _ := newMockEcho(t)
	id := createSession(t, e)

	rec := doJSON(e, http.MethodGet, "/api/sessions/"+id, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(e, http.MethodGet, "/api/sessions/"+id+"/msgpack", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, MIMEApplicationMsgpack, rec.Header().Get(echo.HeaderContentType))
	var resp sessionResponse
	require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, id, resp.ID)
	assert.Equal(t, models.FlowStateUpload, resp.Flow.State)
	assert.Equal(t, viewer.DefaultZoom, resp.Viewer.Zoom)

	rec = doJSON(e, http.MethodDelete, "/api/sessions/"+id, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(e, http.MethodGet, "/api/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeAPIError(t, rec).Code)

	rec = doJSON(e, http.MethodDelete, "/api/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSelectFile_Validation(t *testing.T) {
	tests := []struct {
		name        string
		file        string
		contentType string
		size        int
		wantStatus  int
		wantCode    string
		wantMessage string
	}{
		{
			name:        "png accepted",
			file:        "cat.png",
			contentType: "image/png",
			size:        1024,
			wantStatus:  http.StatusOK,
		},
		{
			name:        "jpg extension with generic type accepted",
			file:        "cat.JPG",
			contentType: "application/octet-stream",
			size:        1024,
			wantStatus:  http.StatusOK,
		},
		{
			name:        "11 MB png rejected for size",
			file:        "huge.png",
			contentType: "image/png",
			size:        11 * 1024 * 1024,
			wantStatus:  http.StatusUnprocessableEntity,
			wantCode:    "UPLOAD_SIZE",
			wantMessage: "File too large (11.0 MB)",
		},
		{
			name:        "gif rejected for format",
			file:        "anim.gif",
			contentType: "image/gif",
			size:        1024,
			wantStatus:  http.StatusUnprocessableEntity,
			wantCode:    "UPLOAD_FORMAT",
			wantMessage: "Unsupported format: image/gif",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, client, _ := newMockEcho(t)
			id := createSession(t, e)

			rec := selectImage(t, e, id, tt.file, tt.contentType, bytes.Repeat([]byte{0xAB}, tt.size))
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())

			if tt.wantCode != "" {
				apiErr := decodeAPIError(t, rec)
				assert.Equal(t, tt.wantCode, apiErr.Code)
				assert.Equal(t, tt.wantMessage, apiErr.Message)
				assert.NotEmpty(t, apiErr.Details)

				// the rejection also shows as a dismissible overlay
				rec = doJSON(e, http.MethodGet, "/api/sessions/"+id, "")
				var resp sessionResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				require.NotNil(t, resp.Flow.Error)
				assert.Nil(t, resp.Flow.File)

				rec = doJSON(e, http.MethodPost, "/api/sessions/"+id+"/dismiss", "")
				assert.Equal(t, http.StatusOK, rec.Code)
				assert.Nil(t, decodeSnapshot(t, rec).Error)
			} else {
				snap := decodeSnapshot(t, rec)
				require.NotNil(t, snap.File)
				assert.Equal(t, tt.file, snap.File.Name)
				require.NotNil(t, snap.File.Preview)
			}
			assert.Equal(t, 0, client.CallCount())
		})
	}
}

func TestSelectFile_MissingImage(t *testing.T) {
	e, _, _ := newMockEcho(t)
	id := createSession(t, e)

	body := new(bytes.Buffer)
	w := multipart.NewWriter(body)
	require.NoError(t, w.WriteField("other", "x"))
	require.NoError(t, w.Close())

	rec := do(e, http.MethodPost, "/api/sessions/"+id+"/file", body, w.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "BAD_REQUEST", decodeAPIError(t, rec).Code)
}

func TestSubmit_WithoutFileIsNoop(t *testing.T) {
	e, client, _ := newMockEcho(t)
	id := createSession(t, e)

	rec := doJSON(e, http.MethodPost, "/api/sessions/"+id+"/submit", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Started)
	assert.Equal(t, models.FlowStateUpload, resp.Snapshot.State)
	assert.Equal(t, 0, client.CallCount())
}

func TestSubmit_Async(t *testing.T) {
	e, client, _ := newMockEcho(t)
	client.Gate = make(chan struct{})
	id := createSession(t, e)
	require.Equal(t, http.StatusOK, selectImage(t, e, id, "a.png", "image/png", testutil.SolidPNG(4, 4, color.White)).Code)

	rec := doJSON(e, http.MethodPost, "/api/sessions/"+id+"/submit", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Started)
	assert.Equal(t, models.FlowStateProcessing, resp.Snapshot.State)

	rec = doJSON(e, http.MethodPost, "/api/sessions/"+id+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.FlowStateUpload, decodeSnapshot(t, rec).State)
	close(client.Gate)
}

func TestSubmit_WaitOutlivesServerTimeouts(t *testing.T) {
	e, client, _ := newMockEcho(t)
	client.Gate = make(chan struct{})
	srv := httptest.NewUnstartedServer(e)
	srv.Config.ReadTimeout = 200 * time.Millisecond
	srv.Config.WriteTimeout = 200 * time.Millisecond
	srv.Start()
	defer srv.Close()

	id := createSession(t, e)
	require.Equal(t, http.StatusOK, selectImage(t, e, id, "a.png", "image/png", testutil.SolidPNG(4, 4, color.White)).Code)

	release := time.AfterFunc(500*time.Millisecond, func() { close(client.Gate) })
	defer release.Stop()

	res, err := http.Post(srv.URL+"/api/sessions/"+id+"/submit?wait=true", echo.MIMEApplicationJSON, nil)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var resp submitResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&resp))
	assert.True(t, resp.Started)
	assert.Equal(t, models.FlowStateResults, resp.Snapshot.State)
}

func TestInvalidTransitions(t *testing.T) {
	e, _, _ := newMockEcho(t)
	id := createSession(t, e)

	for _, path := range []string{"back", "new-image", "cancel", "retry"} {
		t.Run(path, func(t *testing.T) {
			rec := doJSON(e, http.MethodPost, "/api/sessions/"+id+"/"+path, "")
			if path == "retry" {
				// retry is accepted on the upload page and simply clears
				assert.Equal(t, http.StatusOK, rec.Code)
				return
			}
			assert.Equal(t, http.StatusConflict, rec.Code)
			assert.Equal(t, "INVALID_TRANSITION", decodeAPIError(t, rec).Code)
		})
	}
}

func TestSetTier(t *testing.T) {
	e, client, _ := newMockEcho(t)
	id := createSession(t, e)

	rec := doJSON(e, http.MethodPut, "/api/sessions/"+id+"/tier", `{"tier":"accurate"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "accurate", decodeSnapshot(t, rec).Tier)

	rec = doJSON(e, http.MethodPut, "/api/sessions/"+id+"/tier", `{"tier":"turbo"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "UNKNOWN_TIER", decodeAPIError(t, rec).Code)

	rec = doJSON(e, http.MethodPut, "/api/sessions/"+id+"/tier", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeAPIError(t, rec).Code)

	selectImage(t, e, id, "a.png", "image/png", testutil.SolidPNG(2, 2, color.White))
	resp := submitAndWait(t, e, id)
	assert.Equal(t, "accurate", resp.Snapshot.Result.ModelUsed)
	assert.Equal(t, "accurate", client.Calls[0].Tier)
}

func TestResultsAndViewer(t *testing.T) {
	e, _, store := newMockEcho(t)
	id := createSession(t, e)
	base := "/api/sessions/" + id

	require.Equal(t, http.StatusOK, selectImage(t, e, id, "street.png", "image/png", testutil.SolidPNG(8, 8, color.White)).Code)
	resp := submitAndWait(t, e, id)
	require.True(t, resp.Started)
	require.Equal(t, models.FlowStateResults, resp.Snapshot.State)
	result := resp.Snapshot.Result
	require.NotNil(t, result)

	// mask is served as a blob
	rec := doJSON(e, http.MethodGet, "/api/blobs/"+result.Mask.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, "no-store", rec.Header().Get(echo.HeaderCacheControl))

	// viewer is bound with defaults
	rec = doJSON(e, http.MethodGet, base+"/viewer", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var vs viewer.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &vs))
	assert.True(t, vs.Bound)
	assert.Equal(t, "street.png", vs.ImageName)

	// blend export is unavailable until computed
	rec = doJSON(e, http.MethodGet, base+"/export/blend", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(e, http.MethodGet, base+"/viewer/blend", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(e, http.MethodPut, base+"/viewer/mode", `{"mode":"blend"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(e, http.MethodPut, base+"/viewer/opacity", `{"opacity":1.5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &vs))
	assert.Equal(t, 1.0, vs.Opacity)

	rec = doJSON(e, http.MethodGet, base+"/viewer/blend", "")
	require.Equal(t, http.StatusOK, rec.Code)
	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())

	rec = doJSON(e, http.MethodGet, base+"/export/blend", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="segmentation-blend.png"`, rec.Header().Get(echo.HeaderContentDisposition))

	rec = doJSON(e, http.MethodGet, base+"/export/mask", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="segmentation-mask.png"`, rec.Header().Get(echo.HeaderContentDisposition))

	rec = doJSON(e, http.MethodGet, base+"/export/metadata", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"classes":["background","person"],"width":4,"height":4}`, rec.Body.String())

	// invalid mode
	rec = doJSON(e, http.MethodPut, base+"/viewer/mode", `{"mode":"xray"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// new image releases everything
	rec = doJSON(e, http.MethodPost, base+"/new-image", "")
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decodeSnapshot(t, rec)
	assert.Equal(t, models.FlowStateUpload, snap.State)
	assert.Nil(t, snap.File)
	assert.Nil(t, snap.Result)

	rec = doJSON(e, http.MethodGet, "/api/blobs/"+result.Mask.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 0, store.Len())
	assert.NoError(t, store.CheckBalanced())

	rec = doJSON(e, http.MethodGet, base+"/export/mask", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestViewerTransform(t *testing.T) {
	e, _, _ := newMockEcho(t)
	id := createSession(t, e)
	base := "/api/sessions/" + id + "/viewer"

	state := func(rec *httptest.ResponseRecorder) viewer.State {
		t.Helper()
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var vs viewer.State
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &vs))
		return vs
	}

	assert.Equal(t, 125, state(doJSON(e, http.MethodPost, base+"/zoom", `{"direction":"in"}`)).Zoom)
	assert.Equal(t, 100, state(doJSON(e, http.MethodPost, base+"/zoom", `{"direction":"out"}`)).Zoom)
	assert.Equal(t, 300, state(doJSON(e, http.MethodPost, base+"/zoom", `{"zoom":900}`)).Zoom)
	assert.Equal(t, 290, state(doJSON(e, http.MethodPost, base+"/scroll", `{"deltaY":100}`)).Zoom)

	rec := doJSON(e, http.MethodPost, base+"/zoom", `{"direction":"sideways"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	state(doJSON(e, http.MethodPost, base+"/pan/start", `{"x":10,"y":10}`))
	vs := state(doJSON(e, http.MethodPost, base+"/pan/move", `{"x":40,"y":-10}`))
	assert.Equal(t, viewer.Point{X: 30, Y: -20}, vs.Pan)
	assert.True(t, vs.Dragging)
	assert.False(t, state(doJSON(e, http.MethodPost, base+"/pan/end", "")).Dragging)

	vs = state(doJSON(e, http.MethodPost, base+"/reset", ""))
	assert.Equal(t, viewer.Point{}, vs.Pan)
	assert.Equal(t, 100, vs.Zoom)

	rec = doJSON(e, http.MethodPut, base+"/opacity", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBlob_List(t *testing.T) {
	e, _, _ := newMockEcho(t)
	id := createSession(t, e)

	list := func(query string) (int, blobListResponse) {
		t.Helper()
		rec := doJSON(e, http.MethodGet, "/api/blobs"+query, "")
		var resp blobListResponse
		if rec.Code == http.StatusOK {
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		}
		return rec.Code, resp
	}

	code, resp := list("")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0, resp.Live)
	assert.NotNil(t, resp.Handles)
	assert.Empty(t, resp.Handles)

	selectImage(t, e, id, "a.png", "image/png", testutil.SolidPNG(2, 2, color.White))
	submitAndWait(t, e, id)

	code, resp = list("")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, resp.Live)
	require.Len(t, resp.Handles, 2)
	names := []string{resp.Handles[0].Name, resp.Handles[1].Name}
	assert.ElementsMatch(t, []string{"a.png", "mask.png"}, names)

	code, resp = list("?limit=1")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, resp.Live)
	assert.Len(t, resp.Handles, 1)

	code, _ = list("?limit=zero")
	assert.Equal(t, http.StatusBadRequest, code)

	require.Equal(t, http.StatusOK, doJSON(e, http.MethodPost, "/api/sessions/"+id+"/new-image", "").Code)
	code, resp = list("")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0, resp.Live)
}

func TestBlob_NotFound(t *testing.T) {
	e, _, _ := newMockEcho(t)

	rec := doJSON(e, http.MethodGet, "/api/blobs/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// Selecting a 5 MB JPEG and submitting it to a live endpoint lands on the
// results page with exactly the values the endpoint returned.
func TestEndToEnd_FiveMegabyteJPEG(t *testing.T) {
	mask := testutil.SolidPNG(640, 480, color.RGBA{G: 255, A: 255})

	var mu sync.Mutex
	var gotSize int64
	var gotTier, gotName string
	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !assert.Equal(t, "/segment", r.URL.Path) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		f, fh, err := r.FormFile("image")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()

		mu.Lock()
		gotSize = fh.Size
		gotName = fh.Filename
		gotTier = r.FormValue("model")
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"mask":    base64.StdEncoding.EncodeToString(mask),
			"width":   640,
			"height":  480,
			"classes": []string{"road", "car", "sky"},
		})
	}))
	defer endpoint.Close()

	store := storage.NewMemoryStore()
	client := inference.NewHTTPClient(endpoint.URL, store, inference.Options{}, nil)
	e, _ := newTestEcho(client, store)
	id := createSession(t, e)

	photo := bytes.Repeat([]byte{0xFF, 0xD8, 0xFF, 0xE0}, 5*1024*1024/4)
	rec := selectImage(t, e, id, "street.jpg", "image/jpeg", photo)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := submitAndWait(t, e, id)
	snap := resp.Snapshot
	require.Equal(t, models.FlowStateResults, snap.State)
	require.NotNil(t, snap.Result)
	assert.Nil(t, snap.Error)
	assert.Equal(t, 640, snap.Result.Width)
	assert.Equal(t, 480, snap.Result.Height)
	assert.Equal(t, []string{"road", "car", "sky"}, snap.Result.Classes)
	assert.Equal(t, "street.jpg", snap.Result.ImageName)
	assert.Equal(t, "fast", snap.Result.ModelUsed)

	mu.Lock()
	assert.Equal(t, int64(len(photo)), gotSize)
	assert.Equal(t, "street.jpg", gotName)
	assert.Equal(t, "fast", gotTier)
	mu.Unlock()

	rec = doJSON(e, http.MethodGet, "/api/blobs/"+snap.Result.Mask.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, mask, rec.Body.Bytes())
}

func TestEndToEnd_EndpointFailure(t *testing.T) {
	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer endpoint.Close()

	store := storage.NewMemoryStore()
	e, _ := newTestEcho(inference.NewHTTPClient(endpoint.URL, store, inference.Options{}, nil), store)
	id := createSession(t, e)
	selectImage(t, e, id, "a.png", "image/png", testutil.SolidPNG(2, 2, color.White))

	snap := submitAndWait(t, e, id).Snapshot
	assert.Equal(t, models.FlowStateError, snap.State)
	require.NotNil(t, snap.Error)
	assert.Equal(t, models.UploadErrorNetwork, snap.Error.Kind)
	assert.Equal(t, "Processing failed", snap.Error.Message)
	assert.Equal(t, "Server error: 502", snap.Error.Details)

	rec := doJSON(e, http.MethodPost, "/api/sessions/"+id+"/retry", "")
	require.Equal(t, http.StatusOK, rec.Code)
	snap = decodeSnapshot(t, rec)
	assert.Nil(t, snap.File)
	assert.Nil(t, snap.Error)
	assert.Equal(t, 0, store.Len())
}
