// Package flow implements the upload → processing → results/error state
// machine that drives one page session.
package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segment-viewer/backend/internal/inference"
	"github.com/segment-viewer/backend/internal/metrics"
	"github.com/segment-viewer/backend/internal/models"
	"github.com/segment-viewer/backend/internal/storage"
	"github.com/segment-viewer/backend/internal/upload"
	"go.uber.org/zap"
)

var (
	// ErrInvalidTransition is returned for events the current state does not accept.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrUnknownTier is returned when selecting a tier outside the catalog.
	ErrUnknownTier = errors.New("unknown tier")
	// ErrClosed is returned once the controller has been closed.
	ErrClosed = errors.New("session closed")
)

// Event describes one applied transition.
type Event struct {
	Name     string              `json:"event"`
	From     models.FlowState    `json:"from"`
	To       models.FlowState    `json:"to"`
	Snapshot models.FlowSnapshot `json:"snapshot"`
}

// Listener observes transitions. Listeners run after the controller lock is
// released and see events in the order the transitions were applied.
type Listener func(Event)

// Controller owns the selected file, tier, result and error of one session.
// All fields are reachable only through the transition methods.
type Controller struct {
	mu        sync.Mutex
	sessionID string
	state     models.FlowState
	tier      string
	file      *models.SelectedFile
	result    *models.SegmentationResult
	err       *models.UploadError
	inflight  *submission
	closed    bool

	// transitions not yet handed to listeners, oldest first
	pending    []Event
	delivering bool

	client inference.Client
	store  storage.Store
	logger *zap.Logger

	listeners   map[int]Listener
	nextListen  int
	listenersMu sync.Mutex
}

type submission struct {
	id     string
	tier   string
	start  time.Time
	cancel context.CancelFunc
	done   chan struct{}
}

// NewController creates a controller in the upload state with the default tier.
func NewController(sessionID string, client inference.Client, store storage.Store, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		sessionID: sessionID,
		state:     models.FlowStateUpload,
		tier:      models.DefaultModelID,
		client:    client,
		store:     store,
		logger:    logger.With(zap.String("session", shortID(sessionID))),
		listeners: make(map[int]Listener),
	}
}

// Subscribe registers l for future transitions and returns its remover.
func (c *Controller) Subscribe(l Listener) func() {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	id := c.nextListen
	c.nextListen++
	c.listeners[id] = l
	return func() {
		c.listenersMu.Lock()
		defer c.listenersMu.Unlock()
		delete(c.listeners, id)
	}
}

// State returns the active state.
func (c *Controller) State() models.FlowState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a copy of the controller's state.
func (c *Controller) Snapshot() models.FlowSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// SelectFile validates the candidate and, on success, makes it the selected
// file with a fresh preview handle. A rejected candidate leaves the previous
// selection in place and sets a dismissible error; the error is returned.
func (c *Controller) SelectFile(cand upload.Candidate) error {
	c.mu.Lock()
	if err := c.acceptLocked("select", models.FlowStateUpload); err != nil {
		c.mu.Unlock()
		return err
	}

	if err := cand.Validate(); err != nil {
		var ue *models.UploadError
		if errors.As(err, &ue) {
			metrics.ValidationRejections.WithLabelValues(string(ue.Kind)).Inc()
			c.err = ue
		}
		c.logger.Info("file rejected", zap.String("file", cand.Name), zap.Int64("size", cand.Size), zap.Error(err))
		c.eventLocked("reject", models.FlowStateUpload)
		c.mu.Unlock()
		c.deliver()
		return err
	}

	file, err := cand.Load()
	if err == nil {
		file.Preview, err = c.store.Create(file.Name, file.ContentType, file.Data)
	}
	if err != nil {
		ue := &models.UploadError{
			Kind:    models.UploadErrorUnknown,
			Message: "Could not read file",
			Details: err.Error(),
		}
		c.err = ue
		c.eventLocked("reject", models.FlowStateUpload)
		c.mu.Unlock()
		c.deliver()
		return ue
	}

	c.releaseFileLocked()
	c.file = file
	c.err = nil
	c.logger.Info("file selected", zap.String("file", file.Name), zap.Int64("size", file.Size))
	c.eventLocked("select", models.FlowStateUpload)
	c.mu.Unlock()
	c.deliver()
	return nil
}

// ClearFile removes the selected file and any error.
func (c *Controller) ClearFile() error {
	return c.apply("clear", func() (models.FlowState, error) {
		if err := c.acceptLocked("clear", models.FlowStateUpload); err != nil {
			return "", err
		}
		c.releaseFileLocked()
		c.err = nil
		return models.FlowStateUpload, nil
	})
}

// SetTier selects the processing tier used by the next submission.
func (c *Controller) SetTier(id string) error {
	return c.apply("tier", func() (models.FlowState, error) {
		if c.closed {
			return "", ErrClosed
		}
		if c.state == models.FlowStateProcessing {
			return "", fmt.Errorf("%w: tier cannot change while processing", ErrInvalidTransition)
		}
		if _, ok := models.LookupModel(id); !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownTier, id)
		}
		c.tier = id
		return c.state, nil
	})
}

// Submit starts an asynchronous segmentation of the selected file. It is a
// no-op, returning ok=false, without a selected file, while processing, or
// outside the upload state. The returned channel is closed once the
// submission has settled, whether its outcome was applied or discarded.
func (c *Controller) Submit() (done <-chan struct{}, ok bool) {
	c.mu.Lock()
	if c.closed || c.state != models.FlowStateUpload || c.file == nil {
		c.mu.Unlock()
		return nil, false
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &submission{
		id:     uuid.New().String(),
		tier:   c.tier,
		start:  time.Now(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.inflight = sub
	c.err = nil
	file := c.file
	c.logger.Info("submission started",
		zap.String("submission", shortID(sub.id)),
		zap.String("file", file.Name),
		zap.String("tier", sub.tier))
	c.eventLocked("submit", models.FlowStateProcessing)
	c.mu.Unlock()
	c.deliver()

	go c.run(ctx, sub, file)
	return sub.done, true
}

// Cancel abandons the in-flight submission and returns to upload. The request
// is aborted; a response that still arrives is discarded.
func (c *Controller) Cancel() error {
	return c.apply("cancel", func() (models.FlowState, error) {
		if err := c.acceptLocked("cancel", models.FlowStateProcessing); err != nil {
			return "", err
		}
		if c.inflight != nil {
			c.inflight.cancel()
			c.inflight = nil
		}
		return models.FlowStateUpload, nil
	})
}

// Dismiss clears the current error. The selected file is kept.
func (c *Controller) Dismiss() error {
	return c.apply("dismiss", func() (models.FlowState, error) {
		if err := c.acceptLocked("dismiss", models.FlowStateError, models.FlowStateUpload); err != nil {
			return "", err
		}
		if c.state == models.FlowStateUpload && c.err == nil {
			return "", fmt.Errorf("%w: nothing to dismiss", ErrInvalidTransition)
		}
		c.err = nil
		return models.FlowStateUpload, nil
	})
}

// Retry clears the error and the selected file so a new one must be picked.
func (c *Controller) Retry() error {
	return c.apply("retry", func() (models.FlowState, error) {
		if err := c.acceptLocked("retry", models.FlowStateError, models.FlowStateUpload); err != nil {
			return "", err
		}
		c.err = nil
		c.releaseFileLocked()
		return models.FlowStateUpload, nil
	})
}

// Back leaves the results view. The result is released; the selected file
// stays so it can be resubmitted.
func (c *Controller) Back() error {
	return c.apply("back", func() (models.FlowState, error) {
		if err := c.acceptLocked("back", models.FlowStateResults); err != nil {
			return "", err
		}
		c.releaseResultLocked()
		return models.FlowStateUpload, nil
	})
}

// NewImage releases every handle and clears the session for a fresh cycle.
func (c *Controller) NewImage() error {
	return c.apply("new-image", func() (models.FlowState, error) {
		if err := c.acceptLocked("new-image", models.FlowStateResults); err != nil {
			return "", err
		}
		c.releaseResultLocked()
		c.releaseFileLocked()
		c.err = nil
		return models.FlowStateUpload, nil
	})
}

// Close aborts in-flight work and releases every handle. Later events fail
// with ErrClosed.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.inflight != nil {
		c.inflight.cancel()
		c.inflight = nil
	}
	c.releaseResultLocked()
	c.releaseFileLocked()
	c.err = nil
	c.closed = true
	c.eventLocked("close", models.FlowStateUpload)
	c.mu.Unlock()
	c.deliver()
}

// run performs one submission and applies its outcome only if the
// submission is still the current one.
func (c *Controller) run(ctx context.Context, sub *submission, file *models.SelectedFile) {
	defer close(sub.done)
	defer sub.cancel()

	result, err := c.client.Segment(ctx, file, sub.tier)

	c.mu.Lock()
	if c.inflight != sub || c.state != models.FlowStateProcessing {
		c.mu.Unlock()
		if result != nil {
			c.releaseResult(result)
		}
		metrics.SubmissionCount.WithLabelValues(sub.tier, "discarded").Inc()
		c.logger.Info("stale submission discarded", zap.String("submission", shortID(sub.id)))
		return
	}

	c.inflight = nil
	if err != nil {
		c.err = &models.UploadError{
			Kind:    models.UploadErrorNetwork,
			Message: "Processing failed",
			Details: failureDetails(err),
		}
		metrics.SubmissionCount.WithLabelValues(sub.tier, "failed").Inc()
		c.logger.Warn("submission failed", zap.String("submission", shortID(sub.id)), zap.Error(err))
		c.eventLocked("reject", models.FlowStateError)
	} else {
		c.result = result
		metrics.SubmissionCount.WithLabelValues(sub.tier, "succeeded").Inc()
		c.logger.Info("submission succeeded",
			zap.String("submission", shortID(sub.id)),
			zap.Duration("elapsed", time.Since(sub.start)))
		c.eventLocked("resolve", models.FlowStateResults)
	}
	c.mu.Unlock()
	c.deliver()
}

// apply runs fn under the lock, moves to the state it returns and emits an
// event when it succeeds.
func (c *Controller) apply(name string, fn func() (models.FlowState, error)) error {
	c.mu.Lock()
	to, err := fn()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.eventLocked(name, to)
	c.mu.Unlock()
	c.deliver()
	return nil
}

func (c *Controller) acceptLocked(event string, from ...models.FlowState) error {
	if c.closed {
		return ErrClosed
	}
	for _, s := range from {
		if c.state == s {
			return nil
		}
	}
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, event, c.state)
}

// eventLocked moves to the target state and queues the transition, with the
// resulting snapshot, for delivery.
func (c *Controller) eventLocked(name string, to models.FlowState) {
	ev := Event{Name: name, From: c.state, To: to}
	c.state = to
	ev.Snapshot = c.snapshotLocked()
	c.pending = append(c.pending, ev)
}

func (c *Controller) snapshotLocked() models.FlowSnapshot {
	snap := models.FlowSnapshot{
		SessionID: c.sessionID,
		State:     c.state,
		Tier:      c.tier,
	}
	if c.file != nil {
		f := *c.file
		f.Data = nil
		if c.file.Preview != nil {
			p := *c.file.Preview
			f.Preview = &p
		}
		snap.File = &f
	}
	if c.result != nil {
		r := *c.result
		r.Classes = append([]string(nil), c.result.Classes...)
		snap.Result = &r
	}
	if c.err != nil {
		e := *c.err
		snap.Error = &e
	}
	if c.inflight != nil {
		snap.SubmissionID = c.inflight.id
	}
	return snap
}

// deliver hands queued events to the listeners in transition order. One
// goroutine delivers at a time; events queued while it runs, including those
// raised by listeners themselves, are delivered by it before it returns.
func (c *Controller) deliver() {
	c.mu.Lock()
	if c.delivering {
		c.mu.Unlock()
		return
	}
	c.delivering = true
	for len(c.pending) > 0 {
		ev := c.pending[0]
		c.pending[0] = Event{}
		c.pending = c.pending[1:]
		c.mu.Unlock()
		c.notify(ev)
		c.mu.Lock()
	}
	c.pending = nil
	c.delivering = false
	closed := c.closed
	c.mu.Unlock()

	if closed {
		c.listenersMu.Lock()
		c.listeners = make(map[int]Listener)
		c.listenersMu.Unlock()
	}
}

func (c *Controller) notify(ev Event) {
	c.listenersMu.Lock()
	ls := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		ls = append(ls, l)
	}
	c.listenersMu.Unlock()

	for _, l := range ls {
		l(ev)
	}
}

func (c *Controller) releaseFileLocked() {
	if c.file == nil {
		return
	}
	if c.file.Preview != nil {
		c.release(c.file.Preview.ID)
	}
	c.file = nil
}

func (c *Controller) releaseResultLocked() {
	if c.result == nil {
		return
	}
	c.releaseResult(c.result)
	c.result = nil
}

func (c *Controller) releaseResult(r *models.SegmentationResult) {
	for _, id := range r.HandleIDs() {
		c.release(id)
	}
}

func (c *Controller) release(id string) {
	if err := c.store.Release(id); err != nil {
		c.logger.Error("handle release failed", zap.String("handle", id), zap.Error(err))
	}
}

// failureDetails extracts the text shown under "Processing failed".
func failureDetails(err error) string {
	var ue *models.UploadError
	if errors.As(err, &ue) {
		if ue.Details != "" {
			return ue.Details
		}
		return ue.Message
	}
	return err.Error()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
