// Package viewer holds the per-session view transform used to compare an
// original image against its segmentation mask.
package viewer

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/segment-viewer/backend/internal/storage"
	"go.uber.org/zap"
)

const (
	MinZoom     = 25
	MaxZoom     = 300
	DefaultZoom = 100
	ZoomStep    = 25
	ScrollStep  = 10

	DefaultOpacity = 0.5
)

// Mode selects what is drawn over the original.
type Mode string

const (
	ModeMask  Mode = "mask"
	ModeBlend Mode = "blend"
)

var (
	ErrNotBound      = errors.New("viewer has no result bound")
	ErrInvalidMode   = errors.New("invalid view mode")
	ErrBlendNotReady = errors.New("blend has not been computed")
	ErrNotBlendMode  = errors.New("blend is only available in blend mode")
)

// Point is a pan offset or pointer position in screen pixels.
type Point struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
}

// Sources are the images and metadata of the result on display. The handles
// belong to the flow controller; the viewer only reads them.
type Sources struct {
	OriginalID string
	MaskID     string
	Classes    []string
	Width      int
	Height     int
	ImageName  string
}

// State is a copy of the viewer's settings.
type State struct {
	Zoom       int     `json:"zoom" msgpack:"zoom"`
	Pan        Point   `json:"pan" msgpack:"pan"`
	Dragging   bool    `json:"dragging" msgpack:"dragging"`
	Opacity    float64 `json:"opacity" msgpack:"opacity"`
	Mode       Mode    `json:"mode" msgpack:"mode"`
	Bound      bool    `json:"bound" msgpack:"bound"`
	BlendReady bool    `json:"blendReady" msgpack:"blendReady"`
	ImageName  string  `json:"imageName,omitempty" msgpack:"imageName,omitempty"`
}

// Viewer is safe for concurrent use.
type Viewer struct {
	mu sync.Mutex

	zoom       int
	pan        Point
	dragging   bool
	dragOrigin Point
	opacity    float64
	mode       Mode

	src        *Sources
	blend      []byte
	generation uint64

	store  storage.Store
	logger *zap.Logger
}

// New returns a viewer with default settings and nothing bound.
func New(store storage.Store, logger *zap.Logger) *Viewer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Viewer{
		zoom:    DefaultZoom,
		opacity: DefaultOpacity,
		mode:    ModeMask,
		store:   store,
		logger:  logger,
	}
}

// State returns the current settings.
func (v *Viewer) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()

	s := State{
		Zoom:       v.zoom,
		Pan:        v.pan,
		Dragging:   v.dragging,
		Opacity:    v.opacity,
		Mode:       v.mode,
		Bound:      v.src != nil,
		BlendReady: v.blend != nil,
	}
	if v.src != nil {
		s.ImageName = v.src.ImageName
	}
	return s
}

// Bind displays a new result. The view transform is reset.
func (v *Viewer) Bind(src Sources) {
	v.mu.Lock()
	defer v.mu.Unlock()

	src.Classes = append([]string(nil), src.Classes...)
	v.src = &src
	v.resetLocked()
	v.invalidateLocked()
	v.logger.Debug("viewer bound", zap.String("image", src.ImageName), zap.String("mask", src.MaskID))
}

// Unbind drops the displayed result and any computed blend.
func (v *Viewer) Unbind() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.src = nil
	v.dragging = false
	v.invalidateLocked()
}

// ZoomIn steps the zoom up by one button step.
func (v *Viewer) ZoomIn() int {
	return v.adjustZoom(ZoomStep)
}

// ZoomOut steps the zoom down by one button step.
func (v *Viewer) ZoomOut() int {
	return v.adjustZoom(-ZoomStep)
}

// Scroll applies one wheel gesture. Scrolling up (negative deltaY) zooms in.
func (v *Viewer) Scroll(deltaY float64) int {
	switch {
	case deltaY < 0:
		return v.adjustZoom(ScrollStep)
	case deltaY > 0:
		return v.adjustZoom(-ScrollStep)
	}
	return v.State().Zoom
}

// SetZoom sets an absolute zoom percentage, clamped to the allowed range.
func (v *Viewer) SetZoom(zoom int) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.zoom = clampZoom(zoom)
	return v.zoom
}

func (v *Viewer) adjustZoom(delta int) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.zoom = clampZoom(v.zoom + delta)
	return v.zoom
}

// BeginDrag starts a pan gesture at p.
func (v *Viewer) BeginDrag(p Point) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.dragging = true
	v.dragOrigin = Point{X: p.X - v.pan.X, Y: p.Y - v.pan.Y}
}

// Drag moves the pan offset while a gesture is active. Outside a gesture it
// does nothing.
func (v *Viewer) Drag(p Point) Point {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.dragging {
		v.pan = Point{X: p.X - v.dragOrigin.X, Y: p.Y - v.dragOrigin.Y}
	}
	return v.pan
}

// EndDrag finishes a pan gesture. Pointer-up and pointer-leave both end it.
func (v *Viewer) EndDrag() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dragging = false
}

// Reset restores the default zoom and pan.
func (v *Viewer) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.resetLocked()
}

// SetOpacity sets the blend opacity, clamped to [0, 1]. NaN is ignored.
func (v *Viewer) SetOpacity(opacity float64) float64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	if math.IsNaN(opacity) {
		return v.opacity
	}
	opacity = math.Max(0, math.Min(1, opacity))
	if opacity != v.opacity {
		v.opacity = opacity
		v.invalidateLocked()
	}
	return v.opacity
}

// SetMode switches between mask and blend display.
func (v *Viewer) SetMode(mode Mode) error {
	if mode != ModeMask && mode != ModeBlend {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if mode != v.mode {
		v.mode = mode
		v.invalidateLocked()
	}
	return nil
}

func (v *Viewer) resetLocked() {
	v.zoom = DefaultZoom
	v.pan = Point{}
	v.dragging = false
	v.dragOrigin = Point{}
}

// invalidateLocked drops the cached blend. Composites started before this
// call will not store their result.
func (v *Viewer) invalidateLocked() {
	v.blend = nil
	v.generation++
}

func clampZoom(zoom int) int {
	if zoom < MinZoom {
		return MinZoom
	}
	if zoom > MaxZoom {
		return MaxZoom
	}
	return zoom
}
