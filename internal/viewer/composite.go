package viewer

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"math"
	"time"

	"github.com/segment-viewer/backend/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

// Composite returns the blend of the mask over the original at the current
// opacity, computing it if needed. A settings change made while the blend is
// being computed wins: the stale raster is returned to this caller but not
// cached.
func (v *Viewer) Composite(ctx context.Context) ([]byte, error) {
	v.mu.Lock()
	if v.src == nil {
		v.mu.Unlock()
		return nil, ErrNotBound
	}
	if v.mode != ModeBlend {
		v.mu.Unlock()
		return nil, ErrNotBlendMode
	}
	if v.blend != nil {
		blend := v.blend
		v.mu.Unlock()
		return blend, nil
	}
	gen := v.generation
	src := *v.src
	opacity := v.opacity
	v.mu.Unlock()

	start := time.Now()
	out, err := v.render(ctx, src, opacity)
	if err != nil {
		v.logger.Warn("blend failed", zap.String("image", src.ImageName), zap.Error(err))
		return nil, err
	}
	metrics.BlendDuration.Observe(time.Since(start).Seconds())

	v.mu.Lock()
	if v.generation == gen {
		v.blend = out
	} else {
		v.logger.Debug("discarding stale blend", zap.Uint64("generation", gen))
	}
	v.mu.Unlock()

	return out, nil
}

func (v *Viewer) render(ctx context.Context, src Sources, opacity float64) ([]byte, error) {
	original, err := v.decode(src.OriginalID)
	if err != nil {
		return nil, fmt.Errorf("decoding original: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mask, err := v.decode(src.MaskID)
	if err != nil {
		return nil, fmt.Errorf("decoding mask: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	blended := Blend(original, mask, opacity)

	var buf bytes.Buffer
	if err := png.Encode(&buf, blended); err != nil {
		return nil, fmt.Errorf("encoding blend: %w", err)
	}
	return buf.Bytes(), nil
}

func (v *Viewer) decode(id string) (image.Image, error) {
	data, err := v.store.Open(id)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

// Blend draws original at its native size and the mask over it, scaled to
// the same bounds, with a uniform alpha of opacity.
func Blend(original, mask image.Image, opacity float64) *image.RGBA {
	bounds := original.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), original, bounds.Min, draw.Src)

	overlay := mask
	if mask.Bounds().Dx() != dst.Bounds().Dx() || mask.Bounds().Dy() != dst.Bounds().Dy() {
		scaled := image.NewRGBA(dst.Bounds())
		draw.NearestNeighbor.Scale(scaled, scaled.Bounds(), mask, mask.Bounds(), draw.Src, nil)
		overlay = scaled
	}

	alpha := image.NewUniform(color.Alpha{A: uint8(math.Round(opacity * 255))})
	draw.DrawMask(dst, dst.Bounds(), overlay, overlay.Bounds().Min, alpha, image.Point{}, draw.Over)
	return dst
}
