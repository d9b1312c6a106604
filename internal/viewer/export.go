package viewer

import (
	"encoding/json"
)

const (
	MaskFilename     = "segmentation-mask.png"
	BlendFilename    = "segmentation-blend.png"
	MetadataFilename = "segmentation-metadata.json"
)

// Artifact is a downloadable export.
type Artifact struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Metadata is the exported description of a result.
type Metadata struct {
	Classes []string `json:"classes"`
	Width   int      `json:"width"`
	Height  int      `json:"height"`
}

// ExportMask returns the mask raster as held.
func (v *Viewer) ExportMask() (*Artifact, error) {
	v.mu.Lock()
	src := v.src
	v.mu.Unlock()
	if src == nil {
		return nil, ErrNotBound
	}

	data, err := v.store.Open(src.MaskID)
	if err != nil {
		return nil, err
	}
	return &Artifact{Filename: MaskFilename, ContentType: "image/png", Data: data}, nil
}

// ExportBlend returns the last computed blend. It never computes one.
func (v *Viewer) ExportBlend() (*Artifact, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.src == nil {
		return nil, ErrNotBound
	}
	if v.blend == nil {
		return nil, ErrBlendNotReady
	}
	return &Artifact{Filename: BlendFilename, ContentType: "image/png", Data: v.blend}, nil
}

// ExportMetadata returns {classes, width, height} as indented JSON.
func (v *Viewer) ExportMetadata() (*Artifact, error) {
	v.mu.Lock()
	src := v.src
	v.mu.Unlock()
	if src == nil {
		return nil, ErrNotBound
	}

	classes := src.Classes
	if classes == nil {
		classes = []string{}
	}
	data, err := json.MarshalIndent(Metadata{Classes: classes, Width: src.Width, Height: src.Height}, "", "  ")
	if err != nil {
		return nil, err
	}
	return &Artifact{Filename: MetadataFilename, ContentType: "application/json", Data: data}, nil
}
