package models

// SegmentationResult is the normalized outcome of a successful inference call.
type SegmentationResult struct {
	Mask                  Handle   `json:"mask" msgpack:"mask"`
	Overlay               *Handle  `json:"overlay,omitempty" msgpack:"overlay,omitempty"`
	Original              *Handle  `json:"original,omitempty" msgpack:"original,omitempty"`
	Width                 int      `json:"width" msgpack:"width"`
	Height                int      `json:"height" msgpack:"height"`
	Classes               []string `json:"classes" msgpack:"classes"`
	ImageName             string   `json:"imageName" msgpack:"imageName"`
	ModelUsed             string   `json:"modelUsed" msgpack:"modelUsed"`
	ProcessingTimeSeconds float64  `json:"processingTimeSeconds,omitempty" msgpack:"processingTimeSeconds,omitempty"`
}

// HandleIDs lists every handle owned by the result.
func (r *SegmentationResult) HandleIDs() []string {
	ids := []string{r.Mask.ID}
	if r.Overlay != nil {
		ids = append(ids, r.Overlay.ID)
	}
	if r.Original != nil {
		ids = append(ids, r.Original.ID)
	}
	return ids
}
