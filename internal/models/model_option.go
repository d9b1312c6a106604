package models

// ModelOption is one processing-quality tier offered by the inference endpoint.
type ModelOption struct {
	ID          string `json:"id" msgpack:"id"`
	Name        string `json:"name" msgpack:"name"`
	Description string `json:"description" msgpack:"description"`
	Speed       string `json:"speed" msgpack:"speed"`
	Accuracy    string `json:"accuracy" msgpack:"accuracy"`
}

// DefaultModelID is the tier selected for a fresh session.
const DefaultModelID = "fast"

var catalog = [...]ModelOption{
	{
		ID:          "fast",
		Name:        "Fast",
		Description: "Quick results with good accuracy. Best for quick testing.",
		Speed:       "fast",
		Accuracy:    "medium",
	},
	{
		ID:          "balanced",
		Name:        "Balanced",
		Description: "Good balance between speed and accuracy.",
		Speed:       "medium",
		Accuracy:    "medium",
	},
	{
		ID:          "accurate",
		Name:        "Accurate",
		Description: "Highest accuracy but slower processing. Best for final results.",
		Speed:       "slow",
		Accuracy:    "high",
	},
}

// Catalog returns a copy of the tier catalog in display order.
func Catalog() []ModelOption {
	out := make([]ModelOption, len(catalog))
	copy(out, catalog[:])
	return out
}

// LookupModel finds a tier by id.
func LookupModel(id string) (ModelOption, bool) {
	for _, m := range catalog {
		if m.ID == id {
			return m, true
		}
	}
	return ModelOption{}, false
}
