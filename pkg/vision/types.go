package vision

// PageType identifies which workflow page a screenshot shows.
type PageType string

const (
	PageLogin    PageType = "login"
	PageCatalog  PageType = "catalog"
	PageEditor   PageType = "editor"
	PageCheckout PageType = "checkout"
	PageUnknown  PageType = "unknown"
)

// QueryResult is the outcome of a single element-location query.
// It is ephemeral: results are only promoted into the pattern store
// after a successful verification step, never cached directly.
type QueryResult struct {
	Found              bool     `json:"found"`
	X                  float64  `json:"x"`
	Y                  float64  `json:"y"`
	Confidence         float64  `json:"confidence"`
	DescriptionMatched string   `json:"description_matched"`
	Alternatives       []string `json:"alternatives"`
}

// PageClassification describes what the model saw on a screenshot,
// used for workflow branching.
type PageClassification struct {
	PageType        PageType `json:"page_type"`
	VisibleElements []string `json:"visible_elements"`
	VisibleProducts []string `json:"visible_products"`
	Alerts          []string `json:"alerts"`
}

// PlacementCheck is the post-hoc verdict on whether a drag/drop landed
// a photo in its slot.
type PlacementCheck struct {
	Placed     bool    `json:"placed"`
	Confidence float64 `json:"confidence"`
	Detail     string  `json:"detail"`
}
