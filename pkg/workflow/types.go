package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/fotopilot/fotopilot/pkg/browser"
	"github.com/fotopilot/fotopilot/pkg/patterns"
	"github.com/fotopilot/fotopilot/pkg/vision"
	"github.com/google/uuid"
)

// Stage is one unit of the automation workflow.
type Stage string

const (
	StageInit          Stage = "init"
	StageLogin         Stage = "login"
	StageSelectProduct Stage = "select_product"
	StageCreateProject Stage = "create_project"
	StageUploadPhotos  Stage = "upload_photos"
	StagePlacePhotos   Stage = "place_photos"
	StageCheckout      Stage = "checkout"
)

// fatalStages abort the run when they exhaust all strategies; no later
// stage is meaningful without them. Placement is the exception: its
// failures are tallied per photo.
var fatalStages = map[Stage]bool{
	StageLogin:         true,
	StageSelectProduct: true,
	StageCreateProject: true,
	StageUploadPhotos:  true,
	StageCheckout:      true,
}

// StageStatus tracks progress of one stage within a run.
type StageStatus string

const (
	StatusPending    StageStatus = "pending"
	StatusInProgress StageStatus = "in_progress"
	StatusSuccess    StageStatus = "success"
	StatusFailed     StageStatus = "failed"
)

// Order is the input from the upstream order collaborator. Photo order
// is externally decided; the engine places photos as given and never
// resequences them.
type Order struct {
	PhotoPaths  []string `json:"photo_paths"`
	ProductCode string   `json:"product_code"`
	Title       string   `json:"title"`
	StyleHint   string   `json:"style_hint"`
}

// PhotoResult records the outcome of one photo placement.
type PhotoResult struct {
	Index      int     `json:"index"`
	Success    bool    `json:"success"`
	Source     string  `json:"source,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Detail     string  `json:"detail,omitempty"`
}

// Result is the run outcome handed back to the order collaborator.
type Result struct {
	Success         bool          `json:"success"`
	StageReached    Stage         `json:"stage_reached"`
	PerPhotoResults []PhotoResult `json:"per_photo_results"`
	DiagnosticLog   []string      `json:"diagnostic_log"`
	LastPageType    string        `json:"last_page_type,omitempty"`
}

// Run is the mutable state of one automation session, owned exclusively
// by the controller for the duration of the run.
type Run struct {
	ID        string
	StartedAt time.Time
	Stages    map[Stage]StageStatus
	Photos    []PhotoResult
	log       []string

	// lastPageType is the most recent page classification, attached to
	// failures so the collaborator can decide what to tell the operator.
	lastPageType vision.PageType
}

func newRun() *Run {
	return &Run{
		ID:        uuid.New().String(),
		StartedAt: time.Now(),
		Stages:    make(map[Stage]StageStatus),
	}
}

// Logf appends a timestamped line to the run diagnostic log. Nothing
// that goes wrong in a run is ever dropped without passing through
// here.
func (r *Run) Logf(format string, v ...interface{}) {
	line := fmt.Sprintf("%s %s", time.Now().Format("15:04:05.000"), fmt.Sprintf(format, v...))
	r.log = append(r.log, line)
}

// Driver is the subset of browser primitives the controller needs.
// *browser.Session implements it; tests substitute a scripted fake.
type Driver interface {
	Navigate(url string) error
	ClickAt(x, y float64) error
	ClickSelector(selector string, timeout float64) error
	Fill(selector, value string, timeout float64) error
	TypeText(text string) error
	SelectorExists(selector string, timeout float64) bool
	Drag(fromX, fromY, toX, toY float64, steps int) error
	UploadFiles(selector string, paths []string) error
	Screenshot() ([]byte, error)
	ElementCenter(selector string, nth int) (float64, float64, error)
	DOMSummary(max int) ([]browser.DOMElement, error)
	Viewport() browser.Viewport
	URL() string
}

// Locator is the vision boundary. *vision.Locator implements it.
type Locator interface {
	FindElement(ctx context.Context, screenshot []byte, description string, vw, vh int) (*vision.QueryResult, error)
	ClassifyPage(ctx context.Context, screenshot []byte) (*vision.PageClassification, error)
	VerifyPlacement(ctx context.Context, screenshot []byte, slotDescription string) (*vision.PlacementCheck, error)
}

// PatternStore is the coordinate cache boundary. *patterns.Store
// implements it.
type PatternStore interface {
	GetSlot(layout, slotID string, vw, vh int) (*patterns.SlotPattern, error)
	PutSlot(layout, slotID string, vw, vh int, geom patterns.Geometry, confidence float64) error
	DeleteSlot(layout, slotID string, vw, vh int) error
	GetElement(name string, vw, vh int) (*patterns.UIElementPattern, error)
	PutElement(name string, vw, vh int, geom patterns.Geometry, confidence float64, selector string) error
}
