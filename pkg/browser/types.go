package browser

import (
	"time"

	"github.com/playwright-community/playwright-go"
)

// Session owns one browser context for the duration of one workflow
// run. All operations on a session are strictly sequential; the
// underlying page is not safe for concurrent actions.
type Session struct {
	// Browser is the Playwright browser instance
	Browser playwright.Browser

	// Context is the browser context (isolated session)
	Context playwright.BrowserContext

	// Page is the current active page
	Page playwright.Page

	// Headless indicates if the browser is running without a window
	Headless bool

	// CreatedAt is the timestamp when the session was created
	CreatedAt time.Time

	// CurrentURL is the URL of the current page
	CurrentURL string

	viewport    Viewport
	settleDelay time.Duration
}

// SessionOptions configures a new browser session.
type SessionOptions struct {
	// Headless controls whether the browser runs without a visible window
	Headless bool

	// Viewport sets the viewport size; geometry learned at one viewport
	// is not portable to another, so runs pin this explicitly
	Viewport *Viewport

	// Timeout sets the default timeout for operations (in milliseconds)
	Timeout float64

	// SettleDelay is the pause after each action so the JS-heavy editor
	// UI can catch up before the next action or screenshot
	SettleDelay time.Duration
}

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int
	Height int
}

// DOMElement is one interactive element found in the page DOM, used for
// diagnostics and for discovering selector fallback candidates.
type DOMElement struct {
	Tag      string `json:"tag"`
	Text     string `json:"text"`
	Selector string `json:"selector"`
}

// Default values for browser operations
const (
	DefaultTimeout        = 30000.0 // 30 seconds in milliseconds
	DefaultViewportWidth  = 1366
	DefaultViewportHeight = 768
	DefaultSettleDelay    = 1500 * time.Millisecond

	// MinDragSteps is the floor on mouse-move interpolation steps during
	// a drag. The editor listens for drag events on intermediate move
	// ticks; a single jump never registers as a drop.
	MinDragSteps = 20
)
