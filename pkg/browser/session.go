package browser

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/playwright-community/playwright-go"
)

// settle pauses after an action so the editor's JS can react before the
// next action or screenshot.
func (s *Session) settle() {
	time.Sleep(s.settleDelay)
}

// Viewport returns the session's pinned viewport dimensions.
func (s *Session) Viewport() Viewport {
	return s.viewport
}

// URL returns the current page URL.
func (s *Session) URL() string {
	return s.Page.URL()
}

// Navigate opens the given URL and waits for the page to load.
func (s *Session) Navigate(url string) error {
	waitUntil := playwright.WaitUntilStateLoad
	_, err := s.Page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: waitUntil,
	})
	if err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}

	s.CurrentURL = s.Page.URL()
	s.settle()
	return nil
}

// ClickAt clicks at an absolute viewport coordinate. Used for targets
// that have no DOM selector, e.g. canvas-rendered slots.
func (s *Session) ClickAt(x, y float64) error {
	if err := s.Page.Mouse().Click(x, y); err != nil {
		return fmt.Errorf("click at (%.0f, %.0f) failed: %w", x, y, err)
	}
	s.CurrentURL = s.Page.URL()
	s.settle()
	return nil
}

// ClickSelector clicks the first element matching a CSS selector.
func (s *Session) ClickSelector(selector string, timeout float64) error {
	opts := playwright.PageClickOptions{}
	if timeout > 0 {
		opts.Timeout = &timeout
	}
	if err := s.Page.Click(selector, opts); err != nil {
		return fmt.Errorf("click on %q failed: %w", selector, err)
	}
	s.CurrentURL = s.Page.URL()
	s.settle()
	return nil
}

// Fill types a value into the input matching a CSS selector.
func (s *Session) Fill(selector, value string, timeout float64) error {
	opts := playwright.PageFillOptions{}
	if timeout > 0 {
		opts.Timeout = &timeout
	}
	if err := s.Page.Fill(selector, value, opts); err != nil {
		return fmt.Errorf("fill on %q failed: %w", selector, err)
	}
	s.settle()
	return nil
}

// TypeText types into whatever element currently has focus. Paired
// with ClickAt for fields located by coordinate rather than selector.
func (s *Session) TypeText(text string) error {
	if err := s.Page.Keyboard().Type(text); err != nil {
		return fmt.Errorf("typing failed: %w", err)
	}
	s.settle()
	return nil
}

// SelectorExists probes for a selector with a short timeout. Used by
// the deterministic selector fallback; a miss is a normal outcome.
func (s *Session) SelectorExists(selector string, timeout float64) bool {
	state := playwright.WaitForSelectorStateVisible
	_, err := s.Page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		State:   state,
		Timeout: &timeout,
	})
	return err == nil
}

// Drag performs a simulated human drag from one point to another:
// mouse down at the source, interpolated mouse moves, a short pause,
// mouse up. The editor only registers drops when drag events fire on
// intermediate move ticks, so steps is floored at MinDragSteps.
func (s *Session) Drag(fromX, fromY, toX, toY float64, steps int) error {
	if steps < MinDragSteps {
		steps = MinDragSteps
	}

	mouse := s.Page.Mouse()

	if err := mouse.Move(fromX, fromY); err != nil {
		return fmt.Errorf("drag: move to source failed: %w", err)
	}
	if err := mouse.Down(); err != nil {
		return fmt.Errorf("drag: mouse down failed: %w", err)
	}

	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		x := fromX + (toX-fromX)*t
		y := fromY + (toY-fromY)*t
		if err := mouse.Move(x, y); err != nil {
			mouse.Up()
			return fmt.Errorf("drag: move step %d failed: %w", i, err)
		}
		time.Sleep(15 * time.Millisecond)
	}

	// Hold over the target briefly so the drop zone highlights
	time.Sleep(300 * time.Millisecond)

	if err := mouse.Up(); err != nil {
		return fmt.Errorf("drag: mouse up failed: %w", err)
	}

	s.settle()
	return nil
}

// UploadFiles attaches local files to the file input matching selector.
func (s *Session) UploadFiles(selector string, paths []string) error {
	files := make([]playwright.InputFile, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("reading upload file %q: %w", p, err)
		}
		files = append(files, playwright.InputFile{
			Name:     filepath.Base(p),
			MimeType: mimeTypeFor(p),
			Buffer:   data,
		})
	}

	if err := s.Page.SetInputFiles(selector, files); err != nil {
		return fmt.Errorf("file upload via %q failed: %w", selector, err)
	}

	s.settle()
	return nil
}

// Screenshot captures the current viewport as PNG bytes.
func (s *Session) Screenshot() ([]byte, error) {
	data, err := s.Page.Screenshot()
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return data, nil
}

// ElementCenter returns the bounding-box center of the nth element
// matching selector (0-based). Used for gallery thumbnails, which are
// stable, deterministic list items.
func (s *Session) ElementCenter(selector string, nth int) (x, y float64, err error) {
	handles, err := s.Page.QuerySelectorAll(selector)
	if err != nil {
		return 0, 0, fmt.Errorf("querying %q: %w", selector, err)
	}
	if nth < 0 || nth >= len(handles) {
		return 0, 0, fmt.Errorf("selector %q matched %d elements, want index %d", selector, len(handles), nth)
	}

	box, err := handles[nth].BoundingBox()
	if err != nil {
		return 0, 0, fmt.Errorf("bounding box for %q[%d]: %w", selector, nth, err)
	}
	if box == nil {
		return 0, 0, fmt.Errorf("element %q[%d] is not visible", selector, nth)
	}

	return box.X + box.Width/2, box.Y + box.Height/2, nil
}

// Close tears down the session's page, context and browser. Errors are
// ignored; the resources are gone either way.
func (s *Session) Close() {
	_ = s.Page.Close()
	_ = s.Context.Close()
	_ = s.Browser.Close()
}

func mimeTypeFor(path string) string {
	switch filepath.Ext(path) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
