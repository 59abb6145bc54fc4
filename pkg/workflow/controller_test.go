package workflow

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fotopilot/fotopilot/pkg/browser"
	"github.com/fotopilot/fotopilot/pkg/config"
	"github.com/fotopilot/fotopilot/pkg/patterns"
	"github.com/fotopilot/fotopilot/pkg/vision"
)

// fakeDriver is a scripted Driver. All selectors in existing are
// considered present; everything else is absent.
type fakeDriver struct {
	vp       browser.Viewport
	url      string
	existing map[string]bool

	clickAtErr     error
	elementCenterErr error

	clicks         [][2]float64
	selectorClicks []string
	fills          map[string]string
	typed          []string
	drags          [][4]float64
	uploaded       []string
	screenshots    int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		vp:       browser.Viewport{Width: 1366, Height: 768},
		url:      "https://photos.example/editor/book/42",
		existing: map[string]bool{},
		fills:    map[string]string{},
	}
}

func (d *fakeDriver) Navigate(url string) error { return nil }

func (d *fakeDriver) ClickAt(x, y float64) error {
	if d.clickAtErr != nil {
		return d.clickAtErr
	}
	d.clicks = append(d.clicks, [2]float64{x, y})
	return nil
}

func (d *fakeDriver) ClickSelector(selector string, timeout float64) error {
	d.selectorClicks = append(d.selectorClicks, selector)
	return nil
}

func (d *fakeDriver) Fill(selector, value string, timeout float64) error {
	d.fills[selector] = value
	return nil
}

func (d *fakeDriver) TypeText(text string) error {
	d.typed = append(d.typed, text)
	return nil
}

func (d *fakeDriver) SelectorExists(selector string, timeout float64) bool {
	return d.existing[selector]
}

func (d *fakeDriver) Drag(fromX, fromY, toX, toY float64, steps int) error {
	d.drags = append(d.drags, [4]float64{fromX, fromY, toX, toY})
	return nil
}

func (d *fakeDriver) UploadFiles(selector string, paths []string) error {
	d.uploaded = append(d.uploaded, paths...)
	return nil
}

func (d *fakeDriver) Screenshot() ([]byte, error) {
	d.screenshots++
	return []byte("png"), nil
}

func (d *fakeDriver) ElementCenter(selector string, nth int) (float64, float64, error) {
	if d.elementCenterErr != nil {
		return 0, 0, d.elementCenterErr
	}
	return 50, float64(100 + nth*80), nil
}

func (d *fakeDriver) DOMSummary(max int) ([]browser.DOMElement, error) {
	return []browser.DOMElement{
		{Tag: "button", Text: "Order now", Selector: "button.order"},
	}, nil
}

func (d *fakeDriver) Viewport() browser.Viewport { return d.vp }
func (d *fakeDriver) URL() string                { return d.url }

// fakeLocator answers classification from a fixed queue and delegates
// find/verify to test-supplied functions.
type fakeLocator struct {
	pages         []vision.PageType
	classifyCalls int

	find   func(description string) *vision.QueryResult
	verify func(slotDescription string) *vision.PlacementCheck
}

func (l *fakeLocator) FindElement(ctx context.Context, screenshot []byte, description string, vw, vh int) (*vision.QueryResult, error) {
	if l.find == nil {
		return &vision.QueryResult{Found: false}, nil
	}
	return l.find(description), nil
}

func (l *fakeLocator) ClassifyPage(ctx context.Context, screenshot []byte) (*vision.PageClassification, error) {
	page := vision.PageUnknown
	if l.classifyCalls < len(l.pages) {
		page = l.pages[l.classifyCalls]
	}
	l.classifyCalls++
	return &vision.PageClassification{PageType: page}, nil
}

func (l *fakeLocator) VerifyPlacement(ctx context.Context, screenshot []byte, slotDescription string) (*vision.PlacementCheck, error) {
	if l.verify == nil {
		return &vision.PlacementCheck{Placed: true, Confidence: 0.95}, nil
	}
	return l.verify(slotDescription), nil
}

// fakeStore is an in-memory PatternStore with write accounting.
type fakeStore struct {
	slots map[string]*patterns.SlotPattern
	elems map[string]*patterns.UIElementPattern

	slotPuts int
	elemPuts int
	deleted  []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		slots: map[string]*patterns.SlotPattern{},
		elems: map[string]*patterns.UIElementPattern{},
	}
}

func slotKey(layout, slotID string, vw, vh int) string {
	return fmt.Sprintf("%s/%s/%dx%d", layout, slotID, vw, vh)
}

func elemKey(name string, vw, vh int) string {
	return fmt.Sprintf("%s/%dx%d", name, vw, vh)
}

func (s *fakeStore) GetSlot(layout, slotID string, vw, vh int) (*patterns.SlotPattern, error) {
	p, ok := s.slots[slotKey(layout, slotID, vw, vh)]
	if !ok {
		return nil, patterns.ErrNotFound
	}
	return p, nil
}

func (s *fakeStore) PutSlot(layout, slotID string, vw, vh int, geom patterns.Geometry, confidence float64) error {
	s.slotPuts++
	s.slots[slotKey(layout, slotID, vw, vh)] = &patterns.SlotPattern{
		LayoutName: layout, SlotID: slotID,
		ViewportWidth: vw, ViewportHeight: vh,
		Geometry: geom, Confidence: confidence,
	}
	return nil
}

func (s *fakeStore) DeleteSlot(layout, slotID string, vw, vh int) error {
	key := slotKey(layout, slotID, vw, vh)
	if _, ok := s.slots[key]; !ok {
		return patterns.ErrNotFound
	}
	delete(s.slots, key)
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *fakeStore) GetElement(name string, vw, vh int) (*patterns.UIElementPattern, error) {
	p, ok := s.elems[elemKey(name, vw, vh)]
	if !ok {
		return nil, patterns.ErrNotFound
	}
	return p, nil
}

func (s *fakeStore) PutElement(name string, vw, vh int, geom patterns.Geometry, confidence float64, selector string) error {
	s.elemPuts++
	s.elems[elemKey(name, vw, vh)] = &patterns.UIElementPattern{
		ElementName:   name,
		ViewportWidth: vw, ViewportHeight: vh,
		Geometry: geom, Confidence: confidence, Selector: selector,
	}
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("FOTOPILOT_USERNAME", "operator@example.com")
	t.Setenv("FOTOPILOT_PASSWORD", "hunter2")

	cfg := config.Default()
	cfg.Site.BaseURL = "https://photos.example"
	cfg.Browser.SettleDelay = 0
	cfg.Editor.SlotDescription = "empty slot number %d"
	cfg.Layouts = []config.LayoutRule{
		{Name: "book_editor", URLGlob: "*photos.example/editor/*"},
	}
	return cfg
}

func alwaysFound(description string) *vision.QueryResult {
	return &vision.QueryResult{Found: true, X: 400, Y: 300, Confidence: 0.9}
}

// happyLocator returns a locator scripted for a clean full run:
// login page, post-login catalog, catalog before product click, editor
// after product click, checkout at the end.
func happyLocator() *fakeLocator {
	return &fakeLocator{
		pages: []vision.PageType{
			vision.PageLogin,
			vision.PageCatalog,
			vision.PageCatalog,
			vision.PageEditor,
			vision.PageCheckout,
		},
		find: alwaysFound,
	}
}

func happyDriver() *fakeDriver {
	d := newFakeDriver()
	d.existing["input[type=file]"] = true
	d.existing[".media-gallery img"] = true
	return d
}

func photoOrder(n int) Order {
	paths := make([]string, n)
	for i := range paths {
		paths[i] = fmt.Sprintf("/photos/img_%02d.jpg", i+1)
	}
	return Order{PhotoPaths: paths, ProductCode: "PB-A4-20", Title: "Summer 2026"}
}

func TestExecuteFullRun(t *testing.T) {
	driver := happyDriver()
	locator := happyLocator()
	store := newFakeStore()

	ctrl := New(testConfig(t), driver, locator, store)
	result := ctrl.Execute(context.Background(), photoOrder(3))

	require.True(t, result.Success)
	assert.Equal(t, StageCheckout, result.StageReached)
	require.Len(t, result.PerPhotoResults, 3)
	for i, pr := range result.PerPhotoResults {
		assert.Equal(t, i, pr.Index)
		assert.True(t, pr.Success)
		assert.Equal(t, "vision", pr.Source)
	}

	// All three photos were uploaded in order and dragged once each
	assert.Len(t, driver.uploaded, 3)
	assert.Len(t, driver.drags, 3)

	// Every verified vision placement was promoted into the cache
	assert.Equal(t, 3, store.slotPuts)
	assert.NotZero(t, store.elemPuts)
	assert.NotEmpty(t, result.DiagnosticLog)
}

func TestCacheHitIsNotRePromoted(t *testing.T) {
	driver := happyDriver()
	locator := happyLocator()
	store := newFakeStore()

	// Slot 1 already learned at this viewport
	require.NoError(t, store.PutSlot("book_editor", "slot_1", 1366, 768, patterns.FromPoint(500, 350), 0.88))
	store.slotPuts = 0

	ctrl := New(testConfig(t), driver, locator, store)
	result := ctrl.Execute(context.Background(), photoOrder(1))

	require.True(t, result.Success)
	require.Len(t, result.PerPhotoResults, 1)
	assert.Equal(t, "cache", result.PerPhotoResults[0].Source)
	assert.True(t, result.PerPhotoResults[0].Success)

	// The cached point verified, so nothing was rewritten
	assert.Zero(t, store.slotPuts)

	// The drag targeted the cached coordinate, not the vision one
	require.Len(t, driver.drags, 1)
	assert.Equal(t, 500.0, driver.drags[0][2])
	assert.Equal(t, 350.0, driver.drags[0][3])
}

func TestStaleCacheEntryDroppedAfterFailedVerification(t *testing.T) {
	driver := happyDriver()
	store := newFakeStore()
	require.NoError(t, store.PutSlot("book_editor", "slot_1", 1366, 768, patterns.FromPoint(10, 10), 0.88))
	store.slotPuts = 0

	locator := happyLocator()
	verifyCalls := 0
	locator.verify = func(slotDescription string) *vision.PlacementCheck {
		verifyCalls++
		if verifyCalls == 1 {
			return &vision.PlacementCheck{Placed: false, Detail: "frame still empty"}
		}
		return &vision.PlacementCheck{Placed: true, Confidence: 0.92}
	}

	ctrl := New(testConfig(t), driver, locator, store)
	result := ctrl.Execute(context.Background(), photoOrder(1))

	require.True(t, result.Success)
	require.Len(t, result.PerPhotoResults, 1)

	// First attempt used the stale cache entry and failed verification,
	// which dropped it; the second attempt fell through to vision.
	assert.Equal(t, []string{slotKey("book_editor", "slot_1", 1366, 768)}, store.deleted)
	assert.Equal(t, "vision", result.PerPhotoResults[0].Source)
	assert.True(t, result.PerPhotoResults[0].Success)
	assert.Equal(t, 1, store.slotPuts)
}

func TestPlacementFailuresAreTalliedNotFatal(t *testing.T) {
	driver := happyDriver()
	store := newFakeStore()

	locator := happyLocator()
	locator.verify = func(slotDescription string) *vision.PlacementCheck {
		var n int
		if _, err := fmt.Sscanf(slotDescription, "empty slot number %d", &n); err == nil && (n == 3 || n == 7) {
			return &vision.PlacementCheck{Placed: false, Detail: "photo landed outside the frame"}
		}
		return &vision.PlacementCheck{Placed: true, Confidence: 0.9}
	}

	ctrl := New(testConfig(t), driver, locator, store)
	result := ctrl.Execute(context.Background(), photoOrder(10))

	require.True(t, result.Success)
	assert.Equal(t, StageCheckout, result.StageReached)
	require.Len(t, result.PerPhotoResults, 10)

	for i, pr := range result.PerPhotoResults {
		if i == 2 || i == 6 {
			assert.False(t, pr.Success, "photo %d should have failed", i+1)
			assert.Contains(t, pr.Detail, "outside the frame")
		} else {
			assert.True(t, pr.Success, "photo %d should have placed", i+1)
		}
	}

	// Failed placements are never promoted
	assert.Equal(t, 8, store.slotPuts)
}

func TestSelectorFallbackAfterVisionMiss(t *testing.T) {
	driver := newFakeDriver()
	driver.existing["#login-email"] = true
	driver.existing["#login-password"] = true
	driver.existing["button[type=submit]"] = true

	locator := &fakeLocator{
		pages: []vision.PageType{vision.PageLogin, vision.PageCatalog},
		find: func(description string) *vision.QueryResult {
			return &vision.QueryResult{Found: false}
		},
	}

	cfg := testConfig(t)
	cfg.Selectors = map[string][]config.SelectorCandidate{
		"login_username": {{Selector: "#login-email", Kind: "fill"}},
		"login_password": {{Selector: "#login-password", Kind: "fill"}},
		"login_submit":   {{Selector: "button[type=submit]"}},
	}

	ctrl := New(cfg, driver, locator, newFakeStore())
	result := ctrl.Execute(context.Background(), photoOrder(1))

	// Login succeeded via selectors; the run then dies at product
	// selection, which has no fallback configured.
	assert.False(t, result.Success)
	assert.Equal(t, StageLogin, result.StageReached)

	assert.Equal(t, "operator@example.com", driver.fills["#login-email"])
	assert.Equal(t, "hunter2", driver.fills["#login-password"])
	assert.Contains(t, driver.selectorClicks, "button[type=submit]")

	log := strings.Join(result.DiagnosticLog, "\n")
	assert.Contains(t, log, "selector fallback")
}

func TestFatalStageAbortsRun(t *testing.T) {
	driver := newFakeDriver()
	locator := &fakeLocator{
		pages: []vision.PageType{vision.PageLogin},
		find: func(description string) *vision.QueryResult {
			return &vision.QueryResult{Found: false}
		},
	}

	ctrl := New(testConfig(t), driver, locator, newFakeStore())
	result := ctrl.Execute(context.Background(), photoOrder(1))

	assert.False(t, result.Success)
	assert.Equal(t, StageInit, result.StageReached)
	assert.Empty(t, driver.drags)

	log := strings.Join(result.DiagnosticLog, "\n")
	assert.Contains(t, log, "stage login failed")
	assert.Contains(t, log, "interactive elements")
	assert.Contains(t, log, "button.order")
}

func TestLoginSkippedWhenAlreadyAuthenticated(t *testing.T) {
	driver := happyDriver()
	locator := &fakeLocator{
		pages: []vision.PageType{
			vision.PageEditor,   // login check: already in
			vision.PageEditor,   // product selection skipped
			vision.PageCheckout, // after checkout click
		},
		find: alwaysFound,
	}

	order := photoOrder(1)
	order.Title = ""

	ctrl := New(testConfig(t), driver, locator, newFakeStore())
	result := ctrl.Execute(context.Background(), order)

	require.True(t, result.Success)
	assert.Empty(t, driver.typed, "no credentials should have been typed")

	log := strings.Join(result.DiagnosticLog, "\n")
	assert.Contains(t, log, "already authenticated")
}

func TestExecuteHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ctrl := New(testConfig(t), happyDriver(), happyLocator(), newFakeStore())
	result := ctrl.Execute(ctx, photoOrder(1))

	assert.False(t, result.Success)
	assert.Equal(t, StageInit, result.StageReached)
}

func TestCheckoutRejectsWrongPage(t *testing.T) {
	driver := happyDriver()
	locator := happyLocator()
	// Last classification says we never left the editor
	locator.pages[len(locator.pages)-1] = vision.PageEditor

	ctrl := New(testConfig(t), driver, locator, newFakeStore())
	result := ctrl.Execute(context.Background(), photoOrder(1))

	assert.False(t, result.Success)
	assert.Equal(t, StagePlacePhotos, result.StageReached)
	assert.Equal(t, "editor", result.LastPageType)
}
