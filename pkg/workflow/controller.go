// Package workflow sequences the photobook automation run: login,
// product selection, project creation, photo upload, per-photo
// placement, checkout. Each step reconciles cached coordinates, vision
// queries, and conventional CSS selectors into one decision, under
// bounded retries.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fotopilot/fotopilot/pkg/config"
	"github.com/fotopilot/fotopilot/pkg/logging"
	"github.com/fotopilot/fotopilot/pkg/vision"
)

// Controller drives one workflow run over one browser session. It owns
// the Run record exclusively; the pattern store is the only resource
// shared with concurrent runs.
type Controller struct {
	cfg     *config.Config
	driver  Driver
	locator Locator
	store   PatternStore
	logger  *logging.Logger
}

// New creates a controller for one run.
func New(cfg *config.Config, driver Driver, locator Locator, store PatternStore) *Controller {
	logger, _ := logging.NewLogger("workflow")
	return &Controller{
		cfg:     cfg,
		driver:  driver,
		locator: locator,
		store:   store,
		logger:  logger,
	}
}

type stageFunc func(ctx context.Context, run *Run, order Order) error

// Execute runs the full workflow for one order and always returns a
// Result; errors are folded into it rather than raised. Cancellation is
// honored at stage boundaries, never mid-action.
func (c *Controller) Execute(ctx context.Context, order Order) *Result {
	run := newRun()
	run.Logf("run %s started: %d photos, product %q, title %q",
		run.ID, len(order.PhotoPaths), order.ProductCode, order.Title)
	c.infof("run %s started", run.ID)

	stages := []struct {
		stage Stage
		fn    stageFunc
	}{
		{StageLogin, c.stageLogin},
		{StageSelectProduct, c.stageSelectProduct},
		{StageCreateProject, c.stageCreateProject},
		{StageUploadPhotos, c.stageUploadPhotos},
		{StagePlacePhotos, c.stagePlacePhotos},
		{StageCheckout, c.stageCheckout},
	}

	reached := StageInit
	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			run.Logf("run aborted before stage %s: %v", s.stage, err)
			return c.buildResult(run, reached, false)
		}

		run.Stages[s.stage] = StatusInProgress
		run.Logf("stage %s started", s.stage)

		if err := c.runStage(ctx, run, s.stage, s.fn, order); err != nil {
			run.Stages[s.stage] = StatusFailed
			err = c.escalate(s.stage, err)
			run.Logf("stage %s failed: %v", s.stage, err)
			c.warnf("run %s: stage %s failed: %v", run.ID, s.stage, err)
			return c.buildResult(run, reached, false)
		}

		run.Stages[s.stage] = StatusSuccess
		run.Logf("stage %s succeeded", s.stage)
		reached = s.stage
	}

	result := c.buildResult(run, reached, true)
	c.infof("run %s finished: %d/%d photos placed",
		run.ID, countPlaced(run.Photos), len(run.Photos))
	return result
}

// runStage runs a stage function, retrying once after a settle delay
// when the failure is retryable. Browser failures never retry here; the
// session is assumed gone.
func (c *Controller) runStage(ctx context.Context, run *Run, stage Stage, fn stageFunc, order Order) error {
	err := fn(ctx, run, order)
	if err == nil {
		return nil
	}

	var wfErr *Error
	if errors.As(err, &wfErr) && wfErr.Retryable && wfErr.Code != CodeBrowserFailure {
		run.Logf("stage %s: retrying after retryable failure: %v", stage, err)
		if sleepErr := sleepCtx(ctx, c.cfg.Browser.SettleDelay); sleepErr != nil {
			return sleepErr
		}
		err = fn(ctx, run, order)
	}
	return err
}

// escalate converts an exhausted failure in a scope-fatal stage into a
// FatalStageFailure, preserving the original as cause.
func (c *Controller) escalate(stage Stage, err error) error {
	if !fatalStages[stage] {
		return err
	}
	var wfErr *Error
	if errors.As(err, &wfErr) && (wfErr.Code == CodeFatalStageFailure || wfErr.Code == CodeBrowserFailure) {
		return err
	}
	return NewError(CodeFatalStageFailure, stage, "stage exhausted all strategies").WithCause(err)
}

func (c *Controller) buildResult(run *Run, reached Stage, success bool) *Result {
	return &Result{
		Success:         success,
		StageReached:    reached,
		PerPhotoResults: run.Photos,
		DiagnosticLog:   run.log,
		LastPageType:    string(run.lastPageType),
	}
}

// classify screenshots the page and records the classification on the
// run. Classifier failures degrade to PageUnknown, never abort.
func (c *Controller) classify(ctx context.Context, run *Run) *vision.PageClassification {
	shot, err := c.driver.Screenshot()
	if err != nil {
		run.Logf("classification screenshot failed: %v", err)
		return &vision.PageClassification{PageType: vision.PageUnknown}
	}

	cls, err := c.locator.ClassifyPage(ctx, shot)
	if err != nil || cls == nil {
		run.Logf("page classification failed: %v", err)
		return &vision.PageClassification{PageType: vision.PageUnknown}
	}

	run.lastPageType = cls.PageType
	run.Logf("page classified as %s (url %s)", cls.PageType, c.driver.URL())
	for _, alert := range cls.Alerts {
		run.Logf("page alert: %s", alert)
	}
	return cls
}

// clickElement resolves a named element via cache→vision and clicks it,
// falling back to the configured selector list. Vision-resolved clicks
// are promoted into the element pattern cache; cache hits are not
// re-promoted.
func (c *Controller) clickElement(ctx context.Context, run *Run, stage Stage, name, description string) error {
	point, err := c.resolvePoint(ctx, run, name, c.elementStrategies(name, description))
	if err != nil {
		return c.wrapResolveErr(stage, err)
	}

	if point != nil {
		clickErr := c.driver.ClickAt(point.X, point.Y)
		if clickErr != nil {
			// One retry after a settle; the element may have been
			// mid-animation
			run.Logf("%s: click at (%.0f, %.0f) failed, retrying: %v", name, point.X, point.Y, clickErr)
			if err := sleepCtx(ctx, c.cfg.Browser.SettleDelay); err != nil {
				return err
			}
			clickErr = c.driver.ClickAt(point.X, point.Y)
		}
		if clickErr == nil {
			c.promoteElement(run, name, point)
			return nil
		}
		run.Logf("%s: coordinate click failed twice, falling back to selectors: %v", name, clickErr)
	}

	if selector, ok := trySelectors(c.driver, c.cfg.Selectors[name], ""); ok {
		run.Logf("%s: clicked via selector fallback %q", name, selector)
		return nil
	}

	c.logDOMContext(run, name)
	return NewError(CodeLocatorNotFound, stage,
		fmt.Sprintf("element %q not found by cache, vision, or selectors", name)).AsRetryable()
}

// fillField is clickElement's analogue for text inputs: click the
// resolved point and type, or fall back to selector fill.
func (c *Controller) fillField(ctx context.Context, run *Run, stage Stage, name, description, value string) error {
	point, err := c.resolvePoint(ctx, run, name, c.elementStrategies(name, description))
	if err != nil {
		return c.wrapResolveErr(stage, err)
	}

	if point != nil {
		if clickErr := c.driver.ClickAt(point.X, point.Y); clickErr == nil {
			if typeErr := c.driver.TypeText(value); typeErr == nil {
				c.promoteElement(run, name, point)
				return nil
			}
			run.Logf("%s: typing after coordinate click failed", name)
		} else {
			run.Logf("%s: coordinate click failed, falling back to selectors: %v", name, clickErr)
		}
	}

	if selector, ok := trySelectors(c.driver, c.cfg.Selectors[name], value); ok {
		run.Logf("%s: filled via selector fallback %q", name, selector)
		return nil
	}

	c.logDOMContext(run, name)
	return NewError(CodeLocatorNotFound, stage,
		fmt.Sprintf("field %q not found by cache, vision, or selectors", name)).AsRetryable()
}

// logDOMContext dumps the page's interactive elements into the run log
// after every strategy for an element came up empty. The summary is what
// an operator uses to add a selector candidate for the next run.
func (c *Controller) logDOMContext(run *Run, name string) {
	elements, err := c.driver.DOMSummary(maxDOMLogElements)
	if err != nil {
		run.Logf("%s: dom summary unavailable: %v", name, err)
		return
	}
	run.Logf("%s: page has %d interactive elements:", name, len(elements))
	for _, el := range elements {
		run.Logf("  <%s> %q selector=%s", el.Tag, el.Text, el.Selector)
	}
}

// promoteElement writes a vision-resolved element point into the cache.
// Cache-sourced points are left alone: re-promoting a hit would only
// refresh a coordinate nothing re-verified.
func (c *Controller) promoteElement(run *Run, name string, point *resolvedPoint) {
	if point.Source != SourceVision {
		return
	}
	vp := c.driver.Viewport()
	geom := pointGeometry(point)
	if err := c.store.PutElement(name, vp.Width, vp.Height, geom, point.Confidence, ""); err != nil {
		run.Logf("%s: failed to cache element coordinate: %v", name, err)
		return
	}
	run.Logf("%s: vision coordinate cached for %dx%d", name, vp.Width, vp.Height)
}

// wrapResolveErr normalizes strategy-chain errors: browser failures
// keep their code, everything else becomes a retryable stage error.
func (c *Controller) wrapResolveErr(stage Stage, err error) error {
	var wfErr *Error
	if errors.As(err, &wfErr) {
		if wfErr.Stage == "" {
			wfErr.Stage = stage
		}
		return wfErr
	}
	if ctxErr := contextError(err); ctxErr != nil {
		return ctxErr
	}
	return NewError(CodeBrowserFailure, stage, "strategy chain failed").WithCause(err)
}

func contextError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func countPlaced(photos []PhotoResult) int {
	n := 0
	for _, p := range photos {
		if p.Success {
			n++
		}
	}
	return n
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) infof(format string, v ...interface{}) {
	if c.logger != nil {
		c.logger.Infof(format, v...)
	}
}

func (c *Controller) warnf(format string, v ...interface{}) {
	if c.logger != nil {
		c.logger.Warnf(format, v...)
	}
}
