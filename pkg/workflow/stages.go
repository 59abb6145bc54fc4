package workflow

import (
	"context"
	"fmt"

	"github.com/fotopilot/fotopilot/pkg/config"
	"github.com/fotopilot/fotopilot/pkg/patterns"
	"github.com/fotopilot/fotopilot/pkg/vision"
)

// stageLogin authenticates against the target site. Skipped when the
// session already shows an authenticated page (persistent cookies).
func (c *Controller) stageLogin(ctx context.Context, run *Run, order Order) error {
	if err := c.driver.Navigate(c.cfg.Site.BaseURL); err != nil {
		return NewError(CodeBrowserFailure, StageLogin, "navigation to site failed").WithCause(err)
	}

	cls := c.classify(ctx, run)
	if cls.PageType == vision.PageEditor || cls.PageType == vision.PageCatalog {
		run.Logf("already authenticated, skipping login")
		return nil
	}

	username, password, err := c.cfg.Credentials()
	if err != nil {
		return NewError(CodeFatalStageFailure, StageLogin, "credentials unavailable").WithCause(err)
	}

	if err := c.fillField(ctx, run, StageLogin, "login_username",
		"email or username input field on the login form", username); err != nil {
		return err
	}
	if err := c.fillField(ctx, run, StageLogin, "login_password",
		"password input field on the login form", password); err != nil {
		return err
	}
	if err := c.clickElement(ctx, run, StageLogin, "login_submit",
		"button that submits the login form, labeled 'Log in' or 'Sign in'"); err != nil {
		return err
	}

	cls = c.classify(ctx, run)
	if cls.PageType == vision.PageLogin {
		return NewError(CodeFatalStageFailure, StageLogin,
			"still on login page after submitting credentials")
	}
	return nil
}

// stageSelectProduct opens the ordered product from the catalog.
func (c *Controller) stageSelectProduct(ctx context.Context, run *Run, order Order) error {
	cls := c.classify(ctx, run)
	if cls.PageType == vision.PageEditor {
		run.Logf("editor already open, skipping product selection")
		return nil
	}

	tileDesc := fmt.Sprintf("product tile or card for the photobook product %q", order.ProductCode)
	if err := c.clickElement(ctx, run, StageSelectProduct, "product_"+order.ProductCode, tileDesc); err != nil {
		return err
	}

	// Some catalogs open the editor straight from the tile; only chase
	// the CTA when we are still on the catalog.
	cls = c.classify(ctx, run)
	if cls.PageType == vision.PageEditor {
		return nil
	}

	return c.clickElement(ctx, run, StageSelectProduct, "product_cta",
		"primary button to start designing or configuring the selected product")
}

// stageCreateProject names and creates the photobook project.
func (c *Controller) stageCreateProject(ctx context.Context, run *Run, order Order) error {
	if order.Title != "" {
		err := c.fillField(ctx, run, StageCreateProject, "project_title",
			"input field for the project or photobook title", order.Title)
		if err != nil {
			// Some flows only ask for a title at checkout
			run.Logf("no title field found, continuing without naming: %v", err)
		}
	}

	err := c.clickElement(ctx, run, StageCreateProject, "create_project",
		"button that says 'Create Project', 'Start', or 'Continue to editor'")
	if err != nil {
		if cls := c.classify(ctx, run); cls.PageType == vision.PageEditor {
			run.Logf("editor open without explicit create step")
			return nil
		}
		return err
	}
	return nil
}

// stageUploadPhotos attaches the order's photos to the editor's file
// input. File inputs are the one part of the flow where selectors lead:
// a real <input type=file> must exist for the upload to work at all.
func (c *Controller) stageUploadPhotos(ctx context.Context, run *Run, order Order) error {
	if len(order.PhotoPaths) == 0 {
		return NewError(CodeFatalStageFailure, StageUploadPhotos, "order contains no photos")
	}

	candidates := c.cfg.Selectors["upload_input"]
	if len(candidates) == 0 {
		candidates = []config.SelectorCandidate{{Selector: "input[type=file]"}}
	}

	selector, ok := c.findUploadInput(candidates)
	if !ok {
		// The input may be hidden behind an upload button
		err := c.clickElement(ctx, run, StageUploadPhotos, "upload_button",
			"button to add or upload photos to the project")
		if err != nil {
			return err
		}
		if selector, ok = c.findUploadInput(candidates); !ok {
			return NewError(CodeLocatorNotFound, StageUploadPhotos,
				"no file input appeared after opening the upload dialog").AsRetryable()
		}
	}

	if err := c.driver.UploadFiles(selector, order.PhotoPaths); err != nil {
		return NewError(CodeBrowserFailure, StageUploadPhotos, "file upload failed").WithCause(err)
	}
	run.Logf("uploaded %d photos via %q", len(order.PhotoPaths), selector)

	if !c.driver.SelectorExists(c.cfg.Editor.GallerySelector, c.cfg.Browser.ActionTimeout) {
		run.Logf("warning: gallery thumbnails not visible after upload")
	}
	return nil
}

func (c *Controller) findUploadInput(candidates []config.SelectorCandidate) (string, bool) {
	for _, cand := range candidates {
		if c.driver.SelectorExists(cand.Selector, probeTimeout) {
			return cand.Selector, true
		}
	}
	return "", false
}

// stagePlacePhotos drags each uploaded photo from the gallery into its
// slot. Individual failures are tallied, never fatal: a mostly-placed
// book the operator can finish by hand beats an aborted run.
func (c *Controller) stagePlacePhotos(ctx context.Context, run *Run, order Order) error {
	layout := c.cfg.LayoutFor(c.driver.URL())
	if layout == "" {
		cls := c.classify(ctx, run)
		layout = string(cls.PageType)
		run.Logf("no layout rule matched url, using page type %q as layout key", layout)
	}

	attempts := c.cfg.Editor.PlacementAttempts
	if attempts < 1 {
		attempts = 1
	}

	for i := range order.PhotoPaths {
		if err := ctx.Err(); err != nil {
			return err
		}

		result, err := c.placePhoto(ctx, run, layout, i, attempts)
		if err != nil {
			// Only browser/context failures propagate; placement
			// problems are recorded in the result
			return err
		}
		run.Photos = append(run.Photos, *result)
	}

	run.Logf("placement finished: %d/%d photos placed", countPlaced(run.Photos), len(run.Photos))
	return nil
}

// placePhoto runs the placement algorithm for one photo: resolve slot
// point (cache first, then vision), locate the source thumbnail, drag,
// verify, and promote or invalidate the cache entry accordingly.
func (c *Controller) placePhoto(ctx context.Context, run *Run, layout string, index, attempts int) (*PhotoResult, error) {
	slotID := fmt.Sprintf("slot_%d", index+1)
	slotDesc := fmt.Sprintf(c.cfg.Editor.SlotDescription, index+1)
	vp := c.driver.Viewport()

	var lastDetail string
	for attempt := 1; attempt <= attempts; attempt++ {
		point, err := c.resolvePoint(ctx, run, slotID, c.slotStrategies(layout, slotID, slotDesc))
		if err != nil {
			return nil, c.wrapResolveErr(StagePlacePhotos, err)
		}
		if point == nil {
			lastDetail = "slot not found by cache or vision"
			run.Logf("photo %d attempt %d: %s", index+1, attempt, lastDetail)
			continue
		}

		srcX, srcY, err := c.driver.ElementCenter(c.cfg.Editor.GallerySelector, index)
		if err != nil {
			lastDetail = fmt.Sprintf("gallery thumbnail %d not locatable: %v", index, err)
			run.Logf("photo %d attempt %d: %s", index+1, attempt, lastDetail)
			continue
		}

		if err := c.driver.Drag(srcX, srcY, point.X, point.Y, 0); err != nil {
			lastDetail = fmt.Sprintf("drag failed: %v", err)
			run.Logf("photo %d attempt %d: %s", index+1, attempt, lastDetail)
			continue
		}

		shot, err := c.driver.Screenshot()
		if err != nil {
			return nil, NewError(CodeBrowserFailure, StagePlacePhotos, "post-drag screenshot failed").WithCause(err)
		}
		check, err := c.locator.VerifyPlacement(ctx, shot, slotDesc)
		if err != nil {
			return nil, c.wrapResolveErr(StagePlacePhotos, err)
		}

		if check.Placed {
			c.promoteSlot(run, layout, slotID, point, check.Confidence)
			run.Logf("photo %d placed into %s via %s (confidence %.2f)",
				index+1, slotID, point.Source, check.Confidence)
			return &PhotoResult{
				Index:      index,
				Success:    true,
				Source:     string(point.Source),
				Confidence: check.Confidence,
			}, nil
		}

		lastDetail = fmt.Sprintf("verification failed: %s", check.Detail)
		run.Logf("photo %d attempt %d: %s", index+1, attempt, lastDetail)

		if point.Source == SourceCache {
			// The cached coordinate is proven wrong; drop it so the
			// next attempt falls through to vision
			if err := c.store.DeleteSlot(layout, slotID, vp.Width, vp.Height); err != nil && err != patterns.ErrNotFound {
				run.Logf("failed to drop stale slot pattern %s: %v", slotID, err)
			} else {
				run.Logf("dropped stale cached coordinate for %s", slotID)
			}
		}
	}

	return &PhotoResult{
		Index:   index,
		Success: false,
		Detail:  lastDetail,
	}, nil
}

// promoteSlot caches a verified vision-derived slot coordinate.
// First-success-wins: a point that itself came from the cache is never
// re-promoted.
func (c *Controller) promoteSlot(run *Run, layout, slotID string, point *resolvedPoint, confidence float64) {
	if point.Source != SourceVision {
		return
	}
	vp := c.driver.Viewport()
	if err := c.store.PutSlot(layout, slotID, vp.Width, vp.Height, pointGeometry(point), confidence); err != nil {
		run.Logf("failed to cache slot coordinate %s: %v", slotID, err)
		return
	}
	run.Logf("%s: vision coordinate cached for %dx%d", slotID, vp.Width, vp.Height)
}

// stageCheckout moves the finished project to the order/checkout page.
func (c *Controller) stageCheckout(ctx context.Context, run *Run, order Order) error {
	if err := c.clickElement(ctx, run, StageCheckout, "checkout_button",
		"button to order, buy, or checkout the finished photobook"); err != nil {
		return err
	}

	cls := c.classify(ctx, run)
	switch cls.PageType {
	case vision.PageCheckout:
		return nil
	case vision.PageUnknown:
		run.Logf("warning: checkout page not positively identified")
		return nil
	default:
		return NewError(CodeFatalStageFailure, StageCheckout,
			fmt.Sprintf("expected checkout page, still on %s", cls.PageType))
	}
}
