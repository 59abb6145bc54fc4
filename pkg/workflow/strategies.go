package workflow

import (
	"context"

	"github.com/fotopilot/fotopilot/pkg/patterns"
)

// PointSource names where a resolved coordinate came from. Promotion
// into the pattern store depends on it: only vision-derived points are
// promoted, cache hits never re-promote themselves.
type PointSource string

const (
	SourceCache  PointSource = "cache"
	SourceVision PointSource = "vision"
)

// resolvedPoint is the uniform result shape every strategy returns.
type resolvedPoint struct {
	X, Y       float64
	Confidence float64
	Source     PointSource
}

// pointStrategy is one named way of resolving a coordinate. Strategies
// are tried in order; returning (nil, nil) means "no answer, try the
// next one".
type pointStrategy struct {
	name    string
	resolve func(ctx context.Context) (*resolvedPoint, error)
}

// resolvePoint walks the strategy chain and returns the first answer,
// logging each miss to the run diagnostic log.
func (c *Controller) resolvePoint(ctx context.Context, run *Run, target string, chain []pointStrategy) (*resolvedPoint, error) {
	for _, strategy := range chain {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		point, err := strategy.resolve(ctx)
		if err != nil {
			return nil, err
		}
		if point == nil {
			run.Logf("%s: %s strategy found nothing", target, strategy.name)
			continue
		}

		run.Logf("%s: resolved via %s at (%.0f, %.0f) confidence %.2f",
			target, strategy.name, point.X, point.Y, point.Confidence)
		return point, nil
	}
	return nil, nil
}

// slotStrategies builds the cache-then-vision chain for a placement
// slot. Slots have no selector fallback: they are canvas-rendered.
func (c *Controller) slotStrategies(layout, slotID, description string) []pointStrategy {
	vp := c.driver.Viewport()

	return []pointStrategy{
		{
			name: "cache",
			resolve: func(ctx context.Context) (*resolvedPoint, error) {
				p, err := c.store.GetSlot(layout, slotID, vp.Width, vp.Height)
				if err == patterns.ErrNotFound {
					return nil, nil
				}
				if err != nil {
					return nil, err
				}
				return &resolvedPoint{
					X:          p.Geometry.CenterX,
					Y:          p.Geometry.CenterY,
					Confidence: p.Confidence,
					Source:     SourceCache,
				}, nil
			},
		},
		c.visionStrategy(description),
	}
}

// elementStrategies builds the cache-then-vision chain for a named UI
// element. The selector fallback is not part of the chain because it
// acts directly instead of yielding a point; callers run it after the
// chain comes up empty.
func (c *Controller) elementStrategies(name, description string) []pointStrategy {
	vp := c.driver.Viewport()

	return []pointStrategy{
		{
			name: "cache",
			resolve: func(ctx context.Context) (*resolvedPoint, error) {
				p, err := c.store.GetElement(name, vp.Width, vp.Height)
				if err == patterns.ErrNotFound {
					return nil, nil
				}
				if err != nil {
					return nil, err
				}
				return &resolvedPoint{
					X:          p.Geometry.CenterX,
					Y:          p.Geometry.CenterY,
					Confidence: p.Confidence,
					Source:     SourceCache,
				}, nil
			},
		},
		c.visionStrategy(description),
	}
}

// pointGeometry converts a resolved point into cacheable geometry.
func pointGeometry(p *resolvedPoint) patterns.Geometry {
	return patterns.FromPoint(p.X, p.Y)
}

// visionStrategy asks the locator for the described element on a fresh
// screenshot. Always re-screenshots: the UI may have changed since the
// last capture, and stale pixels produce confidently wrong answers.
func (c *Controller) visionStrategy(description string) pointStrategy {
	return pointStrategy{
		name: "vision",
		resolve: func(ctx context.Context) (*resolvedPoint, error) {
			shot, err := c.driver.Screenshot()
			if err != nil {
				return nil, NewError(CodeBrowserFailure, "", "screenshot for vision query failed").WithCause(err)
			}

			vp := c.driver.Viewport()
			result, err := c.locator.FindElement(ctx, shot, description, vp.Width, vp.Height)
			if err != nil {
				return nil, err
			}
			if !result.Found {
				return nil, nil
			}
			return &resolvedPoint{
				X:          result.X,
				Y:          result.Y,
				Confidence: result.Confidence,
				Source:     SourceVision,
			}, nil
		},
	}
}
