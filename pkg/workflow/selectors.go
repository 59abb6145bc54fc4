package workflow

import (
	"github.com/fotopilot/fotopilot/pkg/config"
)

// probeTimeout is the per-candidate existence check, in milliseconds.
// Kept short: the fallback runs after vision already failed, and a long
// wait per dead selector would stack up.
const probeTimeout = 2000.0

// maxDOMLogElements caps the DOM dump written to the diagnostic log
// when element resolution fails completely.
const maxDOMLogElements = 40

// trySelectors walks an ordered candidate list and acts on the first
// selector that exists: clicks it, or fills it with value when its kind
// is "fill". Deterministic, no learning, no persistence. Returns the
// matched selector and whether anything matched.
//
// Only used for elements stable enough to have a conventional selector
// (login fields, primary CTA buttons), never for placement slots,
// which are canvas-rendered and have no selector by construction.
func trySelectors(driver Driver, candidates []config.SelectorCandidate, value string) (string, bool) {
	for _, cand := range candidates {
		if !driver.SelectorExists(cand.Selector, probeTimeout) {
			continue
		}

		var err error
		if cand.Kind == "fill" {
			err = driver.Fill(cand.Selector, value, probeTimeout)
		} else {
			err = driver.ClickSelector(cand.Selector, probeTimeout)
		}
		if err != nil {
			// Exists but not interactable; keep walking the list
			continue
		}
		return cand.Selector, true
	}
	return "", false
}
