package vision

import "fmt"

// Prompts instruct the model to answer with bare JSON. Responses are
// still run through ExtractJSON because models do not reliably comply.

func findElementPrompt(description string, vw, vh int) string {
	return fmt.Sprintf(`You are looking at a %dx%d browser screenshot of a photobook editor website.
Locate this element: %q

Respond with a single JSON object, no markdown:
{
  "found": true or false,
  "x": horizontal pixel coordinate of the element center,
  "y": vertical pixel coordinate of the element center,
  "confidence": 0.0 to 1.0,
  "description_matched": "what you actually matched",
  "alternatives": ["other plausible elements you noticed"]
}

If the element is not visible, set "found" to false and leave x and y at 0.
Coordinates are measured from the top-left corner of the screenshot.`, vw, vh, description)
}

const classifyPagePrompt = `You are looking at a browser screenshot of a photobook editor website.
Classify the page and respond with a single JSON object, no markdown:
{
  "page_type": one of "login", "catalog", "editor", "checkout", "unknown",
  "visible_elements": ["notable buttons, fields and controls"],
  "visible_products": ["product names or tiles if this is a catalog page"],
  "alerts": ["any error banners, modals or warnings"]
}`

func verifyPlacementPrompt(slotDescription string) string {
	return fmt.Sprintf(`You are looking at a browser screenshot of a photobook editor, taken just after a photo was dragged onto the page.
Check whether a photo now fills this target: %q

Respond with a single JSON object, no markdown:
{
  "placed": true or false,
  "confidence": 0.0 to 1.0,
  "detail": "what you see in and around the target"
}

"placed" is true only if the target visibly contains a photo rather than an empty frame or placeholder.`, slotDescription)
}
