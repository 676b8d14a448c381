package dom

import (
	"github.com/chromedp/chromedp"
)

// FullHTMLAction captures the serialized document, the snapshot Classify
// consumes.
func FullHTMLAction(res *string) chromedp.Action {
	return chromedp.Evaluate(`document.documentElement.outerHTML`, res)
}
