package headless

import (
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// Step actions.
const (
	ActionClick       = "click"
	ActionWaitVisible = "wait_visible"
	ActionSleep       = "sleep"
)

// Step is one scripted interaction. Selectors are resolved with DOM search,
// so CSS selectors, XPath expressions and plain text all work.
type Step struct {
	Action   string
	Selector string
	// Wait is slept after a click or wait, or is the whole duration of a sleep.
	Wait time.Duration
}

func (st Step) action() (chromedp.Action, error) {
	switch st.Action {
	case ActionClick:
		if st.Selector == "" {
			return nil, fmt.Errorf("click requires a selector")
		}
		return chromedp.Tasks{
			chromedp.WaitVisible(st.Selector, chromedp.BySearch),
			chromedp.Click(st.Selector, chromedp.BySearch),
			chromedp.Sleep(st.Wait),
		}, nil
	case ActionWaitVisible:
		if st.Selector == "" {
			return nil, fmt.Errorf("wait_visible requires a selector")
		}
		return chromedp.Tasks{
			chromedp.WaitVisible(st.Selector, chromedp.BySearch),
			chromedp.Sleep(st.Wait),
		}, nil
	case ActionSleep:
		if st.Wait <= 0 {
			return nil, fmt.Errorf("sleep requires a positive wait")
		}
		return chromedp.Sleep(st.Wait), nil
	default:
		return nil, fmt.Errorf("unsupported step action %q", st.Action)
	}
}
