package evaluate

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// Browser opens interactive sessions against rendered pages. Implementations
// must be safe for concurrent NewSession calls; the harness bounds how many
// sessions are live at once.
type Browser interface {
	NewSession(ctx context.Context, url string) (Session, error)
}

// Session is one loaded page. Close must always be called, on every exit path.
type Session interface {
	CountElements(ctx context.Context, selector string) (int, error)
	Click(ctx context.Context, selector, expectSelector string) (bool, error)
	Responsive(ctx context.Context, widths []int64) (int, error)
	Text(ctx context.Context, selector string) (string, error)
	Close() error
}

// ChromeBrowser drives a headless Chrome instance via the DevTools protocol.
// One exec allocator is shared; each session gets its own tab.
type ChromeBrowser struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
}

// NewChromeBrowser starts a headless Chrome allocator. Close releases it.
func NewChromeBrowser(ctx context.Context) *ChromeBrowser {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	return &ChromeBrowser{allocCtx: allocCtx, allocCancel: cancel}
}

// Close shuts the allocator down along with any remaining tabs.
func (b *ChromeBrowser) Close() {
	b.allocCancel()
}

// NewSession opens a tab and navigates it to url. The returned session is
// bound to the tab; ctx only bounds the navigation itself.
func (b *ChromeBrowser) NewSession(ctx context.Context, url string) (Session, error) {
	tabCtx, tabCancel := chromedp.NewContext(b.allocCtx)

	navCtx, navCancel := mergeDeadline(tabCtx, ctx)
	defer navCancel()
	if err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		tabCancel()
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}
	return &chromeSession{ctx: tabCtx, cancel: tabCancel}, nil
}

// mergeDeadline applies the caller context's deadline (if any) to the tab
// context, so assertions time out without killing the tab's parent.
func mergeDeadline(tab, caller context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := caller.Deadline(); ok {
		return context.WithDeadline(tab, deadline)
	}
	return context.WithCancel(tab)
}

type chromeSession struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func (s *chromeSession) CountElements(ctx context.Context, selector string) (int, error) {
	runCtx, cancel := mergeDeadline(s.ctx, ctx)
	defer cancel()
	var count int
	js := fmt.Sprintf("document.querySelectorAll(%q).length", selector)
	if err := chromedp.Run(runCtx, chromedp.Evaluate(js, &count)); err != nil {
		return 0, fmt.Errorf("count %q: %w", selector, err)
	}
	return count, nil
}

func (s *chromeSession) Click(ctx context.Context, selector, expectSelector string) (bool, error) {
	runCtx, cancel := mergeDeadline(s.ctx, ctx)
	defer cancel()
	err := chromedp.Run(runCtx,
		chromedp.Click(selector, chromedp.ByQuery),
		chromedp.Sleep(500*time.Millisecond),
	)
	if err != nil {
		return false, fmt.Errorf("click %q: %w", selector, err)
	}
	if expectSelector == "" {
		return true, nil
	}
	var visible bool
	js := fmt.Sprintf(
		"Array.from(document.querySelectorAll(%q)).some(function(e){return e.offsetParent !== null})",
		expectSelector)
	if err := chromedp.Run(runCtx, chromedp.Evaluate(js, &visible)); err != nil {
		return false, fmt.Errorf("check %q after click: %w", expectSelector, err)
	}
	return visible, nil
}

func (s *chromeSession) Responsive(ctx context.Context, widths []int64) (int, error) {
	runCtx, cancel := mergeDeadline(s.ctx, ctx)
	defer cancel()
	passed := 0
	for _, width := range widths {
		var bodyWidth float64
		err := chromedp.Run(runCtx,
			chromedp.EmulateViewport(width, 800),
			chromedp.Sleep(500*time.Millisecond),
			chromedp.Evaluate("document.body.getBoundingClientRect().width", &bodyWidth),
		)
		if err != nil {
			return passed, fmt.Errorf("viewport %d: %w", width, err)
		}
		if bodyWidth > 0 {
			passed++
		}
	}
	return passed, nil
}

func (s *chromeSession) Text(ctx context.Context, selector string) (string, error) {
	runCtx, cancel := mergeDeadline(s.ctx, ctx)
	defer cancel()
	var text string
	js := fmt.Sprintf("(function(){var e = document.querySelector(%q); return e ? e.textContent : \"\"})()", selector)
	if err := chromedp.Run(runCtx, chromedp.Evaluate(js, &text)); err != nil {
		return "", fmt.Errorf("text %q: %w", selector, err)
	}
	return text, nil
}

func (s *chromeSession) Close() error {
	s.cancel()
	return nil
}
