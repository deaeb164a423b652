// File: internal/browser/chrome.go
package browser

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/kaidos-lab/notesift/internal/config"
)

// pendingResponse tracks one in-flight network response until its body can be
// fetched.
type pendingResponse struct {
	url      string
	status   int64
	mimeType string
}

// Chrome drives a Chromium instance over CDP and implements Surface.
type Chrome struct {
	cfg    *config.Config
	logger *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc

	// -- Response capture state --
	pattern     string
	pending     map[network.RequestID]*pendingResponse
	packets     chan *RawPacket
	pendingLock sync.Mutex
	bodyFetchWG sync.WaitGroup
	subscribed  bool

	closeOnce sync.Once
}

var _ Surface = (*Chrome)(nil)

// NewChrome launches (or attaches to) a browser and connects a fresh tab.
// A locked user-data dir is a common failure mode when a previous run left a
// zombie process behind, so a failed start with a configured profile is
// retried once on a temporary profile.
func NewChrome(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Chrome, error) {
	c := &Chrome{
		cfg:     cfg,
		logger:  logger.Named("chrome"),
		pending: make(map[network.RequestID]*pendingResponse),
		packets: make(chan *RawPacket, cfg.Browser.PacketQueueSize),
	}

	if err := c.start(ctx, cfg.Browser.UserDataDir); err != nil {
		if cfg.Browser.UserDataDir == "" {
			return nil, err
		}
		tmpProfile, tmpErr := os.MkdirTemp("", "notesift-profile-")
		if tmpErr != nil {
			return nil, fmt.Errorf("browser start failed and temp profile could not be created: %w", err)
		}
		c.logger.Warn("Browser start failed with configured profile, retrying with temp profile.",
			zap.String("profile", cfg.Browser.UserDataDir),
			zap.String("temp_profile", tmpProfile),
			zap.Error(err))
		if err := c.start(ctx, tmpProfile); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func (c *Chrome) start(ctx context.Context, userDataDir string) error {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", false),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("remote-debugging-port", fmt.Sprint(c.cfg.Browser.DebuggingPort)),
	)
	if c.cfg.Browser.Headless {
		// Chromium's legacy headless is increasingly detectable and unstable;
		// force the new implementation.
		opts = append(opts, chromedp.Flag("headless", "new"))
	}
	if runtime.GOOS == "linux" {
		opts = append(opts, chromedp.NoSandbox)
	}
	if c.cfg.Browser.Proxy != "" {
		opts = append(opts, chromedp.ProxyServer(c.cfg.Browser.Proxy))
	}
	if userDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(userDataDir))
	}
	for _, arg := range c.cfg.Browser.Args {
		opts = append(opts, chromedp.Flag(strings.TrimLeft(arg, "-"), true))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...any) {
		c.logger.Debug(fmt.Sprintf(format, args...))
	}))

	// Force target creation so a broken launch surfaces here, not later.
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		allocCancel()
		return fmt.Errorf("failed to connect browser target: %w", err)
	}

	c.allocCtx, c.allocCancel = allocCtx, allocCancel
	c.ctx, c.cancel = browserCtx, cancel
	return nil
}

// -- Navigation --

func (c *Chrome) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := c.boundedCtx(ctx, c.cfg.Browser.NavigationTimeout)
	defer cancel()
	return chromedp.Run(navCtx, chromedp.Navigate(url))
}

func (c *Chrome) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	err := c.run(ctx, chromedp.Location(&loc))
	return loc, err
}

func (c *Chrome) Title(ctx context.Context) (string, error) {
	var title string
	err := c.run(ctx, chromedp.Title(&title))
	return title, err
}

func (c *Chrome) HTML(ctx context.Context) (string, error) {
	var html string
	err := c.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (c *Chrome) Refresh(ctx context.Context) error {
	navCtx, cancel := c.boundedCtx(ctx, c.cfg.Browser.NavigationTimeout)
	defer cancel()
	return chromedp.Run(navCtx, chromedp.Reload())
}

// -- Element queries --

const queryPollInterval = 100 * time.Millisecond

func (c *Chrome) QueryElement(ctx context.Context, sel Selector, timeout time.Duration) (*Handle, error) {
	deadline := time.Now().Add(timeout)
	for {
		nodes, err := c.queryNodes(ctx, sel, "")
		if err != nil {
			return nil, err
		}
		if len(nodes) > 0 {
			return &Handle{Path: nodes[0].FullXPath(), Matched: sel}, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(queryPollInterval):
		}
	}
}

func (c *Chrome) QueryAll(ctx context.Context, sel Selector) ([]*Handle, error) {
	nodes, err := c.queryNodes(ctx, sel, "")
	if err != nil {
		return nil, err
	}
	handles := make([]*Handle, 0, len(nodes))
	for _, n := range nodes {
		handles = append(handles, &Handle{Path: n.FullXPath(), Matched: sel})
	}
	return handles, nil
}

func (c *Chrome) QueryWithin(ctx context.Context, parent *Handle, sel Selector, timeout time.Duration) (*Handle, error) {
	scoped, err := scopedSelector(parent, sel)
	if err != nil {
		return nil, err
	}
	return c.QueryElement(ctx, scoped, timeout)
}

func (c *Chrome) QueryAllWithin(ctx context.Context, parent *Handle, sel Selector) ([]*Handle, error) {
	scoped, err := scopedSelector(parent, sel)
	if err != nil {
		return nil, err
	}
	return c.QueryAll(ctx, scoped)
}

// scopedSelector anchors a relative probe below a parent handle. Scoped
// probes must lower to XPath; catalogs that need scoping are written as
// relative XPath expressions.
func scopedSelector(parent *Handle, sel Selector) (Selector, error) {
	xp, ok := sel.AsXPath()
	if !ok {
		return Selector{}, fmt.Errorf("selector %s cannot be scoped below a parent (needs xpath form)", sel)
	}
	if strings.HasPrefix(xp, ".") {
		xp = strings.TrimPrefix(xp, ".")
	}
	return XPath(parent.Path + xp), nil
}

// queryNodes resolves the selector to DOM nodes without waiting.
func (c *Chrome) queryNodes(ctx context.Context, sel Selector, _ string) ([]*cdp.Node, error) {
	var nodes []*cdp.Node
	var action chromedp.Action
	if xp, ok := sel.AsXPath(); ok {
		action = chromedp.Nodes(xp, &nodes, chromedp.BySearch, chromedp.AtLeast(0))
	} else {
		action = chromedp.Nodes(sel.Expr, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))
	}
	if err := c.run(ctx, action); err != nil {
		return nil, err
	}
	return nodes, nil
}

// -- Interaction --

func (c *Chrome) Click(ctx context.Context, h *Handle) error {
	return c.run(ctx, chromedp.Click(h.Path, chromedp.BySearch))
}

func (c *Chrome) Hover(ctx context.Context, h *Handle) error {
	js := fmt.Sprintf(`(function() {
        const el = document.evaluate(%q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
        if (!el) { return false; }
        el.dispatchEvent(new Event("mouseover", {bubbles: true}));
        el.dispatchEvent(new Event("mouseenter", {bubbles: true}));
        return true;
    })()`, h.Path)
	var ok bool
	if err := c.RunScript(ctx, js, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("hover target vanished: %s", h.Path)
	}
	return nil
}

func (c *Chrome) ElementText(ctx context.Context, h *Handle) (string, error) {
	var text string
	err := c.run(ctx, chromedp.Text(h.Path, &text, chromedp.BySearch))
	return text, err
}

func (c *Chrome) ElementAttr(ctx context.Context, h *Handle, name string) (string, bool, error) {
	var value string
	var ok bool
	err := c.run(ctx, chromedp.AttributeValue(h.Path, name, &value, &ok, chromedp.BySearch))
	return value, ok, err
}

func (c *Chrome) Visible(ctx context.Context, h *Handle) (bool, error) {
	js := fmt.Sprintf(`(function() {
        const el = document.evaluate(%q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
        if (!el) { return false; }
        const rect = el.getBoundingClientRect();
        const style = getComputedStyle(el);
        return rect.width > 0 && rect.height > 0 &&
            style.visibility !== "hidden" && style.display !== "none";
    })()`, h.Path)
	var visible bool
	err := c.RunScript(ctx, js, &visible)
	return visible, err
}

func (c *Chrome) Scroll(ctx context.Context, deltaY int) error {
	return c.RunScript(ctx, fmt.Sprintf("window.scrollBy(0, %d)", deltaY), nil)
}

func (c *Chrome) ScrollToBottom(ctx context.Context) error {
	return c.RunScript(ctx, "window.scrollTo(0, document.documentElement.scrollHeight || document.body.scrollHeight)", nil)
}

func (c *Chrome) RunScript(ctx context.Context, js string, out any) error {
	if out == nil {
		// Evaluate still needs a destination when the expression returns a
		// value we do not care about.
		var discard any
		return c.run(ctx, chromedp.Evaluate(js, &discard))
	}
	return c.run(ctx, chromedp.Evaluate(js, out))
}

// -- Cookies --

func (c *Chrome) Cookies(ctx context.Context) (map[string]string, error) {
	cookies := make(map[string]string)
	err := c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		all, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, ck := range all {
			cookies[ck.Name] = ck.Value
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return cookies, nil
}

func (c *Chrome) SetCookies(ctx context.Context, cookies map[string]string) error {
	domain := c.cfg.Crawler.CookieDomain
	return c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for name, value := range cookies {
			err := network.SetCookie(name, value).
				WithDomain(domain).
				WithPath("/").
				Do(ctx)
			if err != nil {
				return fmt.Errorf("failed to set cookie %q: %w", name, err)
			}
		}
		return nil
	}))
}

// -- Response capture --

// SubscribeResponses wires the CDP network event stream into the packet
// queue. Bodies are fetched asynchronously once loading finishes, the same
// two-phase dance every CDP client has to do: headers arrive on
// EventResponseReceived, the body only exists after EventLoadingFinished.
func (c *Chrome) SubscribeResponses(pattern string) error {
	c.pendingLock.Lock()
	defer c.pendingLock.Unlock()
	if c.subscribed {
		c.pattern = pattern
		return nil
	}
	c.pattern = pattern
	c.subscribed = true

	chromedp.ListenTarget(c.ctx, func(ev any) {
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			c.handleResponseReceived(e)
		case *network.EventLoadingFinished:
			c.handleLoadingFinished(e)
		case *network.EventLoadingFailed:
			c.handleLoadingFailed(e)
		}
	})

	if err := chromedp.Run(c.ctx, network.Enable()); err != nil {
		return fmt.Errorf("failed to enable network domain: %w", err)
	}
	c.logger.Debug("Response subscription active.", zap.String("pattern", pattern))
	return nil
}

func (c *Chrome) handleResponseReceived(e *network.EventResponseReceived) {
	if e.Response == nil {
		return
	}
	c.pendingLock.Lock()
	defer c.pendingLock.Unlock()
	if !strings.Contains(e.Response.URL, c.pattern) {
		return
	}
	c.pending[e.RequestID] = &pendingResponse{
		url:      e.Response.URL,
		status:   e.Response.Status,
		mimeType: e.Response.MimeType,
	}
}

func (c *Chrome) handleLoadingFinished(e *network.EventLoadingFinished) {
	c.pendingLock.Lock()
	pr, ok := c.pending[e.RequestID]
	if ok {
		delete(c.pending, e.RequestID)
	}
	c.pendingLock.Unlock()
	if !ok {
		return
	}
	c.bodyFetchWG.Add(1)
	go c.fetchBody(e.RequestID, pr)
}

func (c *Chrome) handleLoadingFailed(e *network.EventLoadingFailed) {
	c.pendingLock.Lock()
	delete(c.pending, e.RequestID)
	c.pendingLock.Unlock()
}

func (c *Chrome) fetchBody(requestID network.RequestID, pr *pendingResponse) {
	defer c.bodyFetchWG.Done()
	if c.ctx.Err() != nil {
		return
	}

	fetchCtx, cancel := context.WithTimeout(c.ctx, 15*time.Second)
	defer cancel()

	var body []byte
	err := chromedp.Run(fetchCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		body, err = network.GetResponseBody(requestID).Do(ctx)
		return err
	}))
	if err != nil {
		if fetchCtx.Err() == nil {
			c.logger.Debug("Failed to fetch response body.", zap.String("url", pr.url), zap.Error(err))
		}
		return
	}

	pkt := &RawPacket{
		URL:        pr.url,
		Status:     pr.status,
		MimeType:   pr.mimeType,
		Body:       body,
		ReceivedAt: time.Now(),
	}
	select {
	case c.packets <- pkt:
	default:
		// The consumer is behind; dropping the oldest keeps capture live
		// without unbounded memory growth.
		select {
		case <-c.packets:
		default:
		}
		select {
		case c.packets <- pkt:
		default:
		}
		c.logger.Warn("Packet queue full, dropped oldest captured response.")
	}
}

func (c *Chrome) PollResponse(ctx context.Context, timeout time.Duration) (*RawPacket, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case pkt := <-c.packets:
		return pkt, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, c.ctx.Err()
	}
}

// -- Lifecycle --

func (c *Chrome) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.logger.Debug("Closing browser.")
		err = chromedp.Cancel(c.ctx)
		c.cancel()
		c.allocCancel()

		// Bounded wait for stragglers fetching bodies.
		done := make(chan struct{})
		go func() {
			c.bodyFetchWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			c.logger.Warn("Timed out waiting for pending body fetches during close.")
		}
	})
	return err
}

// run executes actions against the session, honoring both the session
// lifetime and the caller's context.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := combineContext(c.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (c *Chrome) boundedCtx(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := combineContext(c.ctx, ctx)
	if timeout <= 0 {
		return runCtx, cancel
	}
	boundCtx, boundCancel := context.WithTimeout(runCtx, timeout)
	return boundCtx, func() {
		boundCancel()
		cancel()
	}
}

// combineContext derives a context from primary that is also canceled when
// secondary ends. chromedp actions must run on the session context chain, but
// callers still need their own cancellation respected.
func combineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(primary)
	stop := context.AfterFunc(secondary, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
