// File: internal/crawler/mocks_test.go
package crawler

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/kaidos-lab/notesift/internal/browser"
	"github.com/kaidos-lab/notesift/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeSurface is a scriptable in-memory browser surface. Tests toggle its
// fields between calls; all access is mutex-guarded because PollResponse may
// be raced against Stop from another goroutine.
type fakeSurface struct {
	mu sync.Mutex

	// present marks selector strings (Selector.String()) that resolve.
	present map[string]bool
	// hidden marks present selectors that are not visible.
	hidden map[string]bool
	// texts maps handle paths to element text.
	texts map[string]string
	// attrs maps handle paths to attribute maps.
	attrs map[string]map[string]string

	url     string
	title   string
	html    string
	cookies map[string]string
	// redirects remaps a navigation target to the URL the page lands on.
	redirects map[string]string

	// scrollHeights is consumed one value per scroll-height script eval.
	scrollHeights []int

	packets chan *browser.RawPacket

	navigations []string
	clicks      []string
	scrolls     []int
	refreshes   int
	subscribed  string
	closed      bool
}

var _ browser.Surface = (*fakeSurface)(nil)

func newFakeSurface() *fakeSurface {
	return &fakeSurface{
		present: make(map[string]bool),
		hidden:  make(map[string]bool),
		texts:   make(map[string]string),
		attrs:   make(map[string]map[string]string),
		cookies: make(map[string]string),
		packets: make(chan *browser.RawPacket, 16),
		url:     "https://www.xiaohongshu.com/search_result?keyword=x",
	}
}

func (f *fakeSurface) setPresent(sels ...browser.Selector) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range sels {
		f.present[s.String()] = true
	}
}

func (f *fakeSurface) setAbsent(sels ...browser.Selector) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range sels {
		delete(f.present, s.String())
	}
}

func (f *fakeSurface) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigations = append(f.navigations, url)
	if landed, ok := f.redirects[url]; ok {
		f.url = landed
	} else {
		f.url = url
	}
	return nil
}

func (f *fakeSurface) CurrentURL(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url, nil
}

func (f *fakeSurface) Title(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.title, nil
}

func (f *fakeSurface) HTML(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.html, nil
}

func (f *fakeSurface) Refresh(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return nil
}

func (f *fakeSurface) QueryElement(_ context.Context, sel browser.Selector, _ time.Duration) (*browser.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.present[sel.String()] {
		return &browser.Handle{Path: sel.String(), Matched: sel}, nil
	}
	return nil, nil
}

func (f *fakeSurface) QueryAll(_ context.Context, sel browser.Selector) ([]*browser.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.present[sel.String()] {
		return []*browser.Handle{{Path: sel.String(), Matched: sel}}, nil
	}
	return nil, nil
}

func (f *fakeSurface) QueryWithin(_ context.Context, parent *browser.Handle, sel browser.Selector, _ time.Duration) (*browser.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := parent.Path + "|" + sel.String()
	if f.present[key] {
		return &browser.Handle{Path: key, Matched: sel}, nil
	}
	return nil, nil
}

func (f *fakeSurface) QueryAllWithin(_ context.Context, parent *browser.Handle, sel browser.Selector) ([]*browser.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := parent.Path + "|" + sel.String()
	if f.present[key] {
		return []*browser.Handle{{Path: key, Matched: sel}}, nil
	}
	return nil, nil
}

func (f *fakeSurface) Click(_ context.Context, h *browser.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clicks = append(f.clicks, h.Path)
	return nil
}

func (f *fakeSurface) Hover(context.Context, *browser.Handle) error { return nil }

func (f *fakeSurface) ElementText(_ context.Context, h *browser.Handle) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.texts[h.Path], nil
}

func (f *fakeSurface) ElementAttr(_ context.Context, h *browser.Handle, name string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	attrs, ok := f.attrs[h.Path]
	if !ok {
		return "", false, nil
	}
	val, ok := attrs[name]
	return val, ok, nil
}

func (f *fakeSurface) Visible(_ context.Context, h *browser.Handle) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.hidden[h.Path], nil
}

func (f *fakeSurface) Scroll(_ context.Context, deltaY int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scrolls = append(f.scrolls, deltaY)
	return nil
}

func (f *fakeSurface) ScrollToBottom(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scrolls = append(f.scrolls, 1<<20)
	return nil
}

func (f *fakeSurface) RunScript(_ context.Context, js string, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.Contains(js, "scrollHeight") {
		if p, ok := out.(*int); ok && len(f.scrollHeights) > 0 {
			*p = f.scrollHeights[0]
			f.scrollHeights = f.scrollHeights[1:]
		}
		return nil
	}
	if p, ok := out.(*string); ok {
		*p = ""
	}
	return nil
}

func (f *fakeSurface) Cookies(context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.cookies))
	for k, v := range f.cookies {
		out[k] = v
	}
	return out, nil
}

func (f *fakeSurface) SetCookies(_ context.Context, cookies map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, v := range cookies {
		f.cookies[k] = v
	}
	return nil
}

func (f *fakeSurface) SubscribeResponses(pattern string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = pattern
	return nil
}

func (f *fakeSurface) PollResponse(ctx context.Context, timeout time.Duration) (*browser.RawPacket, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case pkt := <-f.packets:
		return pkt, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeSurface) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSurface) queuePacket(url string, body string) {
	f.packets <- &browser.RawPacket{
		URL:        url,
		Status:     200,
		MimeType:   "application/json",
		Body:       []byte(body),
		ReceivedAt: time.Now(),
	}
}

// testConfig returns a config tuned for fast tests: waits disabled, short
// drain window, tiny pace factor so poll intervals stay in the millisecond
// range.
func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Crawler.DisableWaits = true
	cfg.Crawler.PaceFactor = 0.01
	cfg.Crawler.DrainTimeout = 300 * time.Millisecond
	cfg.Crawler.MinPageInterval = time.Millisecond
	cfg.Crawler.CaptchaGrace = time.Millisecond
	cfg.Crawler.LoginWait = 0
	return cfg
}

func testLogger() *zap.Logger { return zap.NewNop() }
