// File: internal/browser/surface.go
package browser

import (
	"context"
	"fmt"
	"time"
)

// By selects the query strategy for a Selector.
type By int

const (
	// ByCSS matches a CSS selector.
	ByCSS By = iota
	// ByXPath matches an XPath expression.
	ByXPath
	// ByText matches any element whose normalized text contains the string.
	ByText
)

// Selector is one probe against the page DOM. Probe catalogs are data, not
// code: components hold ordered slices of Selectors and try them in sequence.
type Selector struct {
	By   By
	Expr string
}

// CSS builds a CSS selector probe.
func CSS(expr string) Selector { return Selector{By: ByCSS, Expr: expr} }

// XPath builds an XPath probe.
func XPath(expr string) Selector { return Selector{By: ByXPath, Expr: expr} }

// Text builds a text-containment probe.
func Text(s string) Selector { return Selector{By: ByText, Expr: s} }

// AsXPath lowers the selector to an XPath expression where one exists.
// CSS selectors do not lower; callers use the native CSS strategy for those.
func (s Selector) AsXPath() (string, bool) {
	switch s.By {
	case ByXPath:
		return s.Expr, true
	case ByText:
		return fmt.Sprintf(`//*[contains(normalize-space(.), %q)]`, s.Expr), true
	default:
		return "", false
	}
}

func (s Selector) String() string {
	switch s.By {
	case ByXPath:
		return "xpath:" + s.Expr
	case ByText:
		return "text:" + s.Expr
	default:
		return "css:" + s.Expr
	}
}

// Handle identifies an element located by a query. Implementations attach
// whatever bookkeeping they need to address the element again.
type Handle struct {
	// Path is an absolute XPath to the resolved node, usable for follow-up
	// scoped queries and interactions.
	Path string
	// Matched records the probe that located the element, for logging.
	Matched Selector
}

// RawPacket is one captured network response matching the subscribed URL
// pattern, with its body already fetched.
type RawPacket struct {
	URL        string
	Status     int64
	MimeType   string
	Body       []byte
	ReceivedAt time.Time
}

// Surface is the browser-control capability the orchestration core consumes.
// It deliberately mirrors what a human-driving automation handle offers:
// navigation, element probing, interaction, cookies, and asynchronous capture
// of network responses. The handle behind it is not safe for concurrent use;
// a single worker goroutine owns every call.
type Surface interface {
	// Navigate loads the URL and returns once navigation commits.
	Navigate(ctx context.Context, url string) error
	// CurrentURL reports the page's current location.
	CurrentURL(ctx context.Context) (string, error)
	// Title reports the current document title.
	Title(ctx context.Context) (string, error)
	// HTML returns the serialized page markup.
	HTML(ctx context.Context) (string, error)
	// Refresh reloads the current page.
	Refresh(ctx context.Context) error

	// QueryElement probes for one element, polling up to timeout.
	// A miss is (nil, nil); errors are reserved for transport faults.
	QueryElement(ctx context.Context, sel Selector, timeout time.Duration) (*Handle, error)
	// QueryAll returns every element currently matching the selector.
	QueryAll(ctx context.Context, sel Selector) ([]*Handle, error)
	// QueryWithin probes for one element below parent. The selector must
	// lower to a relative XPath.
	QueryWithin(ctx context.Context, parent *Handle, sel Selector, timeout time.Duration) (*Handle, error)
	// QueryAllWithin returns every matching element below parent.
	QueryAllWithin(ctx context.Context, parent *Handle, sel Selector) ([]*Handle, error)

	// Click dispatches a click on the element.
	Click(ctx context.Context, h *Handle) error
	// Hover dispatches mouseover/mouseenter events on the element.
	Hover(ctx context.Context, h *Handle) error
	// ElementText returns the element's visible text.
	ElementText(ctx context.Context, h *Handle) (string, error)
	// ElementAttr returns an attribute value and whether it was present.
	ElementAttr(ctx context.Context, h *Handle, name string) (string, bool, error)
	// Visible reports whether the element is rendered and displayed.
	Visible(ctx context.Context, h *Handle) (bool, error)

	// Scroll moves the viewport by deltaY pixels (negative scrolls up).
	Scroll(ctx context.Context, deltaY int) error
	// ScrollToBottom jumps to the bottom of the document.
	ScrollToBottom(ctx context.Context) error
	// RunScript evaluates JS in the page, decoding the result into out
	// when out is non-nil.
	RunScript(ctx context.Context, js string, out any) error

	// Cookies returns the session's cookies as a name to value mapping.
	Cookies(ctx context.Context) (map[string]string, error)
	// SetCookies injects the mapping into the session.
	SetCookies(ctx context.Context, cookies map[string]string) error

	// SubscribeResponses starts capturing network responses whose URL
	// contains the pattern. Only one subscription is active at a time.
	SubscribeResponses(pattern string) error
	// PollResponse waits up to timeout for the next captured packet.
	// A timeout is (nil, nil).
	PollResponse(ctx context.Context, timeout time.Duration) (*RawPacket, error)

	// Close tears down the browser session.
	Close(ctx context.Context) error
}
