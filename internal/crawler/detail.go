// File: internal/crawler/detail.go
package crawler

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kaidos-lab/notesift/internal/browser"
)

// ReplyExpansionPolicy decides whether to expand a comment's nested replies,
// given the comment text and the declared reply count (0 when unknown). The
// default is a heuristic, not a correctness target; callers with better
// signals should plug their own.
type ReplyExpansionPolicy func(content string, replyCount int) bool

// expandKeywords mark comments worth expanding regardless of reply count:
// questions and negative reviews carry the interesting threads.
var expandKeywords = []string{"?", "？", "求", "请问", "差评", "避雷", "踩雷"}

func defaultReplyExpansionPolicy(rng *rand.Rand) ReplyExpansionPolicy {
	return func(content string, replyCount int) bool {
		lower := strings.ToLower(content)
		for _, k := range expandKeywords {
			if strings.Contains(lower, k) {
				return true
			}
		}
		var prob float64
		switch {
		case replyCount > 20:
			prob = 1.0
		case replyCount > 5:
			prob = 0.9
		case replyCount > 2:
			prob = 0.5
		default:
			return false
		}
		return rng.Float64() < prob
	}
}

var digitsRe = regexp.MustCompile(`(\d+)`)

func firstInt(s string) (int, bool) {
	m := digitsRe.FindString(s)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	return n, err == nil
}

// FetchDetail scrapes one note detail page: title, description, content
// images, comments with optional nested replies, publish date, author, and
// interaction counts. accessToken, when known from search results, makes the
// navigation look authentic and avoids soft blocks. Transient failures are
// retried; login, captcha, restriction, and unavailable signals surface
// as-is.
func (c *Crawler) FetchDetail(ctx context.Context, noteID, accessToken string) (*DetailRecord, error) {
	if noteID == "" {
		return nil, fmt.Errorf("note id is required")
	}
	var record *DetailRecord
	err := withRetry(ctx, c.logger, "fetch_detail", func(ctx context.Context) error {
		var err error
		record, err = c.fetchDetailOnce(ctx, noteID, accessToken)
		return err
	})
	return record, err
}

func (c *Crawler) fetchDetailOnce(ctx context.Context, noteID, accessToken string) (*DetailRecord, error) {
	target := c.cfg.Crawler.BaseURL + "/explore/" + noteID
	if accessToken != "" {
		target += "?xsec_token=" + accessToken + "&xsec_source=pc_search"
	}
	c.logger.Info("Fetching note detail.", zap.String("note_id", noteID))

	if err := c.surface.Navigate(ctx, target); err != nil {
		return nil, fmt.Errorf("failed to navigate to note: %w", err)
	}
	if err := c.guard.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}
	c.human.JitteredSleep(ctx, time.Second, 0.3)

	if restriction := c.monitor.CheckSecurityRestriction(ctx); restriction != nil {
		c.logger.Warn("Security restriction on note detail.",
			zap.String("note_id", noteID), zap.String("message", restriction.Message))
		return nil, restriction
	}

	if err := c.checkLoginWallRedirect(ctx, noteID, target); err != nil {
		return nil, err
	}

	html, err := c.surface.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read page markup: %w", err)
	}
	if strings.Contains(html, unavailableMarker) {
		c.logger.Warn("Note temporarily unavailable.", zap.String("note_id", noteID))
		return nil, fmt.Errorf("note %s: %w", noteID, ErrUnavailable)
	}

	record := &DetailRecord{
		NoteID:   noteID,
		Images:   []string{},
		Comments: []Comment{},
		ShareURL: c.cfg.Crawler.BaseURL + "/explore/" + noteID,
	}

	// The note container anchors all scoped probes so sidebar recommendations
	// never bleed into the extraction.
	container := c.findFirstHandle(ctx, noteContainerProbes, time.Second)
	if container == nil {
		return record, nil
	}

	record.Title = c.extractTitle(ctx, container)
	record.Description = c.scopedText(ctx, container, detailDescProbes)
	record.Images = c.extractImages(ctx, container)
	record.Comments = c.extractComments(ctx, container)
	record.PublishedAt = c.extractPublishDate(ctx, container)
	record.Author, record.AuthorID = c.extractAuthor(ctx, container)
	record.Likes, record.Collects = c.extractInteractions(ctx, container)

	c.logger.Info("Note detail scraped.",
		zap.String("note_id", noteID),
		zap.Int("images", len(record.Images)),
		zap.Int("comments", len(record.Comments)))
	return record, nil
}

// checkLoginWallRedirect detects the soft block where the platform bounces a
// note URL to the generic explore feed. One credential reload plus direct
// re-navigation recovers a stale session; refreshing the feed never would.
func (c *Crawler) checkLoginWallRedirect(ctx context.Context, noteID, target string) error {
	current, err := c.surface.CurrentURL(ctx)
	if err != nil {
		return err
	}
	if !redirectedAway(current, noteID) {
		return nil
	}

	c.logger.Warn("Redirected to explore feed, likely login wall.",
		zap.String("note_id", noteID), zap.String("url", current))

	if bundle, err := c.store.Load(); err == nil && len(bundle) > 0 {
		if err := c.surface.SetCookies(ctx, map[string]string(bundle)); err != nil {
			c.logger.Warn("Credential re-injection failed.", zap.Error(err))
		}
	}
	if err := c.surface.Navigate(ctx, target); err != nil {
		return fmt.Errorf("re-navigation after credential reload failed: %w", err)
	}
	c.human.JitteredSleep(ctx, 3*time.Second, 0.3)

	current, err = c.surface.CurrentURL(ctx)
	if err != nil {
		return err
	}
	if redirectedAway(current, noteID) {
		c.logger.Error("Login wall persists after credential reload.")
		return ErrLoginRequired
	}
	return nil
}

func redirectedAway(current, noteID string) bool {
	trimmed := strings.TrimRight(current, "/")
	return strings.Contains(trimmed, "explore") && !strings.Contains(trimmed, noteID)
}

func (c *Crawler) findFirstHandle(ctx context.Context, probes []browser.Selector, timeout time.Duration) *browser.Handle {
	for _, probe := range probes {
		h, err := c.surface.QueryElement(ctx, probe, timeout)
		if err != nil {
			c.logger.Debug("Probe failed.", zap.String("probe", probe.String()), zap.Error(err))
			continue
		}
		if h != nil {
			return h
		}
	}
	return nil
}

func (c *Crawler) scopedFirst(ctx context.Context, parent *browser.Handle, probes []browser.Selector, timeout time.Duration) *browser.Handle {
	for _, probe := range probes {
		h, err := c.surface.QueryWithin(ctx, parent, probe, timeout)
		if err != nil {
			continue
		}
		if h != nil {
			return h
		}
	}
	return nil
}

func (c *Crawler) scopedText(ctx context.Context, parent *browser.Handle, probes []browser.Selector) string {
	h := c.scopedFirst(ctx, parent, probes, 500*time.Millisecond)
	if h == nil {
		return ""
	}
	text, err := c.surface.ElementText(ctx, h)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

func (c *Crawler) extractTitle(ctx context.Context, container *browser.Handle) string {
	if title := c.scopedText(ctx, container, detailTitleProbes); title != "" {
		return title
	}

	// Fallback 1: og:title meta.
	var meta string
	js := `(function() {
        const m = document.querySelector('meta[property="og:title"], meta[name="og:title"]');
        return m ? (m.getAttribute("content") || "") : "";
    })()`
	if err := c.surface.RunScript(ctx, js, &meta); err == nil && strings.TrimSpace(meta) != "" {
		return strings.TrimSpace(meta)
	}

	// Fallback 2: document title minus the platform suffix.
	if title, err := c.surface.Title(ctx); err == nil {
		return strings.TrimSpace(strings.ReplaceAll(title, " - 小红书", ""))
	}
	return ""
}

// cdnMarkers identify content-image hosts; avatar and logo assets are
// excluded even when they come from the same CDN.
var cdnMarkers = []string{"xhscdn.com", "sns-img", "sns-web-img"}

var bgImageRe = regexp.MustCompile(`url\("?(.+?)"?\)`)

func (c *Crawler) extractImages(ctx context.Context, container *browser.Handle) []string {
	media := c.scopedFirst(ctx, container, mediaContainerProbes, 500*time.Millisecond)
	if media == nil {
		media = container
	}

	var urls []string
	imgs, err := c.surface.QueryAllWithin(ctx, media, browser.XPath(`.//img`))
	if err != nil {
		c.logger.Debug("Image query failed.", zap.Error(err))
	}
	for _, img := range imgs {
		src := c.firstAttr(ctx, img, "src", "data-src", "data-original")
		if src == "" || !isContentImage(src) {
			continue
		}
		class, _, _ := c.surface.ElementAttr(ctx, img, "class")
		if strings.Contains(class, "logo") {
			continue
		}
		urls = append(urls, src)
	}

	// Fallback: slider backgrounds when the gallery renders without <img>.
	if len(urls) == 0 {
		slides, err := c.surface.QueryAllWithin(ctx, container,
			browser.XPath(`.//*[contains(@class, "swiper-slide")]`))
		if err == nil {
			for _, slide := range slides {
				style, ok, _ := c.surface.ElementAttr(ctx, slide, "style")
				if !ok {
					continue
				}
				if m := bgImageRe.FindStringSubmatch(style); m != nil {
					urls = append(urls, m[1])
				}
			}
		}
	}

	return dedupeOrdered(urls)
}

func isContentImage(src string) bool {
	hit := false
	for _, marker := range cdnMarkers {
		if strings.Contains(src, marker) {
			hit = true
			break
		}
	}
	return hit && !strings.Contains(src, "avatar") && !strings.Contains(src, "/head/")
}

func dedupeOrdered(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func (c *Crawler) firstAttr(ctx context.Context, h *browser.Handle, names ...string) string {
	for _, name := range names {
		if val, ok, err := c.surface.ElementAttr(ctx, h, name); err == nil && ok && val != "" {
			return val
		}
	}
	return ""
}

func (c *Crawler) extractComments(ctx context.Context, container *browser.Handle) []Comment {
	c.scrollCommentsIntoView(ctx, container)

	items, err := c.surface.QueryAllWithin(ctx, container, commentItemProbe)
	if err != nil {
		c.logger.Debug("Comment query failed.", zap.Error(err))
		return nil
	}

	comments := make([]Comment, 0, len(items))
	for _, item := range items {
		content := c.scopedText(ctx, item, commentContentProbes)
		if content == "" {
			continue
		}

		comment := Comment{
			Content:  content,
			User:     "Unknown",
			Date:     c.scopedText(ctx, item, commentDateProbes),
			Location: c.scopedText(ctx, item, []browser.Selector{commentLocationProbe}),
			Likes:    c.scopedText(ctx, item, commentLikeProbes),
		}
		if comment.Likes == "" {
			comment.Likes = "0"
		}

		if id := c.firstAttr(ctx, item, "data-id", "data-comment-id", "id"); id != "" {
			comment.ID = strings.TrimPrefix(id, "comment-")
		}

		if userEle := c.scopedFirst(ctx, item, commentUserProbes, 300*time.Millisecond); userEle != nil {
			if name, err := c.surface.ElementText(ctx, userEle); err == nil && strings.TrimSpace(name) != "" {
				comment.User = strings.TrimSpace(name)
			}
			if link := c.scopedFirst(ctx, userEle, []browser.Selector{browser.XPath(`.//a`)}, 200*time.Millisecond); link != nil {
				if href := c.firstAttr(ctx, link, "href"); href != "" {
					parts := strings.Split(strings.TrimRight(href, "/"), "/")
					comment.UserID = parts[len(parts)-1]
				}
			}
		}

		comment.Replies = c.expandReplies(ctx, item, content)
		comments = append(comments, comment)
	}
	return comments
}

// scrollCommentsIntoView scrolls the page enough times to trigger lazy
// comment loading. The count scales with the declared comment total, one
// scroll per dozen comments or so, capped by configuration.
func (c *Crawler) scrollCommentsIntoView(ctx context.Context, container *browser.Handle) {
	scrolls := 2
	if countText := c.scopedText(ctx, container, commentCountProbes); countText != "" {
		if total, ok := firstInt(countText); ok && total > 0 {
			needed := total/12 + 1
			limit := c.cfg.Crawler.MaxCommentScrolls
			if limit <= 0 {
				limit = 20
			}
			if needed > limit {
				needed = limit
			}
			if needed > scrolls {
				scrolls = needed
			}
			c.logger.Debug("Dynamic comment scrolling.",
				zap.Int("total_comments", total), zap.Int("scrolls", scrolls))
		}
	}

	for i := 0; i < scrolls; i++ {
		if c.state.Stopped() || ctx.Err() != nil {
			return
		}
		amount := c.human.ScrollPixels(600, 1200, 0.3)
		// Occasionally scroll back up a little, the way a reader does.
		if c.human.rng.Float64() < 0.15 {
			amount = -amount / 3
		}
		if err := c.surface.Scroll(ctx, amount); err != nil {
			c.logger.Debug("Comment scroll failed.", zap.Error(err))
			return
		}
		c.human.JitteredSleep(ctx, 400*time.Millisecond, 0.3)
	}
}

// expandReplies optionally expands and collects a comment's nested replies.
// Replies may render inside the comment node or in a sibling container.
func (c *Crawler) expandReplies(ctx context.Context, item *browser.Handle, content string) []Reply {
	scope := item
	sibling, err := c.surface.QueryElement(ctx,
		browser.XPath(item.Path+`/following-sibling::*[contains(@class, "reply-container")][1]`),
		200*time.Millisecond)
	if err == nil && sibling != nil {
		scope = sibling
	}

	btn := c.scopedFirst(ctx, scope, replyExpandProbes, 500*time.Millisecond)
	if btn == nil {
		return nil
	}

	replyCount := 0
	if text, err := c.surface.ElementText(ctx, btn); err == nil {
		if n, ok := firstInt(text); ok {
			replyCount = n
		} else {
			// A countless expand control ("展开回复") is assumed relevant.
			replyCount = 1
		}
	}
	if !c.replyPolicy(content, replyCount) {
		return nil
	}

	if err := c.surface.Click(ctx, btn); err != nil {
		c.logger.Debug("Reply expand click failed.", zap.Error(err))
		return nil
	}
	c.human.JitteredSleep(ctx, 2*time.Second, 0.3)

	var replyHandles []*browser.Handle
	for _, probe := range replyItemProbes {
		replyHandles, err = c.surface.QueryAllWithin(ctx, scope, probe)
		if err == nil && len(replyHandles) > 0 {
			break
		}
	}
	if len(replyHandles) == 0 {
		c.logger.Debug("Expanded but no replies found.")
		return nil
	}

	replies := make([]Reply, 0, len(replyHandles))
	for _, rh := range replyHandles {
		rContent := c.scopedText(ctx, rh, commentContentProbes)
		if rContent == "" {
			continue
		}
		reply := Reply{
			Content:  rContent,
			User:     "Unknown",
			Date:     c.scopedText(ctx, rh, commentDateProbes),
			Likes:    c.scopedText(ctx, rh, commentLikeProbes),
			Location: c.scopedText(ctx, rh, []browser.Selector{commentLocationProbe}),
		}
		if reply.Likes == "" {
			reply.Likes = "0"
		}
		if user := c.scopedText(ctx, rh, commentUserProbes); user != "" {
			reply.User = user
		}
		replies = append(replies, reply)
	}
	return replies
}

func (c *Crawler) extractPublishDate(ctx context.Context, container *browser.Handle) string {
	text := c.scopedText(ctx, container, publishDateProbes)
	text = strings.ReplaceAll(text, "发布于", "")
	text = strings.ReplaceAll(text, "编辑于", "")
	return strings.TrimSpace(text)
}

func (c *Crawler) extractAuthor(ctx context.Context, container *browser.Handle) (name, id string) {
	name = c.scopedText(ctx, container, authorNameProbes)

	if link := c.scopedFirst(ctx, container, authorLinkProbes, 500*time.Millisecond); link != nil {
		if href := c.firstAttr(ctx, link, "href"); strings.Contains(href, "/user/profile/") {
			id = strings.SplitN(strings.SplitN(href, "/user/profile/", 2)[1], "?", 2)[0]
			id = strings.TrimRight(id, "/")
		}
	}
	return name, id
}

func (c *Crawler) extractInteractions(ctx context.Context, container *browser.Handle) (likes, collects string) {
	interact := c.scopedFirst(ctx, container, interactContainerProbes, 500*time.Millisecond)
	if interact != nil {
		items, err := c.surface.QueryAllWithin(ctx, interact, interactItemProbe)
		if err == nil {
			// Layout convention: like first, collect second.
			if len(items) > 0 {
				likes = c.interactCount(ctx, items[0])
			}
			if len(items) > 1 {
				collects = c.interactCount(ctx, items[1])
			}
		}
	}
	if likes == "" {
		likes = c.scopedText(ctx, container, []browser.Selector{likeFallbackProbe})
	}
	return likes, collects
}

func (c *Crawler) interactCount(ctx context.Context, item *browser.Handle) string {
	if count := c.scopedText(ctx, item, interactCountProbes); count != "" {
		return count
	}
	text, err := c.surface.ElementText(ctx, item)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}
