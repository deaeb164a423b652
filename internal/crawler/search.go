// File: internal/crawler/search.go
package crawler

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/kaidos-lab/notesift/internal/browser"
)

// Search navigates to the result page for the query and primes it: confirms
// authentication, applies the requested filters best-effort, and fast-
// forwards to the start page. Retried with fixed backoff; login and captcha
// signals are never retried.
func (c *Crawler) Search(ctx context.Context, query SearchQuery) error {
	if err := query.Validate(); err != nil {
		return err
	}
	if err := c.listener.Subscribe(c.cfg.Crawler.ListenPattern); err != nil {
		return fmt.Errorf("failed to subscribe response capture: %w", err)
	}

	return withRetry(ctx, c.logger, "search", func(ctx context.Context) error {
		return c.searchOnce(ctx, query)
	})
}

func (c *Crawler) searchOnce(ctx context.Context, query SearchQuery) error {
	target := c.buildSearchURL(query)
	c.logger.Info("Starting search.",
		zap.String("keyword", query.Keyword),
		zap.Int("start_page", query.StartPage),
		zap.String("sort", string(query.Sort)),
		zap.Int("note_type", query.NoteType))

	if err := c.surface.Navigate(ctx, target); err != nil {
		return fmt.Errorf("failed to navigate to search page: %w", err)
	}

	if err := c.guard.EnsureAuthenticated(ctx); err != nil {
		return err
	}
	if c.state.Stopped() {
		return ErrStopped
	}
	if err := c.monitor.CheckCaptcha(ctx); err != nil {
		return err
	}

	c.human.JitteredSleep(ctx, 2*time.Second, 0.3)
	if err := c.guard.PersistCredentials(ctx); err != nil {
		c.logger.Warn("Failed to persist credentials after search navigation.", zap.Error(err))
	}

	c.applyFilters(ctx, query)

	// Fast-forward to the requested start page.
	start := query.StartPage
	if start < 1 {
		start = 1
	}
	c.paginator.Reset(1)
	for c.paginator.Page() < start {
		if c.state.Stopped() {
			return ErrStopped
		}
		if err := c.guard.EnsureAuthenticated(ctx); err != nil {
			return err
		}
		c.logger.Info("Fast-forwarding.",
			zap.Int("from", c.paginator.Page()), zap.Int("to", c.paginator.Page()+1))
		if err := c.paginator.Advance(ctx); err != nil {
			return err
		}
	}
	c.logger.Info("Reached start page.", zap.Int("page", c.paginator.Page()))
	return nil
}

// buildSearchURL encodes the query into the platform's search URL. Sort,
// time range, and note type ride as query parameters; scope and distance
// have no URL form and are applied through the UI only.
func (c *Crawler) buildSearchURL(query SearchQuery) string {
	params := url.Values{}
	params.Set("keyword", query.Keyword)
	params.Set("source", "web_search_result_notes")
	if query.Sort != "" && query.Sort != SortGeneral {
		params.Set("sort", string(query.Sort))
	}
	if query.TimeRange > 0 {
		params.Set("publishTimeType", fmt.Sprint(query.TimeRange))
	}
	if query.NoteType > 0 {
		params.Set("noteType", fmt.Sprint(query.NoteType))
	}
	return c.cfg.Crawler.BaseURL + "/search_result?" + params.Encode()
}

// applyFilters drives the on-page filter panel toward the requested query.
// Filter application is best-effort: labels are guessed against a moving UI,
// so misses are logged and the harvest proceeds — the client-side type
// filter still enforces the constraint that matters.
func (c *Crawler) applyFilters(ctx context.Context, query SearchQuery) {
	if c.state.Stopped() {
		return
	}
	if err := c.monitor.CheckCaptcha(ctx); err != nil {
		c.logger.Warn("Captcha during filter application.", zap.Error(err))
		return
	}

	if labels, ok := noteTypeTabLabels[query.NoteType]; ok {
		if c.clickFirstLabel(ctx, labels, false) {
			c.logger.Info("Applied note type filter.", zap.Strings("labels", labels))
		} else {
			c.logger.Warn("Note type tab not found.", zap.Strings("labels", labels))
		}
	}

	if labels, ok := timeRangeLabels[query.TimeRange]; ok && query.TimeRange > 0 {
		if c.clickFirstLabel(ctx, labels, true) {
			c.logger.Info("Applied time filter.", zap.Strings("labels", labels))
		} else {
			c.logger.Warn("Time filter options not found, proceeding without.",
				zap.Strings("labels", labels))
		}
	}

	if labels, ok := sortLabels[query.Sort]; ok && query.Sort != "" && query.Sort != SortGeneral {
		if c.clickFirstLabel(ctx, labels, true) {
			c.logger.Info("Applied sort filter.", zap.Strings("labels", labels))
		} else {
			c.logger.Warn("Sort filter not found.", zap.Strings("labels", labels))
		}
	}

	if labels, ok := searchScopeLabels[query.SearchScope]; ok && query.SearchScope > 0 {
		if c.clickFirstLabel(ctx, labels, true) {
			c.logger.Info("Applied search scope.", zap.Strings("labels", labels))
		}
	}

	if labels, ok := locationDistanceLabels[query.LocationDistance]; ok && query.LocationDistance > 0 {
		if c.clickFirstLabel(ctx, labels, true) {
			c.logger.Info("Applied location distance.", zap.Strings("labels", labels))
		}
	}
}

// clickFirstLabel tries each label as a directly visible control; when none
// hits and tryMenu is set, it opens the filter panel (hover first, click if
// hover does not reveal the options) and retries.
func (c *Crawler) clickFirstLabel(ctx context.Context, labels []string, tryMenu bool) bool {
	if c.clickVisibleText(ctx, labels, 500*time.Millisecond) {
		return true
	}
	if !tryMenu {
		return false
	}

	var menu *browser.Handle
	for _, probe := range filterMenuProbes {
		h, err := c.surface.QueryElement(ctx, probe, 300*time.Millisecond)
		if err == nil && h != nil {
			menu = h
			break
		}
	}
	if menu == nil {
		return false
	}

	if err := c.surface.Hover(ctx, menu); err == nil {
		c.human.JitteredSleep(ctx, time.Second, 0.3)
		if c.clickVisibleText(ctx, labels, time.Second) {
			return true
		}
	}
	if err := c.surface.Click(ctx, menu); err == nil {
		c.human.JitteredSleep(ctx, time.Second, 0.3)
		if c.clickVisibleText(ctx, labels, time.Second) {
			return true
		}
	}
	return false
}

func (c *Crawler) clickVisibleText(ctx context.Context, labels []string, timeout time.Duration) bool {
	for _, label := range labels {
		h, err := c.surface.QueryElement(ctx, browser.Text(label), timeout)
		if err != nil || h == nil {
			continue
		}
		if visible, err := c.surface.Visible(ctx, h); err != nil || !visible {
			continue
		}
		if err := c.surface.Click(ctx, h); err != nil {
			c.logger.Debug("Filter label click failed.", zap.String("label", label), zap.Error(err))
			continue
		}
		c.human.JitteredSleep(ctx, time.Second, 0.3)
		return true
	}
	return false
}
