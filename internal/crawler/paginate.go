// File: internal/crawler/paginate.go
package crawler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kaidos-lab/notesift/internal/browser"
)

const (
	endMarkerProbeTimeout = 500 * time.Millisecond
	nextButtonTimeout     = 800 * time.Millisecond

	// scrollHeightTolerance: an infinite-scroll page whose extent grows by
	// less than this after a scroll is treated as exhausted.
	scrollHeightTolerance = 120
)

// Paginator drives "advance to next result page": explicit next-page control
// when present, infinite-scroll fallback otherwise, and end-of-results
// detection in both modes. The page mode is recomputed on every call, never
// persisted.
type Paginator struct {
	surface browser.Surface
	monitor *Monitor
	human   *Humanizer
	logger  *zap.Logger

	cursor PageCursor
}

// NewPaginator builds a pagination controller.
func NewPaginator(surface browser.Surface, monitor *Monitor, human *Humanizer, logger *zap.Logger) *Paginator {
	return &Paginator{
		surface: surface,
		monitor: monitor,
		human:   human,
		logger:  logger.Named("paginate"),
	}
}

// Reset positions the cursor at the start of a harvest run.
func (p *Paginator) Reset(startPage int) { p.cursor.reset(startPage) }

// Page returns the current page number.
func (p *Paginator) Page() int { return p.cursor.Page() }

// NoDataStreak returns how many consecutive pages produced no records.
func (p *Paginator) NoDataStreak() int { return p.cursor.NoDataStreak() }

// RecordPageData feeds back whether the page just drained yielded records.
func (p *Paginator) RecordPageData(got bool) { p.cursor.recordData(got) }

// Advance moves to the next result page. ErrEndOfResults signals clean
// exhaustion; captcha signals propagate unmodified; any other fault is
// logged and re-raised so a failed harvest is never mistaken for a complete
// one.
func (p *Paginator) Advance(ctx context.Context) error {
	if err := p.advance(ctx); err != nil {
		if isTerminalSignal(err) || err == ErrEndOfResults {
			return err
		}
		p.logger.Error("Pagination failed.", zap.Error(err))
		return fmt.Errorf("pagination: %w", err)
	}
	p.cursor.advance()
	return nil
}

func (p *Paginator) advance(ctx context.Context) error {
	if err := p.monitor.CheckCaptcha(ctx); err != nil {
		return err
	}

	if p.endMarkerPresent(ctx, endMarkerProbeTimeout) {
		p.logger.Info("End of results detected.")
		return ErrEndOfResults
	}

	if btn := p.findNextButton(ctx); btn != nil {
		if err := p.surface.Click(ctx, btn); err != nil {
			return fmt.Errorf("failed to click next-page control: %w", err)
		}
		// Settle time for the next page to render and its API calls to fire.
		p.human.JitteredSleep(ctx, 2500*time.Millisecond, 0.28)
		return p.monitor.CheckCaptcha(ctx)
	}

	// No explicit control: infinite scroll. Record the extent before
	// scrolling so a stalled page is detectable.
	p.logger.Info("No next-page control found, using scroll fallback.")
	prevHeight, heightKnown := p.scrollHeight(ctx)

	if err := p.surface.ScrollToBottom(ctx); err != nil {
		if scrollErr := p.surface.Scroll(ctx, p.human.ScrollPixels(2400, 4200, 0.2)); scrollErr != nil {
			return fmt.Errorf("scroll fallback failed: %w", scrollErr)
		}
	}
	p.human.JitteredSleep(ctx, 3*time.Second, 0.27)

	if err := p.monitor.CheckCaptcha(ctx); err != nil {
		return err
	}
	if p.endMarkerPresent(ctx, 600*time.Millisecond) {
		p.logger.Info("End of results detected after scroll.")
		return ErrEndOfResults
	}

	if heightKnown {
		newHeight, ok := p.scrollHeight(ctx)
		if ok && newHeight <= prevHeight+scrollHeightTolerance {
			p.logger.Info("Scroll extent unchanged, treating page as exhausted.",
				zap.Int("height", newHeight))
			return ErrEndOfResults
		}
	}
	return nil
}

func (p *Paginator) endMarkerPresent(ctx context.Context, timeout time.Duration) bool {
	for _, probe := range endMarkerProbes {
		h, err := p.surface.QueryElement(ctx, probe, timeout)
		if err != nil {
			p.logger.Debug("End-marker probe failed.", zap.Error(err))
			continue
		}
		if h != nil {
			return true
		}
	}
	return false
}

func (p *Paginator) findNextButton(ctx context.Context) *browser.Handle {
	for _, probe := range nextPageProbes {
		h, err := p.surface.QueryElement(ctx, probe, nextButtonTimeout)
		if err != nil {
			p.logger.Debug("Next-page probe failed.", zap.Error(err))
			continue
		}
		if h != nil {
			return h
		}
	}
	return nil
}

func (p *Paginator) scrollHeight(ctx context.Context) (int, bool) {
	var height int
	err := p.surface.RunScript(ctx,
		"document.documentElement.scrollHeight || document.body.scrollHeight", &height)
	if err != nil {
		p.logger.Debug("Scroll height read failed.", zap.Error(err))
		return 0, false
	}
	return height, true
}
