// File: internal/crawler/harvest.go
package crawler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Harvest returns a pull-based stream of deduplicated, type-filtered result
// items for the query. The first Next call primes the session (Search plus a
// warm-up delay); each subsequent page is drained, filtered, and yielded
// before pagination advances. The stream ends with ErrEndOfResults on clean
// exhaustion, ErrStopped on a cooperative stop; login/captcha/restriction
// signals abort it and surface unmodified.
func (c *Crawler) Harvest(query SearchQuery) *ResultStream {
	return &ResultStream{
		c:     c,
		query: query,
		seen:  make(map[string]bool),
	}
}

// ResultStream is a single-consumer iterator over one harvest run. Not safe
// for concurrent use; it belongs to the worker goroutine that owns the
// crawler.
type ResultStream struct {
	c     *Crawler
	query SearchQuery

	started bool
	buffer  []*ResultItem
	seen    map[string]bool

	done    bool
	doneErr error
}

// Next returns the next result item. Buffered items from the current page
// are always delivered before any termination signal, so a signal raised
// during pagination never swallows captured data.
func (s *ResultStream) Next(ctx context.Context) (*ResultItem, error) {
	for {
		if len(s.buffer) > 0 {
			item := s.buffer[0]
			s.buffer = s.buffer[1:]
			return item, nil
		}
		if s.done {
			return nil, s.doneErr
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if !s.started {
			if err := s.c.Search(ctx, s.query); err != nil {
				s.finish(err)
				continue
			}
			s.c.human.WarmupDelay(ctx)
			s.started = true
			continue
		}

		s.harvestPage(ctx)
	}
}

func (s *ResultStream) finish(err error) {
	s.done = true
	s.doneErr = err
}

// harvestPage runs the per-page protocol: ensure auth, drain the listener
// under a bounded deadline, buffer the survivors, then advance. Every
// blocking step is preceded by a stop check so cancellation latency stays
// bounded by one poll interval.
func (s *ResultStream) harvestPage(ctx context.Context) {
	c := s.c
	if c.state.Stopped() {
		s.finish(ErrStopped)
		return
	}

	page := c.paginator.Page()
	c.logger.Info("Harvesting page.", zap.Int("page", page))
	c.human.MicroActions(ctx)

	if err := c.guard.EnsureAuthenticated(ctx); err != nil {
		s.finish(err)
		return
	}
	if c.state.Stopped() {
		s.finish(ErrStopped)
		return
	}

	gotData := s.drainPage(ctx, page)
	if c.state.Stopped() {
		s.finish(ErrStopped)
		return
	}

	// A platform block discovered mid-harvest terminates the run with the
	// typed signal, never an empty success.
	if restriction := c.monitor.CheckSecurityRestriction(ctx); restriction != nil {
		c.logger.Warn("Security restriction mid-harvest.",
			zap.String("code", restriction.Code),
			zap.String("message", restriction.Message))
		s.finish(restriction)
		return
	}

	c.paginator.RecordPageData(gotData)
	if c.paginator.NoDataStreak() >= c.cfg.Crawler.MaxNoDataPages {
		c.logger.Info("No data for consecutive pages, ending harvest.",
			zap.Int("streak", c.paginator.NoDataStreak()))
		s.finish(ErrEndOfResults)
		return
	}

	if err := c.paginator.Advance(ctx); err != nil {
		s.finish(err)
		return
	}
	c.human.InterPageDelay(ctx, c.paginator.Page())
}

// drainPage polls the listener until the drain deadline, decoding matching
// packets into the buffer. Once data has arrived and a minimum "view time"
// has elapsed the page is considered consumed; leaving too early looks
// robotic, staying past the deadline wastes the session.
func (s *ResultStream) drainPage(ctx context.Context, page int) bool {
	c := s.c
	start := c.human.now()
	deadline := start.Add(c.cfg.Crawler.DrainTimeout)
	minView := c.human.MinViewTime()
	gotData := false

	for c.human.now().Before(deadline) {
		if c.state.Stopped() || ctx.Err() != nil {
			break
		}

		pkt, err := c.listener.Drain(ctx, c.human.DrainPollInterval())
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.logger.Debug("Packet poll failed.", zap.Error(err))
			c.human.JitteredSleep(ctx, 250*time.Millisecond, 0.4)
			continue
		}
		if pkt != nil && MatchesResultEndpoint(pkt.URL) {
			c.logger.Debug("Result packet captured.", zap.String("url", pkt.URL))
			records := c.listener.Extract(pkt)
			if len(records) > 0 {
				gotData = true
			}
			for _, item := range FilterRecords(records, s.query.NoteType, page) {
				if item.ID != "" && s.seen[item.ID] {
					continue
				}
				if item.ID != "" {
					s.seen[item.ID] = true
				}
				s.buffer = append(s.buffer, item)
			}
		}

		if gotData && c.human.now().Sub(start) > minView {
			break
		}
	}
	return gotData
}
