// File: internal/crawler/crawler.go
package crawler

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kaidos-lab/notesift/internal/browser"
	"github.com/kaidos-lab/notesift/internal/config"
	"github.com/kaidos-lab/notesift/internal/credstore"
)

// Crawler is the public face of the orchestration core. One instance owns
// one browser session; a single worker goroutine drives every method except
// Stop, which any goroutine may call.
type Crawler struct {
	cfg     config.Config
	state   *State
	surface browser.Surface
	store   *credstore.Store
	logger  *zap.Logger

	human     *Humanizer
	monitor   *Monitor
	guard     *Guard
	paginator *Paginator
	listener  *Listener

	replyPolicy ReplyExpansionPolicy
}

// Option customizes crawler construction.
type Option func(*options)

type options struct {
	solver      CaptchaSolver
	replyPolicy ReplyExpansionPolicy
}

// WithCaptchaSolver plugs in an external challenge solver.
func WithCaptchaSolver(s CaptchaSolver) Option {
	return func(o *options) { o.solver = s }
}

// WithReplyExpansionPolicy overrides the default nested-reply expansion
// heuristic used by FetchDetail.
func WithReplyExpansionPolicy(p ReplyExpansionPolicy) Option {
	return func(o *options) { o.replyPolicy = p }
}

// New wires the orchestration core over a browser surface and a credential
// store.
func New(cfg *config.Config, surface browser.Surface, store *credstore.Store, logger *zap.Logger, opts ...Option) *Crawler {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	runLogger := logger.Named("crawler").With(zap.String("run_id", uuid.NewString()))
	state := NewState()
	human := NewHumanizer(cfg.Crawler, state, surface, runLogger)
	monitor := NewMonitor(*cfg, state, surface, human, o.solver, runLogger)

	c := &Crawler{
		cfg:         *cfg,
		state:       state,
		surface:     surface,
		store:       store,
		logger:      runLogger,
		human:       human,
		monitor:     monitor,
		guard:       NewGuard(*cfg, state, surface, store, human, runLogger),
		paginator:   NewPaginator(surface, monitor, human, runLogger),
		listener:    NewListener(surface, runLogger),
		replyPolicy: o.replyPolicy,
	}
	if c.replyPolicy == nil {
		c.replyPolicy = defaultReplyExpansionPolicy(human.rng)
	}
	return c
}

// Stop requests a cooperative stop. Safe from any goroutine: it is a flag
// write, never a browser call, and it never persists credentials — only the
// owning worker may touch the session.
func (c *Crawler) Stop() {
	c.state.RequestStop()
	c.logger.Info("Stop requested.")
}

// Close persists credentials (unless suppressed) and tears down the browser
// session. Owner-only.
func (c *Crawler) Close(ctx context.Context) error {
	if err := c.guard.PersistCredentials(ctx); err != nil {
		c.logger.Warn("Failed to persist credentials on close.", zap.Error(err))
	}
	return c.surface.Close(ctx)
}
