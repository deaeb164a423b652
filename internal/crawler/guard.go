// File: internal/crawler/guard.go
package crawler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kaidos-lab/notesift/internal/browser"
	"github.com/kaidos-lab/notesift/internal/config"
	"github.com/kaidos-lab/notesift/internal/credstore"
)

const (
	identityProbeTimeout = 200 * time.Millisecond
	loginPollBase        = 2 * time.Second
)

// Guard owns authentication state: it detects logged-in/guest/blocked
// states, drives the login-wait protocol, and persists/restores credentials
// through the store.
type Guard struct {
	cfg     config.Config
	state   *State
	surface browser.Surface
	store   *credstore.Store
	human   *Humanizer
	logger  *zap.Logger
}

// NewGuard builds a session guard.
func NewGuard(cfg config.Config, state *State, surface browser.Surface, store *credstore.Store, human *Humanizer, logger *zap.Logger) *Guard {
	return &Guard{
		cfg:     cfg,
		state:   state,
		surface: surface,
		store:   store,
		human:   human,
		logger:  logger.Named("guard"),
	}
}

// isAuthenticated runs the strict-identity check. Priority order:
//  1. Positive identity markers win outright, even with residual login
//     elements on the page.
//  2. An explicitly visible login prompt with no identity means guest.
//  3. Last resort: a non-empty primary auth token cookie counts as
//     authenticated without DOM confirmation.
func (g *Guard) isAuthenticated(ctx context.Context) bool {
	for _, probe := range identityProbes {
		h, err := g.surface.QueryElement(ctx, probe, identityProbeTimeout)
		if err != nil {
			g.logger.Debug("Identity probe failed.", zap.Error(err))
			continue
		}
		if h != nil {
			g.logger.Debug("Identity confirmed.", zap.String("probe", probe.String()))
			g.state.setAuthenticated(true)
			return true
		}
	}

	if g.loginPromptVisible(ctx) {
		g.logger.Debug("No identity and a visible login prompt. Guest session.")
		g.state.setAuthenticated(false)
		return false
	}

	cookies, err := g.surface.Cookies(ctx)
	if err == nil {
		if val, ok := cookies[g.cfg.Crawler.AuthCookie]; ok && val != "" {
			g.logger.Info("Identity validated via auth cookie.",
				zap.String("cookie", g.cfg.Crawler.AuthCookie))
			g.state.setAuthenticated(true)
			return true
		}
	} else {
		g.logger.Debug("Cookie inspection failed during identity check.", zap.Error(err))
	}

	g.state.setAuthenticated(false)
	return false
}

func (g *Guard) loginPromptVisible(ctx context.Context) bool {
	probes := make([]browser.Selector, 0, len(loginModalProbes)+len(loginButtonProbes))
	probes = append(probes, loginModalProbes...)
	probes = append(probes, loginButtonProbes...)
	for _, probe := range probes {
		h, err := g.surface.QueryElement(ctx, probe, identityProbeTimeout)
		if err != nil || h == nil {
			continue
		}
		visible, err := g.surface.Visible(ctx, h)
		if err == nil && visible {
			return true
		}
	}
	return false
}

func (g *Guard) findFirst(ctx context.Context, probes []browser.Selector, timeout time.Duration) *browser.Handle {
	for _, probe := range probes {
		h, err := g.surface.QueryElement(ctx, probe, timeout)
		if err != nil {
			g.logger.Debug("Probe failed.", zap.String("probe", probe.String()), zap.Error(err))
			continue
		}
		if h != nil {
			return h
		}
	}
	return nil
}

// EnsureAuthenticated verifies the session and drives the login-wait
// protocol when it is not. Returns ErrLoginRequired when authentication
// cannot be established within the configured budget, ErrStopped on a
// cooperative stop. Any other failure during the check is logged and
// swallowed: a login check must never crash the harvest.
func (g *Guard) EnsureAuthenticated(ctx context.Context) error {
	loggedIn := g.isAuthenticated(ctx)
	modal := g.findFirst(ctx, loginModalProbes, identityProbeTimeout)

	if loggedIn && modal == nil {
		return nil
	}

	// Dismiss non-login overlays before judging the page.
	if closeBtn := g.findFirst(ctx, closeOverlayProbes, identityProbeTimeout); closeBtn != nil {
		if err := g.surface.Click(ctx, closeBtn); err == nil {
			g.human.JitteredSleep(ctx, 500*time.Millisecond, 0.4)
		}
	}

	var loginBtn *browser.Handle
	if !loggedIn {
		loginBtn = g.findFirst(ctx, loginButtonProbes, identityProbeTimeout)
	}

	// A bare login button may just be residual chrome; click it once to see
	// whether a real modal comes up.
	if modal == nil && loginBtn != nil {
		g.logger.Info("Found login button, clicking to confirm modal.")
		if err := g.surface.Click(ctx, loginBtn); err == nil {
			g.human.JitteredSleep(ctx, 800*time.Millisecond, 0.4)
		}
		modal = g.findFirst(ctx, loginModalProbes, 300*time.Millisecond)
	}

	if modal == nil && loginBtn == nil {
		if loggedIn {
			return nil
		}
		// Ambiguous: no identity, no prompt. Re-apply saved credentials once
		// and recheck before deciding.
		g.logger.Warn("Ambiguous login state: identity missing, no login prompt.")
		if g.TrySavedCredentials(ctx) {
			g.logger.Info("Login restored after credential reload.")
			return nil
		}
		g.logger.Warn("No identity after credential reload. Treating as login wall.")
	}

	if g.isAuthenticated(ctx) {
		g.logger.Info("Login prompt present but identity verified. Proceeding.")
		return nil
	}

	return g.waitForLogin(ctx)
}

// waitForLogin runs the manual-wait protocol: suppress credential saves,
// attempt a credential-reload bypass, then poll identity at a jittered
// interval up to the budget. A zero budget fails immediately instead of
// blocking.
func (g *Guard) waitForLogin(ctx context.Context) error {
	g.logger.Warn("Login required.")
	g.state.SuppressSave()

	// A. Credential-reload bypass, no human needed when it works.
	if g.TrySavedCredentials(ctx) {
		g.logger.Info("Login restored after reloading saved credentials.")
		g.confirmLogin(ctx)
		return nil
	}

	// B. Manual wait.
	budget := g.cfg.EffectiveLoginWait()
	if budget <= 0 {
		return ErrLoginRequired
	}
	g.logger.Warn("Paused for manual login (QR scan or password).",
		zap.Duration("budget", budget))

	deadline := g.human.now().Add(budget)
	for {
		if g.state.Stopped() {
			return ErrStopped
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if g.isAuthenticated(ctx) {
			g.logger.Info("Manual login detected, identity verified.")
			break
		}
		if g.human.now().After(deadline) {
			return ErrLoginRequired
		}
		g.human.JitteredSleep(ctx, loginPollBase, 0.25)
	}

	g.confirmLogin(ctx)
	g.human.JitteredSleep(ctx, 3*time.Second, 0.3)
	return nil
}

// confirmLogin lifts save suppression and persists the now-valid session.
func (g *Guard) confirmLogin(ctx context.Context) {
	g.state.AllowSave()
	if err := g.PersistCredentials(ctx); err != nil {
		g.logger.Warn("Failed to persist credentials after login.", zap.Error(err))
	}
}

// TrySavedCredentials re-applies the stored cookie bundle, refreshes, and
// rechecks identity. Returns true only when identity is confirmed after the
// reload.
func (g *Guard) TrySavedCredentials(ctx context.Context) bool {
	bundle, err := g.store.Load()
	if err != nil {
		g.logger.Warn("Credential load failed.", zap.Error(err))
		return false
	}
	if len(bundle) == 0 {
		return false
	}
	if err := g.surface.SetCookies(ctx, map[string]string(bundle)); err != nil {
		g.logger.Warn("Failed to inject saved credentials.", zap.Error(err))
		return false
	}
	if err := g.surface.Refresh(ctx); err != nil {
		g.logger.Warn("Refresh after credential injection failed.", zap.Error(err))
		return false
	}
	g.human.JitteredSleep(ctx, 3*time.Second, 0.3)
	return g.isAuthenticated(ctx)
}

// PersistCredentials saves the live cookie jar. It is a no-op while the
// session is suppressed (login unresolved): persisting guest cookies would
// clobber a previously valid record.
func (g *Guard) PersistCredentials(ctx context.Context) error {
	if g.state.SaveSuppressed() {
		g.logger.Debug("Credential save suppressed while login unresolved.")
		return nil
	}
	cookies, err := g.surface.Cookies(ctx)
	if err != nil {
		return err
	}
	return g.store.Save(credstore.Bundle(cookies))
}
