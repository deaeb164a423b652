// File: internal/crawler/antibot.go
package crawler

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kaidos-lab/notesift/internal/browser"
	"github.com/kaidos-lab/notesift/internal/config"
)

// ChallengeAssets is what a captcha solver gets to work with.
type ChallengeAssets struct {
	// PageURL is the location where the challenge appeared.
	PageURL string
	// HTML is the page markup containing the challenge widget.
	HTML string
}

// CaptchaSolver is an external collaborator that resolves a challenge
// in-place. The core only specifies the contract; solving internals live
// outside it.
type CaptchaSolver interface {
	Solve(ctx context.Context, assets *ChallengeAssets) error
}

// Monitor detects captcha challenges and security-restriction pages and
// decides retry versus abort.
type Monitor struct {
	cfg     config.Config
	state   *State
	surface browser.Surface
	human   *Humanizer
	logger  *zap.Logger
	solver  CaptchaSolver
}

// NewMonitor builds an anti-bot monitor. solver may be nil.
func NewMonitor(cfg config.Config, state *State, surface browser.Surface, human *Humanizer, solver CaptchaSolver, logger *zap.Logger) *Monitor {
	return &Monitor{
		cfg:     cfg,
		state:   state,
		surface: surface,
		human:   human,
		logger:  logger.Named("antibot"),
		solver:  solver,
	}
}

// CheckCaptcha probes for a challenge widget. Unattended sessions fail fast
// with ErrCaptchaDetected. Interactive sessions get one bounded grace period
// for a manual solve (or one solver attempt) before the re-check decides.
func (m *Monitor) CheckCaptcha(ctx context.Context) error {
	present, err := m.captchaPresent(ctx)
	if err != nil {
		// A transport fault during detection must not masquerade as a clean
		// page; log and treat as absent so the harvest can surface the real
		// failure at the next blocking step.
		m.logger.Debug("Captcha probe failed.", zap.Error(err))
		return nil
	}
	if !present {
		return nil
	}

	m.logger.Warn("Captcha challenge detected.")

	if m.solver != nil {
		assets := m.collectAssets(ctx)
		if err := m.solver.Solve(ctx, assets); err != nil {
			m.logger.Warn("Captcha solver failed.", zap.Error(err))
		} else if present, _ := m.captchaPresent(ctx); !present {
			m.logger.Info("Captcha resolved by solver.")
			return nil
		}
	}

	if m.cfg.Browser.Headless {
		return ErrCaptchaDetected
	}

	// Interactive: give the human a bounded window, then re-check.
	m.logger.Warn("Waiting for manual captcha resolution.",
		zap.Duration("grace", m.cfg.Crawler.CaptchaGrace))
	m.human.chunkedSleep(ctx, m.cfg.Crawler.CaptchaGrace)
	if m.state.Stopped() {
		return ErrStopped
	}

	present, err = m.captchaPresent(ctx)
	if err != nil {
		m.logger.Debug("Captcha re-check failed.", zap.Error(err))
		return nil
	}
	if present {
		return ErrCaptchaDetected
	}
	return nil
}

func (m *Monitor) captchaPresent(ctx context.Context) (bool, error) {
	for _, probe := range captchaProbes {
		h, err := m.surface.QueryElement(ctx, probe, time.Second)
		if err != nil {
			return false, err
		}
		if h != nil {
			return true, nil
		}
	}
	return false, nil
}

func (m *Monitor) collectAssets(ctx context.Context) *ChallengeAssets {
	assets := &ChallengeAssets{}
	if url, err := m.surface.CurrentURL(ctx); err == nil {
		assets.PageURL = url
	}
	if html, err := m.surface.HTML(ctx); err == nil {
		assets.HTML = html
	}
	return assets
}

// CheckSecurityRestriction matches the current page against known block
// markers. A hit is terminal for the current operation; the caller surfaces
// it, never retries it.
func (m *Monitor) CheckSecurityRestriction(ctx context.Context) *SecurityRestrictionError {
	url, err := m.surface.CurrentURL(ctx)
	if err != nil {
		return nil
	}
	title, _ := m.surface.Title(ctx)
	html, _ := m.surface.HTML(ctx)

	return matchRestriction(url, title+"\n"+html)
}

// matchRestriction is the pure marker-matching core, split out for tests.
func matchRestriction(url, text string) *SecurityRestrictionError {
	hit := strings.Contains(url, restrictionURLMarker)
	if !hit {
		for _, marker := range restrictionTextMarkers {
			if strings.Contains(text, marker) {
				hit = true
				break
			}
		}
	}
	if !hit {
		return nil
	}

	code := ""
	if strings.Contains(text, restrictionCodeRateLimit) {
		code = restrictionCodeRateLimit
	}
	message := "安全限制"
	if strings.Contains(text, "访问频次异常") {
		message = "访问频次异常"
	} else if strings.Contains(text, "请勿频繁操作") {
		message = "请勿频繁操作"
	}
	return &SecurityRestrictionError{Code: code, Message: message}
}
