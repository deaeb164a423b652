// File: internal/crawler/humanize.go
package crawler

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kaidos-lab/notesift/internal/browser"
	"github.com/kaidos-lab/notesift/internal/config"
)

// sleepChunk bounds cancellation latency: every humanized wait is split into
// chunks no longer than this, with stop/context checks between chunks.
const sleepChunk = 5 * time.Second

// clock and sleeper are injectable so timing behavior is testable without
// wall-clock waits.
type clock func() time.Time

type sleeper func(time.Duration)

// Humanizer produces jittered delays and micro-interactions that shape the
// session's traffic pattern. All delays scale with a time-of-day multiplier
// and the configured pace factor.
type Humanizer struct {
	cfg     config.CrawlerConfig
	state   *State
	surface browser.Surface
	logger  *zap.Logger

	now     clock
	sleep   sleeper
	rng     *rand.Rand
	limiter *rate.Limiter

	// restPeriod is the next extended-rest page period, re-rolled after
	// each rest so cadence never settles.
	restPeriod int
}

// NewHumanizer builds a humanizer with real time sources.
func NewHumanizer(cfg config.CrawlerConfig, state *State, surface browser.Surface, logger *zap.Logger) *Humanizer {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	h := &Humanizer{
		cfg:     cfg,
		state:   state,
		surface: surface,
		logger:  logger.Named("humanizer"),
		now:     time.Now,
		sleep:   time.Sleep,
		rng:     rng,
	}
	if cfg.MinPageInterval > 0 {
		h.limiter = rate.NewLimiter(rate.Every(cfg.MinPageInterval), 1)
	}
	h.restPeriod = h.rollRestPeriod()
	return h
}

func (h *Humanizer) rollRestPeriod() int { return 5 + h.rng.Intn(4) }

// timeOfDayMultiplier slows the cadence during meal hours and late night to
// mimic human usage, baseline otherwise.
func (h *Humanizer) timeOfDayMultiplier() float64 {
	now := h.now()
	hourFraction := float64(now.Hour()) + float64(now.Minute())/60

	if (hourFraction >= 12 && hourFraction < 13.5) || (hourFraction >= 18 && hourFraction < 20) {
		return h.uniform(1.5, 2.3)
	}
	if hourFraction >= 22 {
		return h.uniform(1.3, 1.9)
	}
	return h.uniform(0.9, 1.3)
}

func (h *Humanizer) uniform(min, max float64) float64 {
	return min + h.rng.Float64()*(max-min)
}

// JitteredSleep sleeps around base scaled by ratio, chunked so a stop request
// or context cancellation is observed within one chunk. Returns the duration
// actually slept.
func (h *Humanizer) JitteredSleep(ctx context.Context, base time.Duration, ratio float64) time.Duration {
	if base <= 0 || h.cfg.DisableWaits {
		return 0
	}
	jitter := time.Duration(float64(base) * ratio)
	low := base - jitter
	if low < 100*time.Millisecond {
		low = 100 * time.Millisecond
	}
	target := low + time.Duration(h.rng.Float64()*float64(base+jitter-low))
	return h.chunkedSleep(ctx, target)
}

// chunkedSleep sleeps up to total, returning early on stop or cancellation.
func (h *Humanizer) chunkedSleep(ctx context.Context, total time.Duration) time.Duration {
	var waited time.Duration
	for waited < total {
		if h.state.Stopped() || ctx.Err() != nil {
			return waited
		}
		chunk := total - waited
		if chunk > sleepChunk {
			chunk = sleepChunk
		}
		h.sleep(chunk)
		waited += chunk
	}
	return waited
}

// WarmupDelay inserts a small warm-up before heavy crawling to avoid a
// traffic spike right after navigation.
func (h *Humanizer) WarmupDelay(ctx context.Context) {
	if h.cfg.DisableWaits {
		return
	}
	wait := time.Duration(h.uniform(1.5, 4.0)*h.timeOfDayMultiplier()) * time.Second
	h.logger.Info("Humanized warm-up before crawling.", zap.Duration("wait", wait))
	h.chunkedSleep(ctx, wait)
}

// InterPageDelay pauses between result pages with human-like jitter and
// occasional longer rests. Independently of the jittered pause, a rate
// limiter enforces the configured hard floor between page advances.
func (h *Humanizer) InterPageDelay(ctx context.Context, page int) {
	if h.state.Stopped() {
		return
	}
	if h.limiter != nil && !h.cfg.DisableWaits {
		if err := h.limiter.Wait(ctx); err != nil {
			return
		}
	}
	if h.cfg.DisableWaits {
		return
	}

	multiplier := h.timeOfDayMultiplier()
	base := time.Duration(h.uniform(1.8, 4.5) * multiplier * h.cfg.PaceFactor * float64(time.Second))

	// Humans do not browse forever at a constant speed.
	if page > 0 && page%h.restPeriod == 0 {
		extra := time.Duration(h.uniform(25, 80) * float64(time.Second))
		h.logger.Info("Mimicking a longer rest.", zap.Duration("extra", extra))
		base += extra
		h.restPeriod = h.rollRestPeriod()
	}

	h.logger.Info("Humanized pause before next page.",
		zap.Duration("pause", base),
		zap.Float64("multiplier", multiplier),
		zap.Int("page", page))
	h.chunkedSleep(ctx, base)
}

// MinViewTime is how long a page must stay "viewed" before advancing, even
// when its data arrived immediately.
func (h *Humanizer) MinViewTime() time.Duration {
	if h.cfg.DisableWaits {
		return 0
	}
	return time.Duration(h.uniform(1.5, 3.5) * h.cfg.PaceFactor * float64(time.Second))
}

// ScrollPixels draws a scroll distance with jitter, floored at 120px.
func (h *Humanizer) ScrollPixels(min, max int, variance float64) int {
	raw := h.uniform(float64(min), float64(max))
	jitter := raw * h.uniform(-variance, variance)
	distance := int(raw + jitter)
	if distance < 120 {
		distance = 120
	}
	return distance
}

// MicroActions performs light scrolling motions to look less robotic.
// Failures are logged and swallowed; motion is cosmetic.
func (h *Humanizer) MicroActions(ctx context.Context) {
	if h.state.Stopped() || h.cfg.DisableWaits {
		return
	}
	if h.rng.Float64() < 0.4 {
		if err := h.surface.Scroll(ctx, h.ScrollPixels(320, 920, 0.4)); err != nil {
			h.logger.Debug("Micro scroll failed.", zap.Error(err))
			return
		}
		h.JitteredSleep(ctx, 600*time.Millisecond, 0.5)
	}
	if h.rng.Float64() < 0.15 {
		if err := h.surface.Scroll(ctx, -h.ScrollPixels(120, 460, 0.45)); err != nil {
			h.logger.Debug("Micro scroll failed.", zap.Error(err))
			return
		}
		h.JitteredSleep(ctx, 350*time.Millisecond, 0.5)
	}
}

// DrainPollInterval is the adaptive per-poll timeout used while waiting for
// captured packets.
func (h *Humanizer) DrainPollInterval() time.Duration {
	return time.Duration(h.uniform(0.6, 1.2) * h.cfg.PaceFactor * float64(time.Second))
}
