// File: internal/crawler/guard_test.go
package crawler

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaidos-lab/notesift/internal/browser"
	"github.com/kaidos-lab/notesift/internal/config"
	"github.com/kaidos-lab/notesift/internal/credstore"
)

func newTestGuard(t *testing.T, surface *fakeSurface, mutate func(*config.Config)) (*Guard, *State, *credstore.Store) {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}
	dir := t.TempDir()
	store := credstore.New(filepath.Join(dir, "cookies.json"), "", "", testLogger())
	state := NewState()
	human := NewHumanizer(cfg.Crawler, state, surface, testLogger())
	return NewGuard(*cfg, state, surface, store, human, testLogger()), state, store
}

func TestEnsureAuthenticatedIdentityPresent(t *testing.T) {
	surface := newFakeSurface()
	surface.setPresent(browser.CSS("#user-avatar"))
	g, state, _ := newTestGuard(t, surface, nil)

	require.NoError(t, g.EnsureAuthenticated(context.Background()))
	assert.True(t, state.Authenticated())
}

func TestEnsureAuthenticatedIdentityBeatsResidualLoginButton(t *testing.T) {
	// Positive identity markers take priority over leftover login chrome.
	surface := newFakeSurface()
	surface.setPresent(browser.CSS("#user-avatar"), browser.CSS(".login-btn"))
	g, state, _ := newTestGuard(t, surface, nil)

	require.NoError(t, g.EnsureAuthenticated(context.Background()))
	assert.True(t, state.Authenticated())
}

func TestIsAuthenticatedAuthCookieFallback(t *testing.T) {
	// No DOM identity, no login prompt: a non-empty auth token cookie is the
	// last-resort identity proof.
	surface := newFakeSurface()
	surface.cookies["id_token"] = "tok-abc"
	g, state, _ := newTestGuard(t, surface, nil)

	assert.True(t, g.isAuthenticated(context.Background()))
	assert.True(t, state.Authenticated())
}

func TestIsAuthenticatedVisibleLoginPromptWins(t *testing.T) {
	// An explicitly visible login prompt with no identity means guest even
	// when an auth cookie is lying around.
	surface := newFakeSurface()
	surface.setPresent(browser.CSS(".login-container"))
	surface.cookies["id_token"] = "stale"
	g, _, _ := newTestGuard(t, surface, nil)

	assert.False(t, g.isAuthenticated(context.Background()))
}

func TestIsAuthenticatedHiddenPromptFallsThrough(t *testing.T) {
	surface := newFakeSurface()
	surface.setPresent(browser.CSS(".login-container"))
	surface.hidden["css:.login-container"] = true
	surface.cookies["id_token"] = "tok"
	g, _, _ := newTestGuard(t, surface, nil)

	assert.True(t, g.isAuthenticated(context.Background()))
}

func TestEnsureAuthenticatedZeroBudgetFailsImmediately(t *testing.T) {
	// Headless sessions have a zero login-wait budget: fail, never block.
	surface := newFakeSurface()
	surface.setPresent(browser.CSS(".login-container"), browser.CSS(".login-btn"))
	g, state, _ := newTestGuard(t, surface, func(cfg *config.Config) {
		cfg.Browser.Headless = true
	})

	err := g.EnsureAuthenticated(context.Background())
	assert.ErrorIs(t, err, ErrLoginRequired)
	assert.True(t, state.SaveSuppressed(), "suppression must hold while login is unresolved")
}

func TestEnsureAuthenticatedCredentialReloadBypass(t *testing.T) {
	surface := newFakeSurface()
	surface.setPresent(browser.CSS(".login-container"))
	g, state, store := newTestGuard(t, surface, nil)

	require.NoError(t, store.Save(credstore.Bundle{"id_token": "saved"}))

	// The saved token authenticates via the cookie fallback after the
	// reload+refresh, but the visible modal must be gone for the strict
	// check to pass; simulate the modal disappearing on refresh.
	surface.mu.Lock()
	surface.hidden["css:.login-container"] = true
	surface.mu.Unlock()

	require.NoError(t, g.EnsureAuthenticated(context.Background()))
	assert.False(t, state.SaveSuppressed(), "suppression lifts on confirmed login")
	assert.Equal(t, "saved", surface.cookies["id_token"], "saved credentials injected")

	surface.mu.Lock()
	refreshes := surface.refreshes
	surface.mu.Unlock()
	assert.GreaterOrEqual(t, refreshes, 1)
}

func TestPersistCredentialsSuppressed(t *testing.T) {
	surface := newFakeSurface()
	surface.cookies["id_token"] = "tok"
	g, state, store := newTestGuard(t, surface, nil)

	state.SuppressSave()
	require.NoError(t, g.PersistCredentials(context.Background()))

	bundle, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, bundle, "suppressed session must not persist anything")
}

func TestPersistCredentialsRoundtrip(t *testing.T) {
	surface := newFakeSurface()
	surface.cookies["id_token"] = "tok"
	surface.cookies["session"] = "s1"
	g, _, store := newTestGuard(t, surface, nil)

	require.NoError(t, g.PersistCredentials(context.Background()))

	bundle, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, credstore.Bundle{"id_token": "tok", "session": "s1"}, bundle)
}

func TestTrySavedCredentialsEmptyStore(t *testing.T) {
	g, _, _ := newTestGuard(t, newFakeSurface(), nil)
	assert.False(t, g.TrySavedCredentials(context.Background()))
}
