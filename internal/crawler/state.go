// File: internal/crawler/state.go
package crawler

import "sync/atomic"

// State is the session context shared by every component of one crawler
// instance. Write discipline: a single worker goroutine owns the browser
// surface and every field here, except stopRequested, which any execution
// context may set. Readers of the other fields are the owner itself, so no
// further synchronization is needed; a missed stop check merely delays
// shutdown by one poll interval.
type State struct {
	// stopRequested is the sole cross-context writable field.
	stopRequested atomic.Bool

	// suppressCookieSave is true only while a login is unresolved, so a
	// guest-state cookie jar never overwrites a valid saved one. Owner-only.
	suppressCookieSave bool

	// authenticated caches the last confirmed identity check. Owner-only.
	authenticated bool
}

// NewState returns a fresh session context.
func NewState() *State { return &State{} }

// RequestStop signals a cooperative stop. Safe from any goroutine; it is a
// flag write, never a browser call.
func (s *State) RequestStop() { s.stopRequested.Store(true) }

// Stopped reports whether a stop has been requested.
func (s *State) Stopped() bool { return s.stopRequested.Load() }

// SuppressSave marks credential persistence as unsafe while login is
// unresolved.
func (s *State) SuppressSave() { s.suppressCookieSave = true }

// AllowSave re-enables credential persistence after a confirmed login.
func (s *State) AllowSave() { s.suppressCookieSave = false }

// SaveSuppressed reports whether credential persistence is currently unsafe.
func (s *State) SaveSuppressed() bool { return s.suppressCookieSave }

func (s *State) setAuthenticated(ok bool) { s.authenticated = ok }

// Authenticated reports the last confirmed identity-check result.
func (s *State) Authenticated() bool { return s.authenticated }
