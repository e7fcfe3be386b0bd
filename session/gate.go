// Package session decides whether a monitor's site has usable authenticated
// session state before any scrape attempt is made.
package session

import (
	"context"

	"github.com/veyra/listwatch/errors"
	"github.com/veyra/listwatch/watch"
)

// DefaultAuthSites is the static per-site capability table: which marketplace
// sites require a stored user session before scraping.
var DefaultAuthSites = map[string]bool{
	"kleinanzeigen": true,
	"vinted":        true,
	"subito":        true,
	"ebay":          false,
	"craigslist":    false,
	"leboncoin":     false,
}

// StatusInfo is the gate's answer about one (user, site) session.
type StatusInfo struct {
	Exists      bool
	NeedsAction bool
	Status      watch.SessionStatus
}

// Gate consults the session repository before auth-requiring scrapes.
type Gate struct {
	repo      watch.SessionRepository
	authSites map[string]bool
}

// NewGate creates a gate over a session repository. A nil site table falls
// back to DefaultAuthSites.
func NewGate(repo watch.SessionRepository, authSites map[string]bool) *Gate {
	if authSites == nil {
		authSites = DefaultAuthSites
	}
	return &Gate{repo: repo, authSites: authSites}
}

// SiteRequiresAuth reports whether site needs a stored session for scraping.
func (g *Gate) SiteRequiresAuth(site string) bool {
	return g.authSites[site]
}

// Status looks up the session for a (user, site) pair. A missing record is
// not an error; it is reported via Exists=false.
func (g *Gate) Status(ctx context.Context, userID, site string) (StatusInfo, error) {
	state, err := g.repo.GetStatus(ctx, userID, site)
	if errors.IsNotFound(err) {
		return StatusInfo{Exists: false}, nil
	}
	if err != nil {
		return StatusInfo{}, err
	}
	return StatusInfo{
		Exists:      true,
		NeedsAction: state.Status.NeedsAction(),
		Status:      state.Status,
	}, nil
}

// Check returns the skip reason that applies before scraping, or "" when the
// scrape may proceed. Skips here never involve the circuit breaker:
// "no credentials configured" and "credentials stale" are expected states,
// not site failures.
func (g *Gate) Check(ctx context.Context, userID, site string) (watch.SkipReason, error) {
	if !g.SiteRequiresAuth(site) {
		return "", nil
	}

	info, err := g.Status(ctx, userID, site)
	if err != nil {
		return "", err
	}
	if !info.Exists {
		return watch.ReasonSessionRequired, nil
	}
	if info.NeedsAction {
		return watch.ReasonNeedsReauth, nil
	}
	return "", nil
}
