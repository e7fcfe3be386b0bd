package watch

import (
	"context"
	"time"
)

// Scraper is the site-specific scraping capability. Implementations live
// outside the engine; errors they return must be classifiable as auth-class
// (see AuthError) or generic.
type Scraper interface {
	Scrape(ctx context.Context, monitor Monitor) ([]Listing, error)
}

// MonitorRepository is the engine's view of monitor persistence.
type MonitorRepository interface {
	ListActive(ctx context.Context) ([]Monitor, error)
	Get(ctx context.Context, id string) (*Monitor, error)
	SetLastChecked(ctx context.Context, id string, at time.Time) error
	SetLastAlert(ctx context.Context, id string, at time.Time) error
}

// QuotaRepository increments per-user query usage. Owned by the billing
// subsystem; the engine calls Increment exactly once per successful run.
type QuotaRepository interface {
	Increment(ctx context.Context, subscriptionID string) error
}

// ExecutionLogRepository persists execution history rows.
type ExecutionLogRepository interface {
	Create(ctx context.Context, log ExecutionLog) error
}

// SessionRepository stores per-(user, site) session state. GetStatus returns
// errors.ErrNotFound when no record exists. MarkNeedsReauth flips the state
// and reports whether the caller should notify the user; the repository
// enforces the reauth-notification cooldown window internally.
type SessionRepository interface {
	GetStatus(ctx context.Context, userID, site string) (*SessionState, error)
	MarkNeedsReauth(ctx context.Context, userID, site, reason string) (notified bool, err error)
}

// ContextAssembler resolves a monitor into a full ExecutionContext at the
// dispatch boundary.
type ContextAssembler interface {
	Assemble(ctx context.Context, monitorID string) (*ExecutionContext, error)
}
