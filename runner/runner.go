// Package runner executes a single monitor end to end: quota gate, session
// gate, circuit-protected scrape, dedup, alert fan-out, and bookkeeping.
//
// The runner is the error boundary for one monitor. Skip conditions and
// auth failures are converted into logged outcomes and never escape; only
// transient scrape failures are returned, so queue-mode retry machinery can
// see them.
package runner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/veyra/listwatch/alert"
	"github.com/veyra/listwatch/breaker"
	"github.com/veyra/listwatch/dedup"
	"github.com/veyra/listwatch/session"
	"github.com/veyra/listwatch/watch"
)

// Runner orchestrates one monitor execution.
type Runner struct {
	scraper  watch.Scraper
	breaker  *breaker.Breaker
	gate     *session.Gate
	dedup    *dedup.Deduplicator
	alerts   *alert.Dispatcher
	sessions watch.SessionRepository
	monitors watch.MonitorRepository
	quotas   watch.QuotaRepository
	logs     watch.ExecutionLogRepository
	logger   *zap.SugaredLogger
	now      func() time.Time
}

// Deps bundles the runner's collaborators.
type Deps struct {
	Scraper  watch.Scraper
	Breaker  *breaker.Breaker
	Gate     *session.Gate
	Dedup    *dedup.Deduplicator
	Alerts   *alert.Dispatcher
	Sessions watch.SessionRepository
	Monitors watch.MonitorRepository
	Quotas   watch.QuotaRepository
	Logs     watch.ExecutionLogRepository
}

// New creates a runner.
func New(deps Deps, logger *zap.SugaredLogger) *Runner {
	return &Runner{
		scraper:  deps.Scraper,
		breaker:  deps.Breaker,
		gate:     deps.Gate,
		dedup:    deps.Dedup,
		alerts:   deps.Alerts,
		sessions: deps.Sessions,
		monitors: deps.Monitors,
		quotas:   deps.Quotas,
		logs:     deps.Logs,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the runner's clock (for testing).
func (r *Runner) WithClock(fn func() time.Time) *Runner {
	r.now = fn
	return r
}

// Run executes one monitor. The returned error is non-nil only for
// transient scrape failures; every other outcome is fully handled here.
func (r *Runner) Run(ctx context.Context, ectx *watch.ExecutionContext) error {
	start := r.now()
	m := ectx.Monitor

	// Quota gate. An exhausted or missing subscription is an expected steady
	// state: warn and return without writing an execution log row.
	if !ectx.Subscription.Usable() {
		r.logger.Warnw("Monitor skipped: no usable subscription",
			"monitor_id", m.ID,
			"user_id", m.UserID,
		)
		return nil
	}

	// Session gate. Skips here never reach the circuit breaker.
	reason, err := r.gate.Check(ctx, m.UserID, m.Site)
	if err != nil {
		r.writeLog(ctx, m, watch.StatusError, "", 0, 0, 0, r.now().Sub(start), err.Error())
		return err
	}
	if reason != "" {
		r.logger.Infow("Monitor skipped",
			"monitor_id", m.ID,
			"site", m.Site,
			"reason", string(reason),
		)
		r.writeLog(ctx, m, watch.StatusSkipped, reason, 0, 0, 0, r.now().Sub(start), "")
		return nil
	}

	// Circuit-protected scrape, keyed per user on auth-requiring sites.
	var listings []watch.Listing
	scrape := func() error {
		var scrapeErr error
		listings, scrapeErr = r.scraper.Scrape(ctx, m)
		return scrapeErr
	}
	if r.gate.SiteRequiresAuth(m.Site) {
		err = r.breaker.ExecuteForUser(m.Site, m.UserID, scrape)
	} else {
		err = r.breaker.Execute(m.Site, scrape)
	}
	if err != nil {
		if watch.IsAuthError(err) {
			// The breaker already ignored this; it is a session event.
			r.handleAuthFailure(ctx, ectx, err, start)
			return nil
		}
		r.writeLog(ctx, m, watch.StatusError, "", 0, 0, 0, r.now().Sub(start), err.Error())
		return err
	}

	// Dedup. Partial persistence failures are warnings, not run failures.
	newListings, dedupErr := r.dedup.Diff(ctx, m.ID, listings)
	if dedupErr != nil {
		r.logger.Warnw("Dedup finished with partial failures",
			"monitor_id", m.ID,
			"error", dedupErr,
		)
	}

	alerted := 0
	if m.AlertsEnabled && len(newListings) > 0 {
		alerted = r.alerts.Send(ctx, ectx, newListings)
	}

	// Exactly one quota increment per successful run, regardless of how
	// many listings were found.
	if err := r.quotas.Increment(ctx, ectx.Subscription.ID); err != nil {
		r.logger.Warnw("Failed to increment quota",
			"subscription_id", ectx.Subscription.ID,
			"error", err,
		)
	}

	duration := r.now().Sub(start)
	r.writeLog(ctx, m, watch.StatusSuccess, "", len(listings), len(newListings), alerted, duration, "")

	finished := r.now()
	if err := r.monitors.SetLastChecked(ctx, m.ID, finished); err != nil {
		r.logger.Warnw("Failed to update last_checked_at", "monitor_id", m.ID, "error", err)
	}
	if alerted > 0 {
		if err := r.monitors.SetLastAlert(ctx, m.ID, finished); err != nil {
			r.logger.Warnw("Failed to update last_alert_at", "monitor_id", m.ID, "error", err)
		}
	}

	r.logger.Infow("Monitor executed",
		"monitor_id", m.ID,
		"site", m.Site,
		"listings_found", len(listings),
		"new_listings", len(newListings),
		"alerts_sent", alerted,
		"duration", duration,
	)
	return nil
}

// handleAuthFailure converts an auth-class scrape error into a session-state
// mutation, a cooldown-gated user notification, and a SKIPPED log row.
func (r *Runner) handleAuthFailure(ctx context.Context, ectx *watch.ExecutionContext, authErr error, start time.Time) {
	m := ectx.Monitor

	notified, err := r.sessions.MarkNeedsReauth(ctx, m.UserID, m.Site, authErr.Error())
	if err != nil {
		r.logger.Errorw("Failed to mark session needs-reauth",
			"monitor_id", m.ID,
			"site", m.Site,
			"error", err,
		)
	} else if notified {
		ok := r.alerts.Notify(ctx, ectx.User, alert.Payload{
			Subject: fmt.Sprintf("Action needed: log in to %s again", m.Site),
			Body: fmt.Sprintf(
				"Your %s session is no longer valid, so your monitors there are paused. Log in again to resume them.",
				m.Site,
			),
		})
		r.logger.Infow("Reauth notification dispatched",
			"user_id", m.UserID,
			"site", m.Site,
			"delivered", ok,
		)
	}

	r.writeLog(ctx, m, watch.StatusSkipped, watch.ReasonAuthError, 0, 0, 0, r.now().Sub(start), authErr.Error())
}

func (r *Runner) writeLog(ctx context.Context, m watch.Monitor, status watch.ExecutionStatus, reason watch.SkipReason, found, fresh, alerted int, duration time.Duration, errMsg string) {
	logRow := watch.ExecutionLog{
		MonitorID:     m.ID,
		Status:        status,
		Reason:        reason,
		Error:         errMsg,
		ListingsFound: found,
		NewListings:   fresh,
		AlertsSent:    alerted,
		Duration:      duration,
		CreatedAt:     r.now(),
	}
	if err := r.logs.Create(ctx, logRow); err != nil {
		r.logger.Errorw("Failed to write execution log",
			"monitor_id", m.ID,
			"status", string(status),
			"error", err,
		)
	}
}
