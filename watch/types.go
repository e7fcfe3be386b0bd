// Package watch defines the core domain types and repository contracts for
// the monitor execution engine.
package watch

import (
	"time"
)

// Listing is one raw classified-ad listing as returned by a site scraper.
type Listing struct {
	ExternalID string `json:"external_id"`
	Title      string `json:"title"`
	Price      string `json:"price"`
	URL        string `json:"url"`
}

// Monitor is a saved watch against one marketplace site. Monitors are created
// and deleted by the application layer; the engine only mutates
// LastCheckedAt and LastAlertAt.
type Monitor struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Site          string     `json:"site"`
	Query         string     `json:"query"` // site-specific query parameters, JSON encoded
	Active        bool       `json:"active"`
	AlertsEnabled bool       `json:"alerts_enabled"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	LastAlertAt   *time.Time `json:"last_alert_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// UserSummary carries the slice of user state the engine needs: identity and
// notification targets. Assembled once per execution, never loaded mid-run.
type UserSummary struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	TelegramChatID string `json:"telegram_chat_id"`
	PushToken      string `json:"push_token"`
}

// Subscription is the per-user quota snapshot read at execution time.
type Subscription struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	Status       string `json:"status"`
	QueriesUsed  int    `json:"queries_used"`
	QueriesLimit int    `json:"queries_limit"`
}

// Usable reports whether the subscription allows another monitor execution.
func (s *Subscription) Usable() bool {
	return s != nil && s.Status == "active" && s.QueriesUsed < s.QueriesLimit
}

// ExecutionContext bundles everything one monitor execution needs. It is
// assembled once at the dispatch boundary so lower layers never re-query
// user or subscription state.
type ExecutionContext struct {
	Monitor      Monitor
	User         UserSummary
	Subscription *Subscription
}

// SessionStatus is the lifecycle state of a stored site session.
type SessionStatus string

const (
	SessionActive      SessionStatus = "ACTIVE"
	SessionNeedsReauth SessionStatus = "NEEDS_REAUTH"
	SessionExpired     SessionStatus = "EXPIRED"
	SessionInvalid     SessionStatus = "INVALID"
)

// NeedsAction reports whether the session requires user intervention before
// it can be used for scraping.
func (s SessionStatus) NeedsAction() bool {
	switch s {
	case SessionNeedsReauth, SessionExpired, SessionInvalid:
		return true
	default:
		return false
	}
}

// SessionState is the stored authentication state for one (user, site) pair.
type SessionState struct {
	UserID               string        `json:"user_id"`
	Site                 string        `json:"site"`
	Status               SessionStatus `json:"status"`
	LastReauthNotifiedAt *time.Time    `json:"last_reauth_notified_at,omitempty"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// ExecutionStatus is the terminal status of one monitor execution.
type ExecutionStatus string

const (
	StatusSuccess ExecutionStatus = "SUCCESS"
	StatusError   ExecutionStatus = "ERROR"
	StatusSkipped ExecutionStatus = "SKIPPED"
)

// SkipReason explains why an execution was skipped without being an error.
type SkipReason string

const (
	ReasonSessionRequired SkipReason = "SESSION_REQUIRED"
	ReasonNeedsReauth     SkipReason = "NEEDS_REAUTH"
	ReasonAuthError       SkipReason = "AUTH_ERROR"
)

// ExecutionLog is one row of execution history for a monitor.
type ExecutionLog struct {
	MonitorID     string          `json:"monitor_id"`
	Status        ExecutionStatus `json:"status"`
	Reason        SkipReason      `json:"reason,omitempty"`
	Error         string          `json:"error,omitempty"`
	ListingsFound int             `json:"listings_found"`
	NewListings   int             `json:"new_listings"`
	AlertsSent    int             `json:"alerts_sent"`
	Duration      time.Duration   `json:"duration"`
	CreatedAt     time.Time       `json:"created_at"`
}
