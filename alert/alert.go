// Package alert fans new-listing events out to a user's configured
// notification channels, tracking per-channel success independently.
package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/veyra/listwatch/watch"
)

// Payload is one rendered notification.
type Payload struct {
	Subject string
	Body    string
	URL     string
}

// Channel delivers payloads to one kind of target (telegram chat, email
// address, push token). Implementations live outside the engine.
type Channel interface {
	Name() string
	Send(ctx context.Context, target string, payload Payload) error
}

// Marker persists the alert-sent flag for a listing once at least one
// channel delivered it.
type Marker interface {
	MarkAlertSent(ctx context.Context, monitorID, externalID string) error
}

// Dispatcher sends alerts across all channels with a target for the user.
// Pacing between consecutive sends is per channel; one slow or rate-limited
// channel never blocks the others.
type Dispatcher struct {
	channels []Channel
	limiters map[string]*rate.Limiter
	marker   Marker
	logger   *zap.SugaredLogger
}

// NewDispatcher creates a dispatcher. channelDelay is the minimum spacing
// between consecutive sends on the same channel.
func NewDispatcher(channels []Channel, marker Marker, channelDelay time.Duration, logger *zap.SugaredLogger) *Dispatcher {
	limiters := make(map[string]*rate.Limiter, len(channels))
	for _, ch := range channels {
		limiters[ch.Name()] = rate.NewLimiter(rate.Every(channelDelay), 1)
	}
	return &Dispatcher{
		channels: channels,
		limiters: limiters,
		marker:   marker,
		logger:   logger,
	}
}

// targetsFor maps channel names to the user's configured addresses.
func targetsFor(user watch.UserSummary) map[string]string {
	targets := make(map[string]string, 3)
	if user.TelegramChatID != "" {
		targets["telegram"] = user.TelegramChatID
	}
	if user.Email != "" {
		targets["email"] = user.Email
	}
	if user.PushToken != "" {
		targets["push"] = user.PushToken
	}
	return targets
}

// BuildPayload renders the notification for one new listing.
func BuildPayload(monitor watch.Monitor, listing watch.Listing) Payload {
	return Payload{
		Subject: fmt.Sprintf("New listing: %s", listing.Title),
		Body:    fmt.Sprintf("%s - %s\n%s", listing.Title, listing.Price, listing.URL),
		URL:     listing.URL,
	}
}

// Send attempts delivery of every new listing on every channel the user has
// a target for. A failure on one channel neither blocks the other channels
// for the same listing nor aborts later listings. Returns how many listings
// had at least one successful delivery; those are persisted as alerted.
func (d *Dispatcher) Send(ctx context.Context, ectx *watch.ExecutionContext, newListings []watch.Listing) int {
	if len(newListings) == 0 {
		return 0
	}

	targets := targetsFor(ectx.User)
	active := make([]Channel, 0, len(d.channels))
	for _, ch := range d.channels {
		if _, ok := targets[ch.Name()]; ok {
			active = append(active, ch)
		}
	}
	if len(active) == 0 {
		d.logger.Warnw("No notification channel configured, skipping alerts",
			"monitor_id", ectx.Monitor.ID,
			"user_id", ectx.User.ID,
			"new_listings", len(newListings),
		)
		return 0
	}

	// delivered[i] is set once any channel succeeds for newListings[i].
	var mu sync.Mutex
	delivered := make([]bool, len(newListings))

	var wg sync.WaitGroup
	for _, ch := range active {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			target := targets[ch.Name()]
			limiter := d.limiters[ch.Name()]

			for i, listing := range newListings {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				payload := BuildPayload(ectx.Monitor, listing)
				if err := ch.Send(ctx, target, payload); err != nil {
					d.logger.Warnw("Alert delivery failed",
						"channel", ch.Name(),
						"monitor_id", ectx.Monitor.ID,
						"external_id", listing.ExternalID,
						"error", err,
					)
					continue
				}
				mu.Lock()
				delivered[i] = true
				mu.Unlock()
			}
		}(ch)
	}
	wg.Wait()

	sent := 0
	for i, ok := range delivered {
		if !ok {
			continue
		}
		sent++
		if d.marker != nil {
			if err := d.marker.MarkAlertSent(ctx, ectx.Monitor.ID, newListings[i].ExternalID); err != nil {
				d.logger.Warnw("Failed to persist alert-sent flag",
					"monitor_id", ectx.Monitor.ID,
					"external_id", newListings[i].ExternalID,
					"error", err,
				)
			}
		}
	}
	return sent
}

// Notify delivers a one-off payload (e.g. a reauth request) to every channel
// the user has a target for. Returns true if any channel succeeded.
func (d *Dispatcher) Notify(ctx context.Context, user watch.UserSummary, payload Payload) bool {
	targets := targetsFor(user)
	ok := false
	for _, ch := range d.channels {
		target, configured := targets[ch.Name()]
		if !configured {
			continue
		}
		if err := ch.Send(ctx, target, payload); err != nil {
			d.logger.Warnw("Notification delivery failed",
				"channel", ch.Name(),
				"user_id", user.ID,
				"error", err,
			)
			continue
		}
		ok = true
	}
	return ok
}
