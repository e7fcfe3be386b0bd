package dedup

import (
	"context"

	"go.uber.org/zap"

	"github.com/veyra/listwatch/errors"
	"github.com/veyra/listwatch/watch"
)

// Recorder is the persistence surface the deduplicator needs.
type Recorder interface {
	Record(ctx context.Context, monitorID string, listing watch.Listing) (isNew bool, err error)
	MarkAlertSent(ctx context.Context, monitorID, externalID string) error
}

// Deduplicator partitions freshly scraped listings into already-seen and new.
type Deduplicator struct {
	store  Recorder
	logger *zap.SugaredLogger
}

// New creates a deduplicator over a recorder.
func New(store Recorder, logger *zap.SugaredLogger) *Deduplicator {
	return &Deduplicator{store: store, logger: logger}
}

// Diff records every sighting and returns the listings never seen before for
// this monitor. Each listing is handled independently: a persistence failure
// on one listing is accumulated and the rest of the batch still processes.
// The returned error, if any, aggregates the per-item failures.
func (d *Deduplicator) Diff(ctx context.Context, monitorID string, listings []watch.Listing) ([]watch.Listing, error) {
	var newListings []watch.Listing
	var details []string

	for _, listing := range listings {
		isNew, err := d.store.Record(ctx, monitorID, listing)
		if err != nil {
			d.logger.Warnw("Failed to record listing sighting",
				"monitor_id", monitorID,
				"external_id", listing.ExternalID,
				"error", err,
			)
			details = append(details, listing.ExternalID+": "+err.Error())
			continue
		}
		if isNew {
			newListings = append(newListings, listing)
		}
	}

	if len(details) > 0 {
		err := errors.Newf("dedup: %d of %d listings failed to persist", len(details), len(listings))
		for _, detail := range details {
			err = errors.WithDetail(err, detail)
		}
		return newListings, err
	}
	return newListings, nil
}

// MarkAlertSent records that at least one alert channel delivered for this
// listing.
func (d *Deduplicator) MarkAlertSent(ctx context.Context, monitorID, externalID string) error {
	return d.store.MarkAlertSent(ctx, monitorID, externalID)
}
