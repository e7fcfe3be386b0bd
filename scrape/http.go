// Package scrape is the engine's client for the external scraper service.
// The service owns browsers, sessions, and site-specific parsing; the
// engine only asks it for listings.
package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/veyra/listwatch/errors"
	"github.com/veyra/listwatch/watch"
)

// HTTPScraper calls the scraper service over HTTP.
type HTTPScraper struct {
	baseURL string
	client  *http.Client
}

// NewHTTPScraper creates a scraper client.
func NewHTTPScraper(baseURL string, timeout time.Duration) *HTTPScraper {
	return &HTTPScraper{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type scrapeRequest struct {
	MonitorID string          `json:"monitor_id"`
	UserID    string          `json:"user_id"`
	Site      string          `json:"site"`
	Query     json.RawMessage `json:"query"`
}

type scrapeResponse struct {
	Listings []watch.Listing `json:"listings"`
	// AuthError is set when the site rejected the user's session.
	AuthError string `json:"auth_error,omitempty"`
}

// Scrape requests listings for one monitor. A session rejection reported
// by the service surfaces as a watch.AuthError so the engine routes it to
// the session-failure path instead of the circuit breaker.
func (s *HTTPScraper) Scrape(ctx context.Context, m watch.Monitor) ([]watch.Listing, error) {
	query := json.RawMessage(m.Query)
	if len(query) == 0 {
		query = json.RawMessage("{}")
	}
	body, err := json.Marshal(scrapeRequest{
		MonitorID: m.ID,
		UserID:    m.UserID,
		Site:      m.Site,
		Query:     query,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal scrape request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/scrape", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build scrape request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "scrape %s for monitor %s", m.Site, m.ID)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, watch.NewAuthError(m.Site, m.UserID, "scraper reported session rejected", nil)
	default:
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Newf("scraper returned %d for monitor %s: %s",
			resp.StatusCode, m.ID, string(payload))
	}

	var out scrapeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "decode scrape response")
	}
	if out.AuthError != "" {
		return nil, watch.NewAuthError(m.Site, m.UserID, out.AuthError, nil)
	}
	return out.Listings, nil
}
