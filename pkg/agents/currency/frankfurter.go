// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package currency

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	loomerr "github.com/loomhq/loom/pkg/errors"
	"github.com/loomhq/loom/pkg/resilience"
)

const defaultFrankfurterURL = "https://api.frankfurter.app"

// RateClient fetches exchange rates from the Frankfurter API.
type RateClient struct {
	baseURL string
	client  *http.Client
	retry   resilience.RetryConfig
}

// NewRateClient creates a RateClient. An empty baseURL selects the public
// Frankfurter endpoint.
func NewRateClient(baseURL string) *RateClient {
	if baseURL == "" {
		baseURL = defaultFrankfurterURL
	}
	return &RateClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		retry:   resilience.DefaultRetryConfig(),
	}
}

// GetRate returns the exchange rate document for one currency pair. date is
// either "latest" or YYYY-MM-DD.
func (c *RateClient) GetRate(ctx context.Context, from, to, date string) (map[string]any, error) {
	if date == "" {
		date = "latest"
	}

	u, err := url.Parse(c.baseURL + "/" + date)
	if err != nil {
		return nil, loomerr.New(loomerr.CodeInvalidParams, "invalid rate date", err).
			WithContext("date", date)
	}
	q := u.Query()
	q.Set("from", from)
	q.Set("to", to)
	u.RawQuery = q.Encode()

	return resilience.DoWithResult(ctx, c.retry, func(ctx context.Context) (map[string]any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, loomerr.New(loomerr.CodeInternal, "build rate request", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, loomerr.New(loomerr.CodeInternal, "rate api call failed", err).
				WithRecoverable(true)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, loomerr.New(loomerr.CodeInternal, "rate api returned non-OK status", nil).
				WithContext("status", resp.StatusCode).
				WithRecoverable(resp.StatusCode >= 500)
		}

		var doc map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
			return nil, loomerr.New(loomerr.CodeInternal, "decode rate response", err)
		}
		if _, ok := doc["rates"]; !ok {
			return nil, loomerr.New(loomerr.CodeInternal, "rate response has no rates", nil).
				WithContext("from", from).
				WithContext("to", to)
		}
		return doc, nil
	})
}
