// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package sources implements the typed source clients for the upstream query
// API, one per endpoint kind, plus a local gopsutil-backed source for
// colocated deployments. All failures come back as *telemetry.FetchError
// values; nothing in this package raises through to the aggregator.
package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/momanyid/ids-v1/pkg/telemetry"
)

// maxErrorBodyBytes bounds how much of an error response body is kept as
// failure detail.
const maxErrorBodyBytes = 512

// client is the HTTP core shared by every upstream source.
type client struct {
	baseURL string
	httpc   *http.Client
}

func newClient(cfg telemetry.SourceConfig) client {
	cfg.ApplyDefaults()
	return client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpc:   &http.Client{Timeout: cfg.Timeout},
	}
}

// getJSON issues one GET against path and decodes the response into out.
// window > 0 adds the window=<seconds> query parameter. Transport, status and
// decode failures are classified into the FetchError taxonomy.
func (c client) getJSON(ctx context.Context, kind telemetry.SourceKind, path string, window time.Duration, out any) error {
	u := c.baseURL + path
	if window > 0 {
		q := url.Values{}
		q.Set("window", strconv.Itoa(int(window/time.Second)))
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return telemetry.NewFetchError(kind, telemetry.FetchBadResponse, "building request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return classifyTransportError(kind, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return telemetry.NewFetchError(kind, telemetry.FetchUnauthorized,
			fmt.Sprintf("upstream returned %d", resp.StatusCode), nil)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return telemetry.NewFetchError(kind, telemetry.FetchBadResponse,
			fmt.Sprintf("upstream returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return telemetry.NewFetchError(kind, telemetry.FetchBadResponse, "decoding response", err)
	}
	return nil
}

// classifyTransportError maps connection-level failures onto the taxonomy:
// deadline expiry is a timeout, everything else connection-shaped is
// unreachable.
func classifyTransportError(kind telemetry.SourceKind, err error) *telemetry.FetchError {
	if errors.Is(err, context.DeadlineExceeded) {
		return telemetry.NewFetchError(kind, telemetry.FetchTimeout, "request deadline exceeded", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return telemetry.NewFetchError(kind, telemetry.FetchTimeout, "request timed out", err)
	}
	return telemetry.NewFetchError(kind, telemetry.FetchUnreachable, "connecting to upstream", err)
}

// unixTime decodes a wire timestamp that may arrive either as unix seconds
// (integer or fractional) or as an RFC3339 string.
type unixTime struct {
	time.Time
}

func (t *unixTime) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var raw string
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("unsupported timestamp %q: %w", raw, err)
		}
		t.Time = parsed
		return nil
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return err
	}
	sec := int64(secs)
	nsec := int64((secs - float64(sec)) * float64(time.Second))
	t.Time = time.Unix(sec, nsec)
	return nil
}

// sortAscending orders a fetched series by timestamp so downstream consumers
// can rely on the strictly-increasing batch invariant even when the upstream
// misbehaves.
func sortAscending[T any](items []T, ts func(T) time.Time) {
	// Insertion sort: batches are small and usually already ordered.
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && ts(items[j]).Before(ts(items[j-1])); j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}
