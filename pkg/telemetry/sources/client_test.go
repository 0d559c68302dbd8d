// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momanyid/ids-v1/pkg/telemetry"
)

func testConfig(url string) telemetry.SourceConfig {
	return telemetry.SourceConfig{BaseURL: url, Timeout: 2 * time.Second}
}

func TestGetJSONErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		expected telemetry.FetchErrorKind
	}{
		{
			name: "401 maps to unauthorized",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
			expected: telemetry.FetchUnauthorized,
		},
		{
			name: "403 maps to unauthorized",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusForbidden)
			},
			expected: telemetry.FetchUnauthorized,
		},
		{
			name: "500 maps to bad response",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
			expected: telemetry.FetchBadResponse,
		},
		{
			name: "undecodable body maps to bad response",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Write([]byte("not json at all"))
			},
			expected: telemetry.FetchBadResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := newClient(testConfig(srv.URL))
			var out map[string]any
			err := c.getJSON(context.Background(), telemetry.SourceStatus, "/status", 0, &out)
			require.Error(t, err)
			assert.Equal(t, tt.expected, telemetry.FetchKind(err))

			var fe *telemetry.FetchError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, telemetry.SourceStatus, fe.Source)
		})
	}
}

func TestGetJSONUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // connection refused from here on

	c := newClient(testConfig(srv.URL))
	var out map[string]any
	err := c.getJSON(context.Background(), telemetry.SourceStatus, "/status", 0, &out)
	require.Error(t, err)
	assert.Equal(t, telemetry.FetchUnreachable, telemetry.FetchKind(err))
}

func TestGetJSONTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := newClient(telemetry.SourceConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	var out map[string]any
	err := c.getJSON(context.Background(), telemetry.SourceStatus, "/status", 0, &out)
	require.Error(t, err)
	assert.Equal(t, telemetry.FetchTimeout, telemetry.FetchKind(err))
}

func TestGetJSONDeadlineExceeded(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := newClient(testConfig(srv.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var out map[string]any
	err := c.getJSON(ctx, telemetry.SourceStatus, "/status", 0, &out)
	require.Error(t, err)
	assert.Equal(t, telemetry.FetchTimeout, telemetry.FetchKind(err))
}

func TestGetJSONWindowParameter(t *testing.T) {
	var gotWindow string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotWindow = r.URL.Query().Get("window")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newClient(testConfig(srv.URL))
	var out map[string]any
	require.NoError(t, c.getJSON(context.Background(), telemetry.SourceMetrics, "/metrics", time.Minute, &out))
	assert.Equal(t, "60", gotWindow)

	require.NoError(t, c.getJSON(context.Background(), telemetry.SourceMetrics, "/metrics", 0, &out))
	assert.Empty(t, gotWindow, "zero window must not add the parameter")
}

func TestUnixTimeDecodesBothFormats(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected time.Time
	}{
		{
			name:     "integer unix seconds",
			raw:      `1770000000`,
			expected: time.Unix(1770000000, 0),
		},
		{
			name:     "fractional unix seconds",
			raw:      `1770000000.5`,
			expected: time.Unix(1770000000, 500000000),
		},
		{
			name:     "rfc3339 string",
			raw:      `"2026-02-10T12:30:00Z"`,
			expected: time.Date(2026, 2, 10, 12, 30, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts unixTime
			require.NoError(t, ts.UnmarshalJSON([]byte(tt.raw)))
			assert.True(t, ts.Time.Equal(tt.expected), "got %v want %v", ts.Time, tt.expected)
		})
	}
}

func TestUnixTimeRejectsGarbage(t *testing.T) {
	var ts unixTime
	assert.Error(t, ts.UnmarshalJSON([]byte(`"yesterday"`)))
}

func TestLogsSourceClassifiesAndSorts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/logs", r.URL.Path)
		// Out of order on purpose; the second record arrives pre-classified.
		w.Write([]byte(`[
			{"timestamp": 1770000060, "source": "auth", "content": "warning: failed login"},
			{"timestamp": 1770000000, "source": "ids", "content": "plain line", "severity": "critical", "type": "firewall"}
		]`))
	}))
	defer srv.Close()

	src, err := NewLogsSource(testr.New(t), testConfig(srv.URL))
	require.NoError(t, err)

	payload, err := src.Fetch(context.Background(), time.Hour)
	require.NoError(t, err)
	records, ok := payload.([]telemetry.LogRecord)
	require.True(t, ok)
	require.Len(t, records, 2)

	// Ascending by timestamp.
	assert.True(t, records[0].Timestamp.Before(records[1].Timestamp))

	// Pre-set fields survive, absent ones get classified.
	assert.Equal(t, telemetry.SeverityCritical, records[0].Severity)
	assert.Equal(t, telemetry.LogTypeFirewall, records[0].Type)
	assert.Equal(t, telemetry.SeverityHigh, records[1].Severity)
	assert.Equal(t, telemetry.LogTypeAuthentication, records[1].Type)
}

func TestMetricsSourceDecodesOptionalFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/metrics", r.URL.Path)
		w.Write([]byte(`[
			{"timestamp": 1770000000, "cpu_percent": 55.5, "memory_percent": 40.0,
			 "load": {"1m": 0.5, "5m": 0.4, "15m": 0.3}, "swap_percent": 2.5,
			 "process_count": 120},
			{"timestamp": 1770000015, "cpu_percent": 60.0, "memory_percent": 41.0}
		]`))
	}))
	defer srv.Close()

	src, err := NewMetricsSource(testr.New(t), testConfig(srv.URL))
	require.NoError(t, err)

	payload, err := src.Fetch(context.Background(), time.Minute)
	require.NoError(t, err)
	samples, ok := payload.([]telemetry.MetricSample)
	require.True(t, ok)
	require.Len(t, samples, 2)

	require.NotNil(t, samples[0].Load)
	assert.Equal(t, 0.5, samples[0].Load.Load1)
	require.NotNil(t, samples[0].SwapPercent)
	assert.Equal(t, 2.5, *samples[0].SwapPercent)

	// Absent optional fields stay nil: no data is not a measured zero.
	assert.Nil(t, samples[1].Load)
	assert.Nil(t, samples[1].SwapPercent)
}

func TestStatusSourceFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status", r.URL.Path)
		w.Write([]byte(`{"status": "running", "uptime": 3600, "last_update": "2026-02-10T12:00:00Z"}`))
	}))
	defer srv.Close()

	src, err := NewStatusSource(testr.New(t), testConfig(srv.URL))
	require.NoError(t, err)

	payload, err := src.Fetch(context.Background(), 0)
	require.NoError(t, err)
	info, ok := payload.(*telemetry.StatusInfo)
	require.True(t, ok)
	assert.Equal(t, "running", info.Status)
	assert.EqualValues(t, 3600, info.Uptime)
}
