// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package query is the pure filter/sort/aggregate pipeline over a snapshot's
// log batch. Nothing here caches: dataset sizes are bounded by the fetch
// window, so every view is recomputed from the raw records on request.
package query

import (
	"sort"
	"strings"
	"time"

	"github.com/momanyid/ids-v1/pkg/telemetry"
)

// SortField selects the sort key for a view.
type SortField string

const (
	SortTimestamp SortField = "timestamp"
	SortSource    SortField = "source"
	SortSeverity  SortField = "severity"
)

// Order is the sort direction.
type Order string

const (
	Ascending  Order = "asc"
	Descending Order = "desc"
)

// Filter is an AND of its set fields: a case-insensitive substring match
// against source, content or type, and an exact severity selector.
type Filter struct {
	Text     string
	Severity telemetry.Severity
}

// severityRank is the fixed total order used as the severity sort key.
// Records with no severity rank after every known severity.
var severityRank = map[telemetry.Severity]int{
	telemetry.SeverityCritical: 0,
	telemetry.SeverityHigh:     1,
	telemetry.SeverityMedium:   2,
	telemetry.SeverityLow:      3,
}

const unknownRank = 4

func rankOf(s telemetry.Severity) int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return unknownRank
}

// Matches reports whether r passes the filter.
func (f Filter) Matches(r telemetry.LogRecord) bool {
	if f.Severity != "" && r.Severity != f.Severity {
		return false
	}
	if f.Text != "" {
		needle := strings.ToLower(f.Text)
		if !strings.Contains(strings.ToLower(r.Source), needle) &&
			!strings.Contains(strings.ToLower(r.Content), needle) &&
			!strings.Contains(strings.ToLower(string(r.Type)), needle) {
			return false
		}
	}
	return true
}

// View filters logs and returns them ordered by field/order. The input slice
// is never modified.
//
// Severity sorting uses the order critical < high < medium < low; records
// with no severity sort last in both directions. That asymmetry is
// deliberate: "unknown" is a data-quality marker, not a rank, so it stays out
// of the way whichever direction the operator sorts.
func View(logs []telemetry.LogRecord, f Filter, field SortField, order Order) []telemetry.LogRecord {
	out := make([]telemetry.LogRecord, 0, len(logs))
	for _, r := range logs {
		if f.Matches(r) {
			out = append(out, r)
		}
	}

	desc := order == Descending
	sort.SliceStable(out, func(i, j int) bool {
		switch field {
		case SortSource:
			if desc {
				return out[i].Source > out[j].Source
			}
			return out[i].Source < out[j].Source
		case SortSeverity:
			ri, rj := rankOf(out[i].Severity), rankOf(out[j].Severity)
			// Unknown pins to the tail regardless of direction.
			if ri == unknownRank || rj == unknownRank {
				return rj == unknownRank && ri != unknownRank
			}
			if desc {
				return ri > rj
			}
			return ri < rj
		default: // SortTimestamp
			if desc {
				return out[i].Timestamp.After(out[j].Timestamp)
			}
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
	})
	return out
}

// UserActivityEntry is one user-related event derived from a log record.
type UserActivityEntry struct {
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
	Activity  string    `json:"activity"`
	Details   string    `json:"details"`
}

// Activity kinds reported by UserActivity.
const (
	ActivityLogin          = "login"
	ActivityLogout         = "logout"
	ActivityAuthentication = "authentication"
	ActivityUserCreation   = "user_creation"
)

// UserActivity extracts user-related events (logins, logouts, authentication
// attempts, account creation) from the log batch, in record order. The input
// slice is never modified.
func UserActivity(logs []telemetry.LogRecord) []UserActivityEntry {
	var out []UserActivityEntry
	for _, r := range logs {
		kind := activityKind(r.Content)
		if kind == "" {
			continue
		}
		out = append(out, UserActivityEntry{
			Timestamp: r.Timestamp,
			User:      extractUser(r.Content),
			Activity:  kind,
			Details:   r.Content,
		})
	}
	return out
}

func activityKind(content string) string {
	lower := strings.ToLower(content)
	switch {
	case strings.Contains(lower, "login") || strings.Contains(lower, "logged in"):
		return ActivityLogin
	case strings.Contains(lower, "logout") || strings.Contains(lower, "logged out"):
		return ActivityLogout
	case strings.Contains(lower, "authentication"):
		return ActivityAuthentication
	case strings.Contains(lower, "user") &&
		(strings.Contains(lower, "created") || strings.Contains(lower, "added")):
		return ActivityUserCreation
	}
	return ""
}

// extractUser pulls the token following the first "user" mention, lowercased.
func extractUser(content string) string {
	_, after, ok := strings.Cut(strings.ToLower(content), "user")
	if !ok {
		return "unknown"
	}
	fields := strings.Fields(after)
	if len(fields) == 0 {
		return "unknown"
	}
	return fields[0]
}

// CountBySeverity tallies records per severity. Records with no severity are
// counted under the "unknown" bucket.
func CountBySeverity(logs []telemetry.LogRecord) map[telemetry.Severity]int {
	counts := make(map[telemetry.Severity]int)
	for _, r := range logs {
		sev := r.Severity
		if sev == "" {
			sev = telemetry.SeverityUnknown
		}
		counts[sev]++
	}
	return counts
}

// CountByType tallies records per normalized type. Records with no type are
// counted under "system", matching the classifier default.
func CountByType(logs []telemetry.LogRecord) map[telemetry.LogType]int {
	counts := make(map[telemetry.LogType]int)
	for _, r := range logs {
		typ := r.Type
		if typ == "" {
			typ = telemetry.LogTypeSystem
		}
		counts[typ]++
	}
	return counts
}
