// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package classify normalizes raw log records into the common severity/type
// shape. Classification is a pure transformation applied at the ingestion
// boundary: fields already present are never touched, so classifying twice is
// the same as classifying once.
package classify

import (
	"strings"

	"github.com/momanyid/ids-v1/pkg/telemetry"
)

// Record fills severity and type on r when absent, first matching rule wins.
// Fields that arrived populated are preserved untouched: this is
// normalization, not a mutation of external truth.
func Record(r telemetry.LogRecord) telemetry.LogRecord {
	if r.Severity == "" {
		r.Severity = severityFor(r.Content)
	}
	if r.Type == "" {
		r.Type = typeFor(r.Source)
	}
	return r
}

// Batch classifies every record into a new slice, leaving the input alone.
func Batch(records []telemetry.LogRecord) []telemetry.LogRecord {
	if records == nil {
		return nil
	}
	out := make([]telemetry.LogRecord, len(records))
	for i, r := range records {
		out[i] = Record(r)
	}
	return out
}

// severityFor derives severity from record content. Keyword precedence:
// "critical" beats "alert"/"warning" beats "notice"; anything else is low.
func severityFor(content string) telemetry.Severity {
	c := strings.ToLower(content)
	switch {
	case strings.Contains(c, "critical"):
		return telemetry.SeverityCritical
	case strings.Contains(c, "alert"), strings.Contains(c, "warning"):
		return telemetry.SeverityHigh
	case strings.Contains(c, "notice"):
		return telemetry.SeverityMedium
	default:
		return telemetry.SeverityLow
	}
}

// typeFor derives the record category from its source name.
func typeFor(source string) telemetry.LogType {
	s := strings.ToLower(source)
	switch {
	case strings.Contains(s, "ids"), strings.Contains(s, "snort"):
		return telemetry.LogTypeIntrusion
	case strings.Contains(s, "auth"):
		return telemetry.LogTypeAuthentication
	case strings.Contains(s, "fw"), strings.Contains(s, "firewall"):
		return telemetry.LogTypeFirewall
	default:
		return telemetry.LogTypeSystem
	}
}
