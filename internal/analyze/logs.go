// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package analyze inspects each published snapshot for suspicious activity
// and raises alerts. Analyzers keep bounded sliding-window state between
// scans; they never block a refresh cycle.
package analyze

import (
	"fmt"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/momanyid/ids-v1/pkg/telemetry"
)

const (
	// bruteForceWindow is how far back auth failures count toward a streak.
	bruteForceWindow = 2 * time.Minute
	// bruteForceThreshold failures within the window raise an alert.
	bruteForceThreshold = 5
	// enumerationUsernames distinct usernames within a streak upgrade it to
	// a user enumeration alert.
	enumerationUsernames = 3
	// authFailureRetention bounds the tracking state.
	authFailureRetention = 5 * time.Minute
	// descriptionLimit truncates log content quoted in alert descriptions.
	descriptionLimit = 100
)

type patternRule struct {
	re        *regexp.Regexp
	alertType string
}

var suspiciousPatterns = []patternRule{
	{regexp.MustCompile(`(?i)Failed password for .* from`), "Authentication Failure"},
	{regexp.MustCompile(`(?i)Authentication failure`), "Authentication Failure"},
	{regexp.MustCompile(`(?i)POSSIBLE BREAK-IN ATTEMPT`), "Break-in Attempt"},
	{regexp.MustCompile(`(?i)Invalid user`), "Invalid User Access"},
	{regexp.MustCompile(`(?i)error: maximum authentication attempts exceeded`), "Brute Force Attempt"},
	{regexp.MustCompile(`(?i)refused connect from`), "Connection Refused"},
	{regexp.MustCompile(`(?i)segfault at`), "Application Crash"},
	{regexp.MustCompile(`(?i)denied.*SELinux`), "SELinux Denial"},
	{regexp.MustCompile(`(?i)firewall.*DROP`), "Firewall Drop"},
	{regexp.MustCompile(`(?i)sudo:.*COMMAND=`), "Privileged Command Execution"},
}

var (
	ipPattern       = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	usernamePattern = regexp.MustCompile(`user (\w+)`)
)

type authFailure struct {
	at       time.Time
	username string
}

// LogAnalyzer matches log content against known attack signatures and tracks
// authentication failure streaks per source IP.
type LogAnalyzer struct {
	authFailures map[string][]authFailure
}

func NewLogAnalyzer() *LogAnalyzer {
	return &LogAnalyzer{
		authFailures: make(map[string][]authFailure),
	}
}

// Analyze scans records and returns raised alerts. First matching pattern per
// record wins. Not safe for concurrent use; the engine serializes scans.
func (a *LogAnalyzer) Analyze(now time.Time, records []telemetry.LogRecord) []telemetry.Alert {
	if len(records) == 0 {
		return nil
	}

	var alerts []telemetry.Alert
	for _, record := range records {
		for _, rule := range suspiciousPatterns {
			if !rule.re.MatchString(record.Content) {
				continue
			}

			if rule.alertType == "Authentication Failure" {
				a.trackAuthFailure(now, record.Content)
			}

			alerts = append(alerts, telemetry.Alert{
				Timestamp:   now,
				Type:        rule.alertType,
				Severity:    telemetry.SeverityMedium,
				Source:      "system_logs:" + record.Source,
				Description: fmt.Sprintf("%s detected: %s", rule.alertType, truncate(record.Content, descriptionLimit)),
			})
			break
		}
	}

	alerts = append(alerts, a.detectBruteForce(now)...)
	a.cleanup(now.Add(-authFailureRetention))
	return alerts
}

func (a *LogAnalyzer) trackAuthFailure(now time.Time, content string) {
	ipMatch := ipPattern.FindString(content)
	if ipMatch == "" {
		return
	}

	username := "unknown"
	if m := usernamePattern.FindStringSubmatch(content); m != nil {
		username = m[1]
	}
	a.authFailures[ipMatch] = append(a.authFailures[ipMatch], authFailure{at: now, username: username})
}

// detectBruteForce raises one alert per IP with enough recent failures.
// Streaks spanning several usernames report as enumeration instead.
func (a *LogAnalyzer) detectBruteForce(now time.Time) []telemetry.Alert {
	var alerts []telemetry.Alert
	cutoff := now.Add(-bruteForceWindow)

	for ip, failures := range a.authFailures {
		recent := 0
		usernames := make(map[string]struct{})
		for _, f := range failures {
			if f.at.After(cutoff) {
				recent++
				usernames[f.username] = struct{}{}
			}
		}
		if recent < bruteForceThreshold {
			continue
		}

		alert := telemetry.Alert{
			Timestamp: now,
			Severity:  telemetry.SeverityHigh,
			Source:    "system_logs:auth",
		}
		if len(usernames) >= enumerationUsernames {
			alert.Type = "User Enumeration Attempt"
			alert.Description = fmt.Sprintf("IP %s attempted to authenticate as %d different users", ip, len(usernames))
		} else {
			alert.Type = "Brute Force Attempt"
			alert.Description = fmt.Sprintf("IP %s had %d authentication failures in 2 minutes", ip, recent)
		}
		alerts = append(alerts, alert)
	}
	return alerts
}

func (a *LogAnalyzer) cleanup(cutoff time.Time) {
	for ip, failures := range a.authFailures {
		kept := failures[:0]
		for _, f := range failures {
			if f.at.After(cutoff) {
				kept = append(kept, f)
			}
		}
		if len(kept) == 0 {
			delete(a.authFailures, ip)
		} else {
			a.authFailures[ip] = kept
		}
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
