// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package environment provides utilities for extracting configuration from environment variables
package environment

import (
	"os"
)

// GetNodeName returns the node name from NODE_NAME environment variable,
// falling back to hostname if not set.
func GetNodeName() (string, error) {
	nodeName := os.Getenv("NODE_NAME")
	if nodeName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return "", err
		}
		nodeName = hostname
	}
	return nodeName, nil
}

// GetUpstreamURL returns the upstream query API base URL from UPSTREAM_URL.
// Returns empty string if not set; callers apply their own default.
func GetUpstreamURL() string {
	return os.Getenv("UPSTREAM_URL")
}

// GetListenAddr returns the read API listen address from LISTEN_ADDR.
// Returns empty string if not set; callers apply their own default.
func GetListenAddr() string {
	return os.Getenv("LISTEN_ADDR")
}

// GetAlertLogPath returns the alert log path from ALERT_LOG_PATH.
// Returns empty string if not set; callers apply their own default.
func GetAlertLogPath() string {
	return os.Getenv("ALERT_LOG_PATH")
}
