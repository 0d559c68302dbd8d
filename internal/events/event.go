// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package events is the in-process event bus connecting the refresh engine to
// its consumers (debug logging, the alert log, the websocket stream).
package events

import (
	"time"

	"github.com/momanyid/ids-v1/pkg/telemetry"
)

// Kind identifies what happened.
type Kind string

const (
	// KindSnapshotUpdated fires after a refresh cycle publishes a new snapshot.
	KindSnapshotUpdated Kind = "snapshot_updated"
	// KindAlertRaised fires once per alert the analyzers raise.
	KindAlertRaised Kind = "alert_raised"
)

// Event is one bus message. Exactly one of Snapshot or Alert is set,
// depending on Kind.
type Event struct {
	Timestamp time.Time
	Kind      Kind
	// Context names the view context whose cycle produced the event.
	Context string
	// Source names the component that emitted the event.
	Source string

	Snapshot *telemetry.Snapshot
	Alert    *telemetry.Alert
}
