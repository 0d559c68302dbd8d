// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package telemetry

import (
	"errors"
	"fmt"
)

// FetchErrorKind classifies why a source fetch failed.
type FetchErrorKind string

const (
	// FetchTimeout means the per-source budget elapsed before a response.
	FetchTimeout FetchErrorKind = "timeout"
	// FetchUnreachable means the connection itself failed (refused, DNS, reset).
	FetchUnreachable FetchErrorKind = "unreachable"
	// FetchBadResponse means a non-2xx status or a payload that did not decode.
	FetchBadResponse FetchErrorKind = "bad_response"
	// FetchUnauthorized means the upstream rejected our credentials.
	FetchUnauthorized FetchErrorKind = "unauthorized"
)

// FetchError is the value a source returns instead of raising: source failures
// never propagate as faults, the aggregator always receives a value and
// downgrades it to a LastError annotation on the affected slot.
type FetchError struct {
	Kind   FetchErrorKind
	Source SourceKind
	Detail string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s fetch %s: %s: %v", e.Source, e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s fetch %s: %s", e.Source, e.Kind, e.Detail)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError builds a FetchError for source with the given kind.
func NewFetchError(source SourceKind, kind FetchErrorKind, detail string, err error) *FetchError {
	return &FetchError{Kind: kind, Source: source, Detail: detail, Err: err}
}

// FetchKind extracts the failure kind from an error returned by a source.
// Errors that are not FetchErrors (recovered panics, cancellation) report as
// bad_response so the slot still records something actionable.
func FetchKind(err error) FetchErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return FetchBadResponse
}
