// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package telemetry

import (
	"context"
	"time"

	"github.com/go-logr/logr"
)

// Source is a typed accessor for one upstream data source.
//
// Fetch issues a single query. window bounds the query to [now-window, now];
// zero means "current/latest state only" (status, summaries). Implementations
// must be safe for concurrent calls, must not share mutable state across
// calls, and must return failures as *FetchError values rather than panicking
// through to the caller.
type Source interface {
	Kind() SourceKind
	Name() string
	Fetch(ctx context.Context, window time.Duration) (any, error)
}

// SourceConfig carries everything a source factory needs to build a source.
type SourceConfig struct {
	// BaseURL of the upstream query API, e.g. "http://127.0.0.1:5000/api".
	BaseURL string
	// Timeout bounds a single fetch end to end. The aggregator additionally
	// applies its own per-call context deadline.
	Timeout time.Duration
}

// ApplyDefaults fills unset fields with their defaults.
func (c *SourceConfig) ApplyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://127.0.0.1:5000/api"
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
}

// NewSource is a factory that builds a source instance with the provided
// logger and configuration.
type NewSource func(logger logr.Logger, config SourceConfig) (Source, error)

// BaseSource carries the identity shared by all source implementations.
type BaseSource struct {
	kind   SourceKind
	name   string
	Logger logr.Logger
}

func NewBaseSource(kind SourceKind, name string, logger logr.Logger) BaseSource {
	return BaseSource{
		kind:   kind,
		name:   name,
		Logger: logger.WithName(string(kind)),
	}
}

func (b *BaseSource) Kind() SourceKind {
	return b.kind
}

func (b *BaseSource) Name() string {
	return b.name
}
