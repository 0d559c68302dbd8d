// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package server exposes the dashboard read API over HTTP plus a websocket
// stream of live events. Handlers only read published snapshots and analyzer
// state; nothing here blocks a refresh cycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"

	"github.com/momanyid/ids-v1/pkg/telemetry"
	"github.com/momanyid/ids-v1/pkg/telemetry/query"
)

// SnapshotProvider serves the most recently published snapshot.
type SnapshotProvider interface {
	Snapshot() *telemetry.Snapshot
}

// Refresher triggers and reports on scheduled refresh contexts.
type Refresher interface {
	Kick(name string) error
	Skipped(name string) uint64
}

// AlertStore serves locally raised alerts and their aggregates.
type AlertStore interface {
	Alerts() []telemetry.Alert
	ThreatSummary() telemetry.ThreatSummary
}

// AlertSummarizer serves running alert totals since startup.
type AlertSummarizer interface {
	Summary() telemetry.AlertSummary
}

// Config carries the server's listen settings.
type Config struct {
	ListenAddr string
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
}

// Server is the HTTP read surface.
type Server struct {
	logger    logr.Logger
	config    Config
	snapshots SnapshotProvider
	refresher Refresher
	alerts    AlertStore
	summary   AlertSummarizer
	hub       *Hub
	contexts  []string
	started   time.Time
}

func New(logger logr.Logger, config Config, snapshots SnapshotProvider, refresher Refresher,
	alerts AlertStore, summary AlertSummarizer, hub *Hub, contexts []string) (*Server, error) {
	if logger.GetSink() == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if snapshots == nil {
		return nil, fmt.Errorf("snapshot provider is required")
	}
	config.applyDefaults()

	return &Server{
		logger:    logger.WithName("server"),
		config:    config,
		snapshots: snapshots,
		refresher: refresher,
		alerts:    alerts,
		summary:   summary,
		hub:       hub,
		contexts:  contexts,
		started:   time.Now(),
	}, nil
}

// Handler builds the route tree. Exposed separately from Run so the routes
// can be exercised in-process.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	s.registerRoutes(router)
	return router
}

// Run serves until ctx is cancelled, then drains with a short shutdown grace
// period.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("serving read API", "addr", s.config.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/snapshot", s.handleSnapshot)
	api.GET("/logs", s.handleLogs)
	api.GET("/logs/aggregate", s.handleLogsAggregate)
	api.GET("/user-activity", s.handleUserActivity)
	api.GET("/alerts", s.handleAlerts)
	api.GET("/alerts/summary", s.handleAlertsSummary)
	api.GET("/threats/summary", s.handleThreatsSummary)
	api.GET("/analytics", s.handleAnalytics)
	api.POST("/refresh/:context", s.handleRefresh)
	if s.hub != nil {
		api.GET("/ws", s.hub.Serve)
	}
}

// slotStatus is the per-source health view in the status payload.
type slotStatus struct {
	Available bool       `json:"available"`
	Reason    string     `json:"reason,omitempty"`
	Populated bool       `json:"populated"`
	Stale     bool       `json:"stale"`
	FetchedAt *time.Time `json:"fetched_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	Failures  int        `json:"failures"`
}

func (s *Server) handleStatus(c *gin.Context) {
	snap := s.snapshots.Snapshot()

	sources := make(map[string]slotStatus, len(telemetry.AllSourceKinds()))
	for _, kind := range telemetry.AllSourceKinds() {
		available, reason := telemetry.SourceAvailability(kind)
		slot := snap.Slot(kind)

		st := slotStatus{
			Available: available,
			Populated: slot.Populated(),
			Stale:     slot.Stale(),
			Failures:  slot.Failures,
		}
		if !available {
			st.Reason = reason
		}
		if slot.Populated() {
			fetched := slot.FetchedAt
			st.FetchedAt = &fetched
		}
		if slot.LastError != nil {
			st.LastError = slot.LastError.Error()
		}
		sources[string(kind)] = st
	}

	skipped := make(map[string]uint64, len(s.contexts))
	if s.refresher != nil {
		for _, name := range s.contexts {
			skipped[name] = s.refresher.Skipped(name)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "running",
		"uptime":        int64(time.Since(s.started).Seconds()),
		"last_update":   snap.Taken,
		"sources":       sources,
		"skipped_ticks": skipped,
	})
}

func (s *Server) handleSnapshot(c *gin.Context) {
	snap := s.snapshots.Snapshot()

	slots := make(map[string]any, len(snap.Slots))
	for kind, slot := range snap.Slots {
		if slot.Populated() {
			slots[string(kind)] = slot.Payload
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"taken": snap.Taken,
		"slots": slots,
	})
}

func (s *Server) handleLogs(c *gin.Context) {
	snap := s.snapshots.Snapshot()
	if !snap.Slot(telemetry.SourceLogs).Populated() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no log data yet"})
		return
	}

	filter := query.Filter{
		Text:     c.Query("q"),
		Severity: telemetry.Severity(c.Query("severity")),
	}
	field := query.SortField(c.DefaultQuery("sort", string(query.SortTimestamp)))
	order := query.Order(c.DefaultQuery("order", string(query.Descending)))

	switch field {
	case query.SortTimestamp, query.SortSource, query.SortSeverity:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown sort field %q", field)})
		return
	}
	switch order {
	case query.Ascending, query.Descending:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown order %q", order)})
		return
	}

	logs := query.View(snap.Logs(), filter, field, order)
	c.JSON(http.StatusOK, gin.H{
		"total": len(logs),
		"logs":  logs,
	})
}

func (s *Server) handleLogsAggregate(c *gin.Context) {
	snap := s.snapshots.Snapshot()
	if !snap.Slot(telemetry.SourceLogs).Populated() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no log data yet"})
		return
	}

	logs := snap.Logs()
	c.JSON(http.StatusOK, gin.H{
		"total":       len(logs),
		"by_severity": query.CountBySeverity(logs),
		"by_type":     query.CountByType(logs),
	})
}

func (s *Server) handleUserActivity(c *gin.Context) {
	snap := s.snapshots.Snapshot()
	if !snap.Slot(telemetry.SourceLogs).Populated() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no log data yet"})
		return
	}

	activity := query.UserActivity(snap.Logs())
	c.JSON(http.StatusOK, gin.H{
		"total":    len(activity),
		"activity": activity,
	})
}

func (s *Server) handleAlerts(c *gin.Context) {
	if s.alerts == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "analyzer disabled"})
		return
	}
	alerts := s.alerts.Alerts()
	c.JSON(http.StatusOK, gin.H{
		"total":  len(alerts),
		"alerts": alerts,
	})
}

func (s *Server) handleAlertsSummary(c *gin.Context) {
	if s.summary == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert log disabled"})
		return
	}
	c.JSON(http.StatusOK, s.summary.Summary())
}

func (s *Server) handleThreatsSummary(c *gin.Context) {
	if s.alerts == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "analyzer disabled"})
		return
	}
	c.JSON(http.StatusOK, s.alerts.ThreatSummary())
}

func (s *Server) handleAnalytics(c *gin.Context) {
	snap := s.snapshots.Snapshot()
	bundle := snap.Analytics()
	if bundle == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no analytics data yet"})
		return
	}
	c.JSON(http.StatusOK, bundle)
}

func (s *Server) handleRefresh(c *gin.Context) {
	if s.refresher == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "scheduler disabled"})
		return
	}

	name := c.Param("context")
	if err := s.refresher.Kick(name); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"context": name, "refresh": "requested"})
}
