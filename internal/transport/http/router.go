package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"vigil/internal/eventlog"
	"vigil/internal/ledger"
	"vigil/internal/logger"
	"vigil/internal/monitor"
	"vigil/internal/reconcile"
)

// LedgerReader is the read side of the position ledger.
type LedgerReader interface {
	ListOpen(ctx context.Context) ([]ledger.PositionRecord, error)
	RecentClosed(ctx context.Context, limit int) ([]ledger.PositionRecord, error)
}

// MonitorDirectory exposes the live monitors and accepts new watches.
type MonitorDirectory interface {
	Snapshots() []monitor.Snapshot
	Watch(ctx context.Context, rec *ledger.PositionRecord) error
}

// ReconcileStatus reports the last reconcile pass.
type ReconcileStatus interface {
	LastSummary() *reconcile.Summary
}

// EventReader lists recent notification events.
type EventReader interface {
	Recent(ctx context.Context, q eventlog.Query) ([]eventlog.Record, error)
}

// Router holds the /api handlers.
type Router struct {
	ledger     LedgerReader
	monitors   MonitorDirectory
	reconciler ReconcileStatus
	events     EventReader
}

func NewRouter(led LedgerReader, mons MonitorDirectory, rec ReconcileStatus, events EventReader) *Router {
	return &Router{ledger: led, monitors: mons, reconciler: rec, events: events}
}

// Register mounts the handlers under the given group.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/positions", r.handlePositions)
	group.GET("/monitors", r.handleMonitors)
	group.GET("/reconcile/last", r.handleReconcileLast)
	group.GET("/events", r.handleEvents)
	group.POST("/watch", r.handleWatch)
}

func (r *Router) handlePositions(c *gin.Context) {
	ctx := c.Request.Context()
	open, err := r.ledger.ListOpen(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("closed_limit", "20"))
	closed, err := r.ledger.RecentClosed(ctx, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"open": open, "closed": closed})
}

func (r *Router) handleMonitors(c *gin.Context) {
	snaps := r.monitors.Snapshots()
	c.JSON(http.StatusOK, gin.H{"monitors": snaps, "count": len(snaps)})
}

func (r *Router) handleReconcileLast(c *gin.Context) {
	if r.reconciler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reconciler not enabled"})
		return
	}
	summary := r.reconciler.LastSummary()
	if summary == nil {
		c.JSON(http.StatusOK, gin.H{"summary": nil, "message": "no pass completed yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

func (r *Router) handleEvents(c *gin.Context) {
	if r.events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event log not enabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	q := eventlog.Query{
		Symbol: c.Query("symbol"),
		Type:   c.Query("type"),
		Limit:  limit,
	}
	records, err := r.events.Recent(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": records})
}

// WatchRequest registers a freshly filled entry for monitoring.
type WatchRequest struct {
	Symbol       string  `json:"symbol" binding:"required"`
	Side         string  `json:"side"`
	Quantity     float64 `json:"quantity" binding:"required"`
	EntryPrice   float64 `json:"entry_price" binding:"required"`
	EntryOrderID string  `json:"entry_order_id"`
	StopPrice    float64 `json:"stop_price"`
	TargetPrice  float64 `json:"target_price"`
	Rationale    string  `json:"rationale"`
}

func (r *Router) handleWatch(c *gin.Context) {
	var req WatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	side := strings.ToLower(strings.TrimSpace(req.Side))
	if side == "" {
		side = "long"
	}
	if side != "long" && side != "short" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "side must be long or short"})
		return
	}
	if req.Quantity <= 0 || req.EntryPrice <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "quantity and entry_price must be positive"})
		return
	}

	rec := &ledger.PositionRecord{
		Symbol:       strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Side:         side,
		Quantity:     req.Quantity,
		EntryPrice:   req.EntryPrice,
		EntryVolume:  req.Quantity * req.EntryPrice,
		EntryAt:      time.Now().UTC(),
		EntryReason:  req.Rationale,
		EntryOrderID: req.EntryOrderID,
		StopPrice:    req.StopPrice,
		TargetPrice:  req.TargetPrice,
	}
	if err := r.monitors.Watch(c.Request.Context(), rec); err != nil {
		logger.Warnf("[api] watch %s rejected: %v", rec.Symbol, err)
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] watching %s %s qty=%.6f entry=%.6f ip=%s",
		rec.Symbol, rec.Side, rec.Quantity, rec.EntryPrice, c.ClientIP())
	c.JSON(http.StatusCreated, gin.H{"status": "watching", "symbol": rec.Symbol})
}
