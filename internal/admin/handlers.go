package admin

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/fraudwatch/internal/auth"
	"github.com/mbd888/fraudwatch/internal/blacklist"
	"github.com/mbd888/fraudwatch/internal/metrics"
	"github.com/mbd888/fraudwatch/internal/risk"
	"github.com/mbd888/fraudwatch/internal/validation"
)

// Handler provides admin HTTP endpoints.
type Handler struct {
	blacklist *blacklist.Index
	graph     FraudGraph
	networks  NetworkAdmin
	analytics AnalyticsSource
	queue     QueueSource
	announcer Announcer
	logger    *slog.Logger
	started   time.Time
	now       func() time.Time
}

// NewHandler creates an admin handler over the engine's blacklist.
func NewHandler(bl *blacklist.Index, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		blacklist: bl,
		logger:    logger,
		started:   time.Now(),
		now:       time.Now,
	}
}

// WithGraph sets the fraud graph for network reports.
func (h *Handler) WithGraph(g FraudGraph) *Handler {
	h.graph = g
	return h
}

// WithNetworks sets the IP network registry.
func (h *Handler) WithNetworks(n NetworkAdmin) *Handler {
	h.networks = n
	return h
}

// WithAnalytics sets the transaction aggregate source.
func (h *Handler) WithAnalytics(a AnalyticsSource) *Handler {
	h.analytics = a
	return h
}

// WithQueue sets the review queue source for status reports.
func (h *Handler) WithQueue(q QueueSource) *Handler {
	h.queue = q
	return h
}

// WithAnnouncer sets the realtime hub used for broadcasts.
func (h *Handler) WithAnnouncer(a Announcer) *Handler {
	h.announcer = a
	return h
}

// RegisterRoutes sets up admin routes. The caller is responsible for
// gating r with auth.RequireAdmin.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/admin/blacklist", h.listBlacklist)
	r.GET("/admin/blacklist/counts", h.blacklistCounts)
	r.POST("/admin/blacklist", h.addBlacklist)
	r.DELETE("/admin/blacklist", h.clearBlacklist)
	r.DELETE("/admin/blacklist/:type/:value", h.removeBlacklist)

	r.GET("/admin/networks", h.listNetworks)
	r.GET("/admin/networks/:ip", h.getNetwork)
	r.POST("/admin/networks/:ip/flag", h.flagNetwork)
	r.POST("/admin/networks/:ip/unflag", h.unflagNetwork)

	r.GET("/admin/graph/stats", h.graphStats)
	r.GET("/admin/graph/rings", h.graphRings)
	r.GET("/admin/graph/linked", h.graphLinked)
	r.GET("/admin/graph/users/:userId/ring", h.userRing)

	r.GET("/admin/analytics/summary", h.analyticsSummary)
	r.GET("/admin/system-status", h.systemStatus)
	r.POST("/admin/broadcast", h.broadcast)
}

// listBlacklist returns every blacklist entry.
func (h *Handler) listBlacklist(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"blacklist": h.blacklist.All(),
		"counts":    h.blacklist.Counts(),
	})
}

func (h *Handler) blacklistCounts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"counts": h.blacklist.Counts()})
}

// addBlacklist adds one value. Re-adding an existing value is not an error.
func (h *Handler) addBlacklist(c *gin.Context) {
	var req BlacklistRequest
	if !bindAndValidate(c, &req) {
		return
	}
	kind, err := blacklist.ParseKind(req.Type)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_type", "message": err.Error()})
		return
	}
	if _, ok := blacklist.Normalize(kind, req.Value); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "value: is required"})
		return
	}

	added := h.blacklist.Add(kind, req.Value)
	h.observeBlacklist()
	h.logger.Info("blacklist entry added",
		"kind", kind, "added", added, "operator", auth.Operator(c, "admin"))

	status := http.StatusCreated
	if !added {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"type": kind, "value": req.Value, "added": added})
}

func (h *Handler) removeBlacklist(c *gin.Context) {
	kind, err := blacklist.ParseKind(c.Param("type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_type", "message": err.Error()})
		return
	}
	value := c.Param("value")
	if !h.blacklist.Remove(kind, value) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Entry is not blacklisted"})
		return
	}
	h.observeBlacklist()
	h.logger.Info("blacklist entry removed", "kind", kind, "operator", auth.Operator(c, "admin"))
	c.JSON(http.StatusOK, gin.H{"type": kind, "value": value, "removed": true})
}

// clearBlacklist empties every set. It requires ?confirm=true.
func (h *Handler) clearBlacklist(c *gin.Context) {
	if c.Query("confirm") != "true" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "confirmation_required",
			"message": "Pass confirm=true to clear every blacklist",
		})
		return
	}
	before := h.blacklist.Counts().Total
	h.blacklist.Clear()
	h.observeBlacklist()
	h.logger.Warn("blacklist cleared", "entries", before, "operator", auth.Operator(c, "admin"))
	c.JSON(http.StatusOK, gin.H{"cleared": before})
}

func (h *Handler) observeBlacklist() {
	counts := h.blacklist.Counts()
	metrics.BlacklistEntries.WithLabelValues(string(blacklist.KindUser)).Set(float64(counts.Users))
	metrics.BlacklistEntries.WithLabelValues(string(blacklist.KindIP)).Set(float64(counts.IPs))
	metrics.BlacklistEntries.WithLabelValues(string(blacklist.KindInstrument)).Set(float64(counts.Instruments))
	metrics.BlacklistEntries.WithLabelValues(string(blacklist.KindMerchant)).Set(float64(counts.Merchants))
}

// listNetworks returns IP records, most shared first. ?flagged=true limits
// the list to flagged addresses.
func (h *Handler) listNetworks(c *gin.Context) {
	if h.networks == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "network registry not configured"})
		return
	}
	records := h.networks.List(c.Query("flagged") == "true")
	c.JSON(http.StatusOK, gin.H{"networks": records, "count": len(records)})
}

func (h *Handler) getNetwork(c *gin.Context) {
	if h.networks == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "network registry not configured"})
		return
	}
	rec, err := h.networks.Get(c.Param("ip"))
	if err != nil {
		h.networkError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"network": rec})
}

func (h *Handler) flagNetwork(c *gin.Context) {
	if h.networks == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "network registry not configured"})
		return
	}
	ip := c.Param("ip")
	if !validation.IsValidIPv4(ip) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "ip: must be a valid IP address"})
		return
	}
	var req FlagRequest
	if !bindAndValidate(c, &req) {
		return
	}

	rec := h.networks.Flag(ip, validation.SanitizeString(req.Reason, 500))
	h.logger.Info("ip flagged", "ip", ip, "operator", auth.Operator(c, "admin"))
	c.JSON(http.StatusOK, gin.H{"network": rec})
}

func (h *Handler) unflagNetwork(c *gin.Context) {
	if h.networks == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "network registry not configured"})
		return
	}
	rec, err := h.networks.Unflag(c.Param("ip"))
	if err != nil {
		h.networkError(c, err)
		return
	}
	h.logger.Info("ip unflagged", "ip", rec.Address, "operator", auth.Operator(c, "admin"))
	c.JSON(http.StatusOK, gin.H{"network": rec})
}

func (h *Handler) networkError(c *gin.Context, err error) {
	if errors.Is(err, risk.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "IP address has not been seen"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
}

func (h *Handler) graphStats(c *gin.Context) {
	if h.graph == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "fraud graph not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": h.graph.GraphStats()})
}

// graphRings lists connected groups of users, largest first. ?limit=
// caps the list.
func (h *Handler) graphRings(c *gin.Context) {
	if h.graph == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "fraud graph not configured"})
		return
	}
	rings := h.graph.FraudRings()
	total := len(rings)
	if limit := parseLimit(c.Query("limit"), 0, 1000); limit > 0 && limit < len(rings) {
		rings = rings[:limit]
	}
	c.JSON(http.StatusOK, gin.H{"rings": rings, "count": total})
}

func (h *Handler) graphLinked(c *gin.Context) {
	if h.graph == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "fraud graph not configured"})
		return
	}
	a, b := strings.TrimSpace(c.Query("a")), strings.TrimSpace(c.Query("b"))
	if a == "" || b == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "query parameters a and b are required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"a": a, "b": b, "linked": h.graph.AreActorsLinked(a, b)})
}

func (h *Handler) userRing(c *gin.Context) {
	if h.graph == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "fraud graph not configured"})
		return
	}
	ring := h.graph.ActorRing(c.Param("userId"))
	c.JSON(http.StatusOK, gin.H{"userId": c.Param("userId"), "ring": ring, "size": len(ring)})
}

// analyticsSummary aggregates transactions over ?period= (1h, 24h, 7d,
// 30d or all; default 24h).
func (h *Handler) analyticsSummary(c *gin.Context) {
	if h.analytics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "analytics not configured"})
		return
	}
	period := c.DefaultQuery("period", "24h")
	summary, err := h.analytics.Summary(c.Request.Context(), sinceFor(period, h.now()))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"period": period, "summary": summary})
}

// systemStatus combines every subsystem's figures for the operator
// dashboard. Alert levels follow the fraud count over the last 24 hours.
func (h *Handler) systemStatus(c *gin.Context) {
	now := h.now()
	status := SystemStatus{
		Uptime: now.Sub(h.started).Round(time.Second).String(),
		Alerts: map[string]int{"critical": 0, "warning": 0},
	}

	counts := h.blacklist.Counts()
	status.Blacklist = map[string]int{
		string(blacklist.KindUser):       counts.Users,
		string(blacklist.KindIP):         counts.IPs,
		string(blacklist.KindInstrument): counts.Instruments,
		string(blacklist.KindMerchant):   counts.Merchants,
	}
	if h.graph != nil {
		status.Graph = h.graph.GraphStats()
	}
	if h.queue != nil {
		pending := h.queue.PendingReviews()
		status.Queue.Size = len(pending)
		if len(pending) > 0 {
			status.Queue.HighestRisk = pending[0].RiskScore
		}
	}
	if h.announcer != nil {
		stats := h.announcer.Stats()
		status.Realtime = &stats
	}
	if h.analytics != nil {
		summary, err := h.analytics.Summary(c.Request.Context(), now.Add(-24*time.Hour))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
			return
		}
		status.Transactions = summary
		switch {
		case summary.FraudDetected > 10:
			status.Alerts["critical"] = 1
		case summary.FraudDetected > 5:
			status.Alerts["warning"] = 1
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (h *Handler) broadcast(c *gin.Context) {
	if h.announcer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "realtime not configured"})
		return
	}
	var req BroadcastRequest
	if !bindAndValidate(c, &req) {
		return
	}
	h.announcer.Announce(validation.SanitizeString(req.Message, 1000), req.Level)
	h.logger.Info("broadcast sent", "level", req.Level, "operator", auth.Operator(c, "admin"))
	c.JSON(http.StatusOK, gin.H{"sent": true})
}

// bindAndValidate decodes the JSON body into req and runs its tag rules,
// writing a 400 and returning false on failure.
func bindAndValidate(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return false
	}
	if errs := validation.Struct(req); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return false
	}
	return true
}

// parseLimit reads a positive integer query value, falling back to def and
// clamping to maxLimit.
func parseLimit(s string, def, maxLimit int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, maxLimit)
}
