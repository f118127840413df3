package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"warden/internal/audit"
	"warden/internal/logger"
	"warden/internal/proxy"
	"warden/internal/trigger"
	"warden/pkg/errors"
)

// Handler exposes the runtime control surface: trigger lifecycle, the audit
// trail and the proxy's gate state.
type Handler struct {
	trigger *trigger.QueueTrigger
	ledger  audit.Ledger
	proxy   *proxy.Proxy
	logger  logger.Logger
}

func NewHandler(t *trigger.QueueTrigger, ledger audit.Ledger, p *proxy.Proxy, log logger.Logger) *Handler {
	return &Handler{
		trigger: t,
		ledger:  ledger,
		proxy:   p,
		logger:  log,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/trigger/status", h.triggerStatus)
	router.POST("/trigger/pause", h.pauseTrigger)
	router.POST("/trigger/resume", h.resumeTrigger)
	router.GET("/audit", h.queryAudit)
	if h.proxy != nil {
		router.GET("/proxy/status", h.proxyStatus)
	}
}

func (h *Handler) triggerStatus(c *gin.Context) {
	m := h.trigger.Metrics()
	c.JSON(http.StatusOK, gin.H{
		"state":                   string(h.trigger.State()),
		"mean_processing_time_ms": m.MeanProcessingDuration().Milliseconds(),
	})
}

func (h *Handler) pauseTrigger(c *gin.Context) {
	if err := h.trigger.Pause(); err != nil {
		h.logger.WarnwCtx(c.Request.Context(), "Pause rejected", "error", err)
		c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": string(h.trigger.State())})
}

func (h *Handler) resumeTrigger(c *gin.Context) {
	if err := h.trigger.Resume(); err != nil {
		h.logger.WarnwCtx(c.Request.Context(), "Resume rejected", "error", err)
		c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": string(h.trigger.State())})
}

func (h *Handler) queryAudit(c *gin.Context) {
	if h.ledger == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":      "audit ledger is not configured",
			"error_code": "NOT_FOUND",
		})
		return
	}

	filter := audit.Filter{
		TenantID:   c.Query("tenant_id"),
		Capability: c.Query("capability"),
		Status:     c.Query("status"),
	}
	records := h.ledger.Query(filter)
	c.JSON(http.StatusOK, gin.H{
		"count":   len(records),
		"records": records,
	})
}

func (h *Handler) proxyStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"callers": h.proxy.Snapshot()})
}
