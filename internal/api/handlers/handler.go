// Package handlers exposes the collector's data over HTTP and websocket.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chargewatch/chargewatch/internal/api/fleet"
	"github.com/chargewatch/chargewatch/internal/pricing"
	"github.com/chargewatch/chargewatch/internal/repository"
	"github.com/chargewatch/chargewatch/internal/service"
	"github.com/chargewatch/chargewatch/internal/smartcharge"
	"github.com/chargewatch/chargewatch/pkg/ws"
)

// Handler wires the HTTP API to the collector and repositories.
type Handler struct {
	sessions   *repository.SessionRepo
	collector  *service.Collector
	stats      *pricing.Engine
	controller *smartcharge.Controller
	fleet      *fleet.Client
	hub        *ws.Hub
	logger     *zap.Logger
	upgrader   websocket.Upgrader
}

// New creates a handler. controller and fleet may be nil when the
// corresponding feature is disabled.
func New(sessions *repository.SessionRepo, collector *service.Collector, stats *pricing.Engine, controller *smartcharge.Controller, fleet *fleet.Client, hub *ws.Hub, logger *zap.Logger) *Handler {
	return &Handler{
		sessions:   sessions,
		collector:  collector,
		stats:      stats,
		controller: controller,
		fleet:      fleet,
		hub:        hub,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(_ *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes attaches all routes to the engine.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)
	r.GET("/ws", h.serveWs)

	api := r.Group("/api")
	{
		api.GET("/sessions", h.listSessions)
		api.GET("/sessions/live", h.liveSessions)
		api.GET("/vehicles", h.listVehicles)
		api.GET("/vehicles/:vin", h.getVehicle)
		api.GET("/vehicles/:vin/sessions", h.listVehicleSessions)
		api.GET("/efficiency", h.listEfficiency)
		api.GET("/price", h.currentPrice)
		api.GET("/price/statistics", h.priceStatistics)
		api.GET("/smart-charging/status", h.smartChargingStatus)
		api.GET("/smart-charging/actions", h.listActions)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"ws_clients": h.hub.ClientCount(),
	})
}

func limitParam(c *gin.Context) int {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	return limit
}

func (h *Handler) listSessions(c *gin.Context) {
	sessions, err := h.sessions.ListSessions(c.Request.Context(), c.Query("source"), limitParam(c))
	if err != nil {
		h.logger.Error("list sessions failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handler) liveSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.collector.LiveSessions()})
}

func (h *Handler) listVehicles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"vehicles": h.collector.Vehicles()})
}

// getVehicle serves the polled snapshot for a VIN. With ?live=true it asks
// the cloud for fresh state instead, which may wake the vehicle.
func (h *Handler) getVehicle(c *gin.Context) {
	vin := c.Param("vin")
	if h.fleet != nil && c.Query("live") == "true" {
		v, err := h.fleet.VehicleState(c.Request.Context(), vin)
		if err != nil {
			h.logger.Warn("live vehicle fetch failed", zap.String("vin", vin), zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "live vehicle fetch failed"})
			return
		}
		c.JSON(http.StatusOK, v)
		return
	}

	v := h.collector.Vehicle(vin)
	if v == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown vin"})
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handler) listVehicleSessions(c *gin.Context) {
	sessions, err := h.sessions.ListVehicleSessions(c.Request.Context(), c.Param("vin"), limitParam(c))
	if err != nil {
		h.logger.Error("list vehicle sessions failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handler) listEfficiency(c *gin.Context) {
	records, err := h.sessions.ListEfficiency(c.Request.Context(), limitParam(c))
	if err != nil {
		h.logger.Error("list efficiency failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list efficiency records"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (h *Handler) currentPrice(c *gin.Context) {
	price := h.collector.CurrentPrice()
	resp := gin.H{"price_cents": price}

	if percentile, err := h.stats.CurrentPercentile(c.Request.Context(), price); err == nil {
		resp["percentile"] = percentile
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) priceStatistics(c *gin.Context) {
	force := c.Query("force") == "true"
	stats, err := h.stats.Get(c.Request.Context(), force)
	if err != nil {
		if errors.Is(err, pricing.ErrInsufficientData) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":       "not enough price history yet",
				"min_samples": pricing.MinSamples,
			})
			return
		}
		h.logger.Error("price statistics failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute statistics"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) smartChargingStatus(c *gin.Context) {
	if h.controller == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"enabled":  true,
		"vehicles": h.controller.Status(),
	})
}

func (h *Handler) listActions(c *gin.Context) {
	actions, err := h.sessions.ListActions(c.Request.Context(), c.Query("vin"), limitParam(c))
	if err != nil {
		h.logger.Error("list actions failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list actions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": actions})
}

func (h *Handler) serveWs(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	client := ws.NewClient(h.hub, conn)
	go client.WritePump()
	go client.ReadPump()

	// Initial snapshot goes to the new subscriber only.
	client.Send(ws.TypeInit, gin.H{"sessions": h.collector.LiveSessions()})
}
