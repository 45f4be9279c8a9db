package locator

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	hub   *Hub
	relay *Relay
}

// RegisterWS mounts the websocket endpoint at the root, outside /api/v1.
// Browsers cannot set headers on upgrade, so auth reads ?token= here.
func RegisterWS(r gin.IRoutes, hub *Hub, relay *Relay) {
	h := &Handler{hub: hub, relay: relay}
	r.GET("/ws/locations", h.Stream)
}

func RegisterRoutes(r gin.IRoutes, hub *Hub, relay *Relay) {
	h := &Handler{hub: hub, relay: relay}
	r.GET("/locations", h.OwnerLocations)
}

// GET /ws/locations
func (h *Handler) Stream(c *gin.Context) {
	h.hub.Serve(c.Writer, c.Request, h.relay)
}

// GET /locations?owner_id=
func (h *Handler) OwnerLocations(c *gin.Context) {
	ownerID := strings.TrimSpace(c.Query("owner_id"))
	if ownerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "INVALID_ARGUMENT", "message": "owner_id is required"}})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"owner_id":  ownerID,
		"managers":  h.relay.OwnerLocations(ownerID),
		"connected": h.hub.Count(),
	})
}
