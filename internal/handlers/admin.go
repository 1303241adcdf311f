package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/call-signaling/internal/registry"
	"github.com/mossy-p/call-signaling/internal/relay"
	"github.com/mossy-p/call-signaling/internal/session"
)

// AdminHandler serves read-only operator views of this node.
type AdminHandler struct {
	NodeID   string
	Registry *registry.Registry
	Sessions *session.Tracker
	Relay    *relay.Relay
}

// StatsResponse is the body of GET /api/admin/stats
type StatsResponse struct {
	Node     string `json:"node"`
	Clients  int    `json:"clients"`
	Sessions int    `json:"sessions"`
	relay.Stats
}

func (h *AdminHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, StatsResponse{
		Node:     h.NodeID,
		Clients:  h.Registry.Len(),
		Sessions: h.Sessions.Count(),
		Stats:    h.Relay.Stats(),
	})
}

func (h *AdminHandler) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.Sessions.Snapshot()})
}
