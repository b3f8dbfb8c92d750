package adminapi

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

type handlers struct {
	status StatusProvider
	stop   Stopper
	log    *slog.Logger
}

func (h *handlers) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) status(c *gin.Context) {
	resp := gin.H{
		"state":        h.status.State(),
		"active_sinks": h.status.ActiveSinks(),
	}
	if seq, ok := h.status.LastDeliveredSequence(); ok {
		resp["last_delivered_sequence"] = seq
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) stopSession(c *gin.Context) {
	h.log.Info("stop requested via admin API", "remote", c.ClientIP())
	h.stop.Stop()
	c.JSON(http.StatusAccepted, gin.H{"status": "stopping"})
}
