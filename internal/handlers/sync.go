package handlers

import (
	"net/http"

	"github.com/alimgiray/repopulse/internal/models"
	"github.com/alimgiray/repopulse/internal/repositories"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type SyncHandler struct {
	store *repositories.Store
	log   *logrus.Entry
}

func NewSyncHandler(store *repositories.Store, log *logrus.Entry) *SyncHandler {
	return &SyncHandler{store: store, log: log}
}

// Status reports every checkpoint alongside the stored row counts
func (h *SyncHandler) Status(c *gin.Context) {
	checkpoints := make(map[string]string, len(models.CheckpointKinds))
	for _, kind := range models.CheckpointKinds {
		at, err := h.store.Metadata.GetCheckpoint(kind)
		if err != nil {
			h.log.WithError(err).WithField("checkpoint", kind.Key()).Error("Failed to read checkpoint")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read sync status"})
			return
		}
		checkpoints[string(kind)] = at.Format(models.CheckpointLayout)
	}

	stats, err := h.store.Stats()
	if err != nil {
		h.log.WithError(err).Error("Failed to read database stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read sync status"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"checkpoints": checkpoints,
		"tables":      stats.Tables,
		"metadata":    stats.Metadata,
	})
}
