package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openmined/syftsync/internal/version"
)

// StatusResponse is the health of the daemon and its last cycle.
type StatusResponse struct {
	Status    string          `json:"status"`
	Timestamp string          `json:"ts"`
	Version   string          `json:"version"`
	Revision  string          `json:"revision"`
	BuildDate string          `json:"buildDate"`
	Identity  string          `json:"identity"`
	LastSync  *LastSyncReport `json:"lastSync,omitempty"`
}

type LastSyncReport struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"startedAt"`
	Duration  string    `json:"duration"`
	Changes   int       `json:"changes"`
	Failed    int       `json:"failed"`
}

type StatusHandler struct {
	svc SyncService
}

func NewStatusHandler(svc SyncService) *StatusHandler {
	return &StatusHandler{svc: svc}
}

func (h *StatusHandler) Status(c *gin.Context) {
	resp := &StatusResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   version.Version,
		Revision:  version.Revision,
		BuildDate: version.BuildDate,
		Identity:  h.svc.Owner(),
	}

	if report := h.svc.LastReport(); report != nil {
		resp.LastSync = &LastSyncReport{
			ID:        report.ID,
			StartedAt: report.StartedAt,
			Duration:  report.Duration.String(),
			Changes:   report.Changes(),
			Failed:    report.Failed,
		}
	}

	c.PureJSON(http.StatusOK, resp)
}

// Health answers liveness probes without authentication.
func Health(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}
