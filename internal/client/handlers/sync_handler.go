package handlers

import (
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openmined/syftsync/internal/client/sync"
)

// SyncRequest selects the directions of an on-demand cycle. Omitted
// directions default to true.
type SyncRequest struct {
	Pull *bool `json:"pull"`
	Push *bool `json:"push"`
}

type SyncResponse struct {
	Report *sync.SyncReport `json:"report"`
	Error  string           `json:"error,omitempty"`
}

type SyncFileStatus struct {
	Path       string    `json:"path"`
	Op         string    `json:"op"`
	State      string    `json:"state"`
	Error      string    `json:"error,omitempty"`
	ErrorCount int       `json:"errorCount,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type SyncStatusResponse struct {
	Files   []SyncFileStatus       `json:"files"`
	Summary sync.SyncStatusSummary `json:"summary"`
}

type SyncHandler struct {
	svc SyncService
}

func NewSyncHandler(svc SyncService) *SyncHandler {
	return &SyncHandler{svc: svc}
}

// Now runs one cycle and waits for it. A cycle that failed for single files
// still answers 200 with the report; a cycle that could not run answers 502.
func (h *SyncHandler) Now(c *gin.Context) {
	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, err)
		return
	}
	pull := req.Pull == nil || *req.Pull
	push := req.Push == nil || *req.Push

	report, err := h.svc.Sync(c.Request.Context(), pull, push)
	if err != nil && (report == nil || report.Failed == 0) {
		AbortWithError(c, http.StatusBadGateway, ErrCodeSyncFailed, err)
		return
	}

	resp := SyncResponse{Report: report}
	if err != nil {
		resp.Error = err.Error()
	}
	c.PureJSON(http.StatusOK, resp)
}

// Status lists every path that is not clean.
func (h *SyncHandler) Status(c *gin.Context) {
	syncStatus := h.svc.Status()
	all := syncStatus.GetAllStatus()

	files := make([]SyncFileStatus, 0, len(all))
	for path, status := range all {
		files = append(files, toFileStatus(path, status))
	}
	slices.SortFunc(files, func(a, b SyncFileStatus) int {
		return strings.Compare(a.Path, b.Path)
	})

	c.PureJSON(http.StatusOK, SyncStatusResponse{
		Files:   files,
		Summary: syncStatus.Summary(),
	})
}

func (h *SyncHandler) StatusByPath(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, errors.New("path is required"))
		return
	}

	status, ok := h.svc.Status().GetStatus(path)
	if !ok {
		AbortWithError(c, http.StatusNotFound, ErrCodeNotFound, errors.New("path not tracked, it is clean or unknown"))
		return
	}
	c.PureJSON(http.StatusOK, toFileStatus(path, status))
}

func toFileStatus(path string, status sync.PathStatus) SyncFileStatus {
	return SyncFileStatus{
		Path:       path,
		Op:         string(status.Op),
		State:      string(status.State),
		Error:      status.Error,
		ErrorCount: status.ErrorCount,
		UpdatedAt:  status.LastUpdated,
	}
}
