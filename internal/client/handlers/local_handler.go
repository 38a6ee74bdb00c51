package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/openmined/syftsync/internal/client/sync"
)

// RecordsRequest carries records of new local content, produced by whoever
// wrote the files and computed their signatures.
type RecordsRequest struct {
	Records []*sync.FileMetadata `json:"records" binding:"required,min=1"`
}

type ForgetRequest struct {
	Paths []string `json:"paths" binding:"required,min=1"`
}

// LocalHandler feeds local changes of the own datasite into the engine.
type LocalHandler struct {
	svc SyncService
}

func NewLocalHandler(svc SyncService) *LocalHandler {
	return &LocalHandler{svc: svc}
}

func (h *LocalHandler) Record(c *gin.Context) {
	var req RecordsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, err)
		return
	}
	for _, r := range req.Records {
		if err := r.Validate(); err != nil {
			AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, err)
			return
		}
		if _, err := r.SignatureBytes(); err != nil {
			AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, err)
			return
		}
	}

	if err := h.svc.RecordLocal(c.Request.Context(), req.Records...); err != nil {
		abortLocal(c, err)
		return
	}
	c.PureJSON(http.StatusOK, ControlPlaneResponse{Code: CodeOk})
}

func (h *LocalHandler) Forget(c *gin.Context) {
	var req ForgetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, err)
		return
	}

	if err := h.svc.ForgetLocal(c.Request.Context(), req.Paths...); err != nil {
		abortLocal(c, err)
		return
	}
	c.PureJSON(http.StatusOK, ControlPlaneResponse{Code: CodeOk})
}

func abortLocal(c *gin.Context, err error) {
	if errors.Is(err, sync.ErrNotOwner) {
		AbortWithError(c, http.StatusForbidden, ErrCodeNotOwner, err)
		return
	}
	AbortWithError(c, http.StatusInternalServerError, ErrCodeUnknownError, fmt.Errorf("local state: %w", err))
}
