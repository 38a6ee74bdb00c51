package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/openmined/syftsync/internal/client/sync"
)

const (
	CodeOk              string = "OK"
	ErrCodeBadRequest   string = "ERR_BAD_REQUEST"
	ErrCodeNotOwner     string = "ERR_NOT_OWNER"
	ErrCodeNotFound     string = "ERR_NOT_FOUND"
	ErrCodeSyncFailed   string = "ERR_SYNC_FAILED"
	ErrCodeUnknownError string = "ERR_UNKNOWN_ERROR"
)

// SyncService is what the control plane drives. *sync.SyncEngine
// implements it.
type SyncService interface {
	Owner() string
	Sync(ctx context.Context, pull, push bool) (*sync.SyncReport, error)
	Status() *sync.SyncStatus
	LastReport() *sync.SyncReport
	RecordLocal(ctx context.Context, records ...*sync.FileMetadata) error
	ForgetLocal(ctx context.Context, paths ...string) error
}

var _ SyncService = (*sync.SyncEngine)(nil)

type ControlPlaneResponse struct {
	Code string `json:"code"`
}

type ControlPlaneError struct {
	ErrorCode string `json:"code"`
	Error     string `json:"error"`
}

func AbortWithError(c *gin.Context, status int, code string, err error) {
	c.Abort()
	c.Error(err) //nolint:errcheck
	c.PureJSON(status, ControlPlaneError{
		ErrorCode: code,
		Error:     err.Error(),
	})
}
