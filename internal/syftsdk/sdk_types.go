package syftsdk

import (
	"fmt"
	"runtime"
	"time"

	"github.com/openmined/syftsync/internal/version"
)

const (
	HeaderUserAgent    = "User-Agent"
	HeaderSyftVersion  = "X-Syft-Version"
	HeaderSyftUser     = "X-Syft-User"
	HeaderSyftDeviceId = "X-Syft-Device-Id"
)

const (
	DefaultBulkTimeout = 30 * time.Second
	defaultTimeout     = 60 * time.Second
)

var SyftSyncUserAgent = fmt.Sprintf("SyftSync/%s (%s; %s; %s)", version.Version, version.Revision, runtime.GOOS, runtime.GOARCH)
