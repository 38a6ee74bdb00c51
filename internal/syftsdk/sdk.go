package syftsdk

import (
	"fmt"

	"github.com/imroc/req/v3"
	"github.com/openmined/syftsync/internal/utils"
	"github.com/openmined/syftsync/internal/version"
)

// SyftSDK is the client for the sync server. One instance belongs to one
// session; it keeps no sync state of its own.
type SyftSDK struct {
	client *req.Client
	config *SyftSDKConfig
	Sync   *SyncAPI
}

// New creates a new SyftSDK client
func New(config *SyftSDKConfig) (*SyftSDK, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	bulkTimeout := config.BulkTimeout
	if bulkTimeout <= 0 {
		bulkTimeout = DefaultBulkTimeout
	}

	// retries are the orchestrator's decision, never the transport's
	client := req.C().
		SetBaseURL(config.BaseURL).
		SetTimeout(timeout).
		SetCommonRetryCount(0).
		SetUserAgent(SyftSyncUserAgent).
		SetCommonHeader(HeaderSyftVersion, version.Version).
		SetCommonHeader(HeaderSyftDeviceId, utils.HWID).
		SetCommonHeader(HeaderSyftUser, config.Email).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)

	if config.AccessToken != "" {
		client.SetCommonBearerAuthToken(config.AccessToken)
	}

	return &SyftSDK{
		client: client,
		config: config,
		Sync:   newSyncAPI(client, bulkTimeout),
	}, nil
}

// Email is the identity the sdk was configured with
func (s *SyftSDK) Email() string {
	return s.config.Email
}

func (s *SyftSDK) BaseURL() string {
	return s.config.BaseURL
}

// SetAccessToken installs the bearer credential for every later request.
// Callers must not race it with in-flight requests.
func (s *SyftSDK) SetAccessToken(token string) error {
	if token == "" {
		return ErrNoToken
	}
	s.config.AccessToken = token
	s.client.SetCommonBearerAuthToken(token)
	return nil
}

func (s *SyftSDK) AccessToken() string {
	return s.config.AccessToken
}

// Close releases idle connections
func (s *SyftSDK) Close() {
	if t := s.client.GetTransport(); t != nil {
		t.CloseIdleConnections()
	}
}

// decodeJSON decodes a success body. A body that does not parse is a server
// error, not a transport one.
func decodeJSON(resp *req.Response, operation string, out any) error {
	if err := jsonUnmarshal(resp.Bytes(), out); err != nil {
		return malformed(operation, resp.StatusCode, fmt.Errorf("decode: %w", err))
	}
	return nil
}
