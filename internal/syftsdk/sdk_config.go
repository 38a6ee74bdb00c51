package syftsdk

import (
	"net/url"
	"time"

	"github.com/openmined/syftsync/internal/utils"
)

const (
	DefaultBaseURL = "https://syftbox.openmined.org"
)

// SyftSDKConfig is the configuration for the SyftSDK
type SyftSDKConfig struct {
	BaseURL     string        // BaseURL is required
	Email       string        // Email is required
	AccessToken string        // AccessToken is optional, obtained with GetAccessToken when empty
	Timeout     time.Duration // Timeout per request
	BulkTimeout time.Duration // BulkTimeout caps a bulk download, DefaultBulkTimeout when zero. Timeout still applies.
}

func (c *SyftSDKConfig) Validate() error {
	if c.BaseURL == "" {
		return ErrNoServerURL
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ErrNoServerURL
	}

	if !utils.IsValidEmail(c.Email) {
		return ErrInvalidEmail
	}

	return nil
}
