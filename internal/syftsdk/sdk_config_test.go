package syftsdk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyftSDKConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  SyftSDKConfig
		wantErr error
	}{
		{"valid", SyftSDKConfig{BaseURL: "https://syftbox.example.com", Email: "bob@example.com"}, nil},
		{"empty url", SyftSDKConfig{Email: "bob@example.com"}, ErrNoServerURL},
		{"url without scheme", SyftSDKConfig{BaseURL: "syftbox.example.com", Email: "bob@example.com"}, ErrNoServerURL},
		{"bad email", SyftSDKConfig{BaseURL: "https://syftbox.example.com", Email: "bob"}, ErrInvalidEmail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
