package syftsdk

import (
	"context"
	"fmt"
)

const (
	authRequestEmailToken  = "/auth/request_email_token"
	authValidateEmailToken = "/auth/validate_email_token"
	authWhoAmI             = "/auth/whoami"
)

// GetAccessToken runs the two step token flow: request a one-time token bound
// to email, then exchange it for an access token. The token is not installed
// on the client, see SetAccessToken.
func (s *SyftSDK) GetAccessToken(ctx context.Context, email string) (string, error) {
	var emailToken EmailTokenResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(&EmailTokenRequest{Email: email}).
		Post(authRequestEmailToken)
	if err := handleAPIError(resp, err, "request email token"); err != nil {
		return "", err
	}
	if err := decodeJSON(resp, "request email token", &emailToken); err != nil {
		return "", err
	}
	if emailToken.EmailToken == "" {
		return "", malformed("request email token", resp.StatusCode, fmt.Errorf("empty email_token"))
	}

	var accessToken AccessTokenResponse
	resp, err = s.client.R().
		SetContext(ctx).
		SetBearerAuthToken(emailToken.EmailToken).
		Post(authValidateEmailToken)
	if err := handleAPIError(resp, err, "validate email token"); err != nil {
		return "", err
	}
	if err := decodeJSON(resp, "validate email token", &accessToken); err != nil {
		return "", err
	}
	if accessToken.AccessToken == "" {
		return "", malformed("validate email token", resp.StatusCode, fmt.Errorf("empty access_token"))
	}

	return accessToken.AccessToken, nil
}

// WhoAmI returns the identity bound to the current credential. An invalid or
// expired credential fails with ErrUnauthorized.
func (s *SyftSDK) WhoAmI(ctx context.Context) (string, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		Post(authWhoAmI)
	if err := handleAPIError(resp, err, "whoami"); err != nil {
		return "", err
	}

	var who WhoAmIResponse
	if err := decodeJSON(resp, "whoami", &who); err != nil {
		return "", err
	}
	return who.Email, nil
}
