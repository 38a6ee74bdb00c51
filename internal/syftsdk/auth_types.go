package syftsdk

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type EmailTokenRequest struct {
	Email string `json:"email"`
}

type EmailTokenResponse struct {
	EmailToken string `json:"email_token"`
}

type AccessTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
}

type WhoAmIResponse struct {
	Email string `json:"email"`
}

// TokenExpiry reads the exp claim of an access token. The signature is not
// verified, only the server can do that; the client only needs to know when
// to ask for a new token. Tokens without exp report ok=false.
func TokenExpiry(token string) (expiry time.Time, ok bool, err error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false, fmt.Errorf("parse token: %w", err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse token expiry: %w", err)
	}
	if exp == nil {
		return time.Time{}, false, nil
	}
	return exp.Time, true, nil
}
