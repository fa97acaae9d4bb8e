package api

import "time"

// IssueRequest asks for a token for a profile
type IssueRequest struct {
	Profile  int      `json:"profile"`
	Audience []string `json:"audience,omitempty"`
}

// TokenResponse carries a freshly signed access token
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ErrorResponse is returned for malformed requests
type ErrorResponse struct {
	Error string `json:"error"`
}
