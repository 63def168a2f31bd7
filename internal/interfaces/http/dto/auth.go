package dto

import "time"

// GuestTokenResponse 访客 token
type GuestTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}
