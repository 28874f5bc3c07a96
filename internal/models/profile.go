package models

import "github.com/google/uuid"

// UserProfile is the identity collaborator's projection of a participant.
// This service only reads it.
type UserProfile struct {
	ID            uuid.UUID `json:"id"`
	Username      string    `json:"username"`
	WalletAddress string    `json:"wallet_address"`
}
