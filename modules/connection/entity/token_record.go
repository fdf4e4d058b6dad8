package entity

import (
	"time"

	"clinicsync/core/entity"

	"github.com/google/uuid"
)

// TokenRecord holds the OAuth credentials for one connection. Exactly
// one record exists per active connection; a nil refresh token means
// re-authorization is required when the access token expires.
type TokenRecord struct {
	entity.BaseEntity
	ConnectionID uuid.UUID `db:"connection_id" json:"connection_id"`
	AccessToken  string    `db:"access_token" json:"-"`
	RefreshToken *string   `db:"refresh_token" json:"-"`
	TokenType    string    `db:"token_type" json:"token_type"`
	ExpiresAt    time.Time `db:"expires_at" json:"expires_at"`
}

func (TokenRecord) TableName() string {
	return "token_records"
}
