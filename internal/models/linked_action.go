package models

import (
	"time"

	"github.com/Medard-prog/web-whisperer-sub001/internal/utils"
)

type LinkedActionType string

const (
	ActionPasswordReset LinkedActionType = "password_reset"
)

// LinkedAction is a one-time, expiring action confirmed through an emailed link.
// Its _id is the secret carried by the link.
type LinkedAction struct {
	Base      `bson:",inline"`
	UserID    utils.SixID       `bson:"user_id" json:"user_id"`
	Type      LinkedActionType  `bson:"type" json:"type"`
	CreatedAt time.Time         `bson:"created_at" json:"created_at"`
	ExpiresAt time.Time         `bson:"expires_at" json:"expires_at"`
	Executed  *time.Time        `bson:"executed,omitempty" json:"executed,omitempty"`
	Data      map[string]string `bson:"data,omitempty" json:"data,omitempty"`
}
