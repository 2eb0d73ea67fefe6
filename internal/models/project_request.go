package models

import (
	"time"

	"github.com/Medard-prog/web-whisperer-sub001/internal/utils"
)

// ProjectRequest is an inbound inquiry submitted through the request wizard.
// It lives in the project_requests collection until an administrator moves it
// past intake, at which point it becomes a Project with the same id.
type ProjectRequest struct {
	Base        `bson:",inline"`
	ProjectSpec `bson:",inline"`
	UserID      *utils.SixID `bson:"user_id,omitempty" json:"user_id,omitempty"` // nil for anonymous requests
	Contact     Contact      `bson:"contact" json:"contact"`
	Status      Status       `bson:"status" json:"status"`
	CreatedAt   time.Time    `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `bson:"updated_at" json:"updated_at"`
}

// OwnedBy reports whether the request belongs to the given user.
func (r *ProjectRequest) OwnedBy(userID utils.SixID) bool {
	return r.UserID != nil && *r.UserID == userID
}
