package models

import (
	"time"
)

// User is a client or an administrator.
type User struct {
	Base         `bson:",inline"`
	Email        string    `bson:"email" json:"email"`
	Name         string    `bson:"name" json:"name"`
	PasswordHash string    `bson:"password" json:"-"`
	IsAdmin      bool      `bson:"is_admin" json:"is_admin"`
	Phone        string    `bson:"phone,omitempty" json:"phone,omitempty"`
	Company      string    `bson:"company,omitempty" json:"company,omitempty"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`
}

// Contact returns the user's identity in the shape stored on requests.
func (u *User) Contact() Contact {
	return Contact{Name: u.Name, Email: u.Email, Phone: u.Phone, Company: u.Company}
}

// ProfileUpdate is the set of attributes a user may change on themselves.
// Nil fields are left alone.
type ProfileUpdate struct {
	Name     *string `json:"name,omitempty"`
	Phone    *string `json:"phone,omitempty"`
	Company  *string `json:"company,omitempty"`
	Password *string `json:"password,omitempty"`
}
