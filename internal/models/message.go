package models

import (
	"time"

	"github.com/Medard-prog/web-whisperer-sub001/internal/utils"
)

// Attachment is a single file uploaded alongside a message.
type Attachment struct {
	URL       string `bson:"url" json:"url"`
	MimeType  string `bson:"mime_type" json:"mime_type"`
	ObjectKey string `bson:"object_key" json:"-"`
	Name      string `bson:"name,omitempty" json:"name,omitempty"`
}

// Message is an append-only chat entry. ProjectID is nil for general support
// conversations. UserID is always the client the conversation belongs to, also
// for messages written by an administrator.
type Message struct {
	Base       `bson:",inline"`
	ProjectID  *utils.SixID `bson:"project_id,omitempty" json:"project_id,omitempty"`
	UserID     utils.SixID  `bson:"user_id" json:"user_id"`
	SenderID   utils.SixID  `bson:"sender_id" json:"sender_id"`
	IsAdmin    bool         `bson:"is_admin" json:"is_admin"`
	Content    string       `bson:"content" json:"content"`
	Attachment *Attachment  `bson:"attachment,omitempty" json:"attachment,omitempty"`
	CreatedAt  time.Time    `bson:"created_at" json:"created_at"`
}
