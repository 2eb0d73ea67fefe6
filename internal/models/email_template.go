package models

// EmailTemplate overrides a built-in notification template for one locale.
type EmailTemplate struct {
	Base       `bson:",inline"`
	TemplateID string `bson:"template_id" json:"template_id"` // e.g. "request_received", "project_status_changed"
	Locale     string `bson:"locale" json:"locale"`
	Subject    string `bson:"subject" json:"subject"`
	Body       string `bson:"body" json:"body"`
}
