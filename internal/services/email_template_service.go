package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"text/template"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Medard-prog/web-whisperer-sub001/internal/apperr"
	"github.com/Medard-prog/web-whisperer-sub001/internal/db"
	"github.com/Medard-prog/web-whisperer-sub001/internal/models"
)

// Template ids used by the notifier and the background tasks.
const (
	TemplateRequestReceived      = "request_received"
	TemplateNewRequestAdmin      = "new_request_admin"
	TemplateProjectStatusChanged = "project_status_changed"
	TemplateNewMessage           = "new_message"
	TemplatePasswordReset        = "password_reset"
	TemplateDueReminder          = "due_reminder"
	TemplateStaleDigest          = "stale_digest"
	TemplatePaymentOverdue       = "payment_overdue"
	TemplateWelcome              = "welcome"
)

// DefaultLocale is used when a locale has no stored template.
const DefaultLocale = "en-US"

// Default email templates used as fallback when not found in database
var defaultEmailTemplates = map[string]models.EmailTemplate{
	TemplateRequestReceived: {
		Subject: "We received your project request",
		Body:    "Hi {{.name}},\n\nThanks for telling us about \"{{.title}}\". Your estimate is {{.price}} EUR. We will get back to you shortly.\n",
	},
	TemplateNewRequestAdmin: {
		Subject: "New project request: {{.title}}",
		Body:    "{{.name}} <{{.email}}> submitted \"{{.title}}\" ({{.pages}} pages, {{.tier}} design), estimated at {{.price}} EUR.\n{{.link}}\n",
	},
	TemplateProjectStatusChanged: {
		Subject: "Your project \"{{.title}}\" is now {{.status}}",
		Body:    "Hi {{.name}},\n\nThe status of \"{{.title}}\" changed to {{.status}}.\n{{.link}}\n",
	},
	TemplateNewMessage: {
		Subject: "New message on {{.thread}}",
		Body:    "{{.sender}} wrote:\n\n{{.content}}\n\n{{.link}}\n",
	},
	TemplatePasswordReset: {
		Subject: "Reset your password",
		Body:    "Follow this link to choose a new password: {{.link}}\nIt expires in {{.ttl}}.\n",
	},
	TemplateDueReminder: {
		Subject: "\"{{.title}}\" is due on {{.due}}",
		Body:    "Project \"{{.title}}\" for {{.name}} is due on {{.due}} and is still {{.status}}.\n{{.link}}\n",
	},
	TemplateStaleDigest: {
		Subject: "{{.count}} project requests are waiting",
		Body:    "{{.count}} requests have been new for more than {{.age}}.\n{{.link}}\n",
	},
	TemplatePaymentOverdue: {
		Subject: "Payment overdue for \"{{.title}}\"",
		Body:    "Hi {{.name}},\n\n{{.outstanding}} EUR is still outstanding on \"{{.title}}\", due {{.due}}.\n{{.link}}\n",
	},
	TemplateWelcome: {
		Subject: "Welcome to {{.app}}",
		Body:    "Hi {{.name}},\n\nYour account is ready. Sign in at {{.link}}\n",
	},
}

// IEmailTemplateService resolves and renders notification templates.
type IEmailTemplateService interface {
	GetTemplate(ctx context.Context, templateID, locale string) (*models.EmailTemplate, error)
	Render(ctx context.Context, templateID, locale string, data map[string]interface{}) (subject, body string, err error)
	SaveTemplate(ctx context.Context, tpl *models.EmailTemplate) error
	DeleteTemplate(ctx context.Context, templateID, locale string) error
}

type emailTemplateService struct {
	db *mongo.Database
}

func NewEmailTemplateService(database *mongo.Database) IEmailTemplateService {
	return &emailTemplateService{db: database}
}

func (s *emailTemplateService) collection() *mongo.Collection {
	return s.db.Collection(db.EmailTemplatesCollection)
}

// GetTemplate looks for the locale, then the default locale, then the
// built-in defaults.
func (s *emailTemplateService) GetTemplate(ctx context.Context, templateID, locale string) (*models.EmailTemplate, error) {
	locales := []string{locale}
	if locale != DefaultLocale {
		locales = append(locales, DefaultLocale)
	}
	for _, l := range locales {
		var tpl models.EmailTemplate
		err := s.collection().FindOne(ctx, bson.M{"template_id": templateID, "locale": l}).Decode(&tpl)
		if err == nil {
			return &tpl, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("error retrieving template: %w", err)
		}
	}
	if def, ok := defaultEmailTemplates[templateID]; ok {
		def.TemplateID = templateID
		def.Locale = DefaultLocale
		return &def, nil
	}
	return nil, fmt.Errorf("template %s (locale %s): %w", templateID, locale, apperr.ErrNotFound)
}

// Render fills subject and body from data. Missing keys render as empty.
func (s *emailTemplateService) Render(ctx context.Context, templateID, locale string, data map[string]interface{}) (string, string, error) {
	tpl, err := s.GetTemplate(ctx, templateID, locale)
	if err != nil {
		return "", "", err
	}
	subject, err := execute(templateID+".subject", tpl.Subject, data)
	if err != nil {
		return "", "", err
	}
	body, err := execute(templateID+".body", tpl.Body, data)
	if err != nil {
		return "", "", err
	}
	return subject, body, nil
}

// execute renders over a map of strings: a missing key of a string map is "",
// where an interface map would print "<no value>".
func execute(name, text string, data map[string]interface{}) (string, error) {
	t, err := template.New(name).Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", name, err)
	}
	values := make(map[string]string, len(data))
	for k, v := range data {
		if v != nil {
			values[k] = fmt.Sprint(v)
		}
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, values); err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return buf.String(), nil
}

// SaveTemplate upserts by template id and locale.
func (s *emailTemplateService) SaveTemplate(ctx context.Context, tpl *models.EmailTemplate) error {
	if tpl.TemplateID == "" || tpl.Locale == "" {
		return apperr.Invalid("template_id", "template id and locale are required")
	}
	if _, err := template.New("check").Parse(tpl.Subject + tpl.Body); err != nil {
		return apperr.Invalid("body", "%s", err.Error())
	}
	tpl.GenIDIfEmpty()
	filter := bson.M{"template_id": tpl.TemplateID, "locale": tpl.Locale}
	update := bson.M{
		"$set":         bson.M{"subject": tpl.Subject, "body": tpl.Body},
		"$setOnInsert": bson.M{"_id": tpl.ID},
	}
	if _, err := s.collection().UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("error saving template: %w", err)
	}
	return nil
}

func (s *emailTemplateService) DeleteTemplate(ctx context.Context, templateID, locale string) error {
	_, err := s.collection().DeleteOne(ctx, bson.M{"template_id": templateID, "locale": locale})
	if err != nil {
		return fmt.Errorf("error deleting template: %w", err)
	}
	return nil
}
