package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Medard-prog/web-whisperer-sub001/internal/apperr"
	"github.com/Medard-prog/web-whisperer-sub001/internal/db"
	"github.com/Medard-prog/web-whisperer-sub001/internal/logger"
	"github.com/Medard-prog/web-whisperer-sub001/internal/models"
	"github.com/Medard-prog/web-whisperer-sub001/internal/utils"
)

const maxMessageLength = 10000

// AllowedAttachmentTypes lists the MIME types a message may carry.
var AllowedAttachmentTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/gif":       true,
	"image/webp":      true,
	"application/pdf": true,
	"text/plain":      true,
	"application/zip": true,
}

// MessagePublisher pushes stored messages to live subscribers.
type MessagePublisher interface {
	Publish(ctx context.Context, msg *models.Message) error
}

// NewMessage is the input of Send. ClientID addresses a support thread and is
// only read for administrators; clients always write to their own.
type NewMessage struct {
	ProjectID  *utils.SixID       `json:"project_id,omitempty"`
	ClientID   *utils.SixID       `json:"client_id,omitempty"`
	Content    string             `json:"content"`
	Attachment *models.Attachment `json:"attachment,omitempty"`
}

// IMessageService stores project and support conversations.
type IMessageService interface {
	Send(ctx context.Context, actor Actor, in NewMessage) (*models.Message, error)
	ListByProject(ctx context.Context, actor Actor, projectID utils.SixID, since *time.Time) ([]models.Message, error)
	ListSupport(ctx context.Context, actor Actor, clientID utils.SixID, since *time.Time) ([]models.Message, error)
}

type messageService struct {
	db        *mongo.Database
	projects  IProjectService
	publisher MessagePublisher
}

func NewMessageService(database *mongo.Database, projects IProjectService, publisher MessagePublisher) IMessageService {
	return &messageService{db: database, projects: projects, publisher: publisher}
}

func (s *messageService) collection() *mongo.Collection {
	return s.db.Collection(db.MessagesCollection)
}

func validateMessage(in *NewMessage) error {
	in.Content = strings.TrimSpace(in.Content)
	if in.Content == "" && in.Attachment == nil {
		return apperr.Invalid("content", "message is empty")
	}
	if len(in.Content) > maxMessageLength {
		return apperr.Invalid("content", "must be at most %d characters", maxMessageLength)
	}
	if a := in.Attachment; a != nil {
		if a.URL == "" {
			return apperr.Invalid("attachment", "url is required")
		}
		if !AllowedAttachmentTypes[a.MimeType] {
			return apperr.Invalid("attachment", "type %q is not allowed", a.MimeType)
		}
	}
	return nil
}

// threadOwner resolves whose conversation a message belongs to and checks
// the actor may write to it.
func (s *messageService) threadOwner(ctx context.Context, actor Actor, projectID, clientID *utils.SixID) (utils.SixID, error) {
	if projectID != nil {
		p, err := s.projects.FindForActor(ctx, actor, *projectID)
		if err != nil {
			return utils.SixID{}, err
		}
		if p.UserID == nil {
			return utils.SixID{}, apperr.Invalid("project_id", "project has no client account")
		}
		return *p.UserID, nil
	}
	if !actor.IsAdmin {
		return actor.UserID, nil
	}
	if clientID == nil || clientID.IsZero() {
		return utils.SixID{}, apperr.Invalid("client_id", "is required for support replies")
	}
	return *clientID, nil
}

// Send stores a message and publishes it. A publish failure is logged; the
// stored message is still returned.
func (s *messageService) Send(ctx context.Context, actor Actor, in NewMessage) (*models.Message, error) {
	if err := validateMessage(&in); err != nil {
		return nil, err
	}
	owner, err := s.threadOwner(ctx, actor, in.ProjectID, in.ClientID)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		ProjectID:  in.ProjectID,
		UserID:     owner,
		SenderID:   actor.UserID,
		IsAdmin:    actor.IsAdmin,
		Content:    in.Content,
		Attachment: in.Attachment,
		CreatedAt:  time.Now().UTC(),
	}
	if _, err := db.InsertNew(ctx, s.collection(), msg); err != nil {
		return nil, apperr.Backend("insert message", err)
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, msg); err != nil {
			logger.Warnf("Message %s stored but not published: %v", msg.ID, err)
		}
	}
	return msg, nil
}

func (s *messageService) list(ctx context.Context, filter bson.M, since *time.Time) ([]models.Message, error) {
	if since != nil {
		filter["created_at"] = bson.M{"$gt": since.UTC()}
	}
	cursor, err := s.collection().Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, apperr.Backend("find messages", err)
	}
	messages := []models.Message{}
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, apperr.Backend("decode messages", err)
	}
	return messages, nil
}

// ListByProject returns a project's thread, oldest first.
func (s *messageService) ListByProject(ctx context.Context, actor Actor, projectID utils.SixID, since *time.Time) ([]models.Message, error) {
	if _, err := s.projects.FindForActor(ctx, actor, projectID); err != nil {
		return nil, err
	}
	return s.list(ctx, bson.M{"project_id": projectID}, since)
}

// ListSupport returns the general thread of a client, i.e. messages with no project.
func (s *messageService) ListSupport(ctx context.Context, actor Actor, clientID utils.SixID, since *time.Time) ([]models.Message, error) {
	if !actor.IsAdmin && actor.UserID != clientID {
		return nil, fmt.Errorf("support thread of %s: %w", clientID, apperr.ErrForbidden)
	}
	return s.list(ctx, bson.M{"user_id": clientID, "project_id": nil}, since)
}
