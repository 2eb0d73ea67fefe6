// Package notify turns domain events into queued notification emails.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/Medard-prog/web-whisperer-sub001/internal/config"
	"github.com/Medard-prog/web-whisperer-sub001/internal/logger"
	"github.com/Medard-prog/web-whisperer-sub001/internal/models"
	"github.com/Medard-prog/web-whisperer-sub001/internal/services"
	"github.com/Medard-prog/web-whisperer-sub001/internal/tasks"
	"github.com/Medard-prog/web-whisperer-sub001/internal/utils"
)

const jobTimeout = 15 * time.Second

// Directory resolves notification recipients.
type Directory interface {
	ListAdmins(ctx context.Context) ([]models.User, error)
	FindByID(ctx context.Context, userID utils.SixID) (*models.User, error)
}

// Notifier queues emails off the request path. Every method returns at once;
// failures are logged and never reach the caller.
type Notifier struct {
	cfg      *config.Config
	enqueuer tasks.Enqueuer
	dir      Directory
	pool     *ants.Pool
	wg       sync.WaitGroup
}

func New(cfg *config.Config, enqueuer tasks.Enqueuer, dir Directory) (*Notifier, error) {
	size := cfg.NotifyPoolSize
	if size <= 0 {
		size = 4
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create notify pool: %w", err)
	}
	return &Notifier{cfg: cfg, enqueuer: enqueuer, dir: dir, pool: pool}, nil
}

// Wait blocks until every submitted notification has been handled.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) Close() {
	n.wg.Wait()
	n.pool.Release()
}

// submit runs fn on the pool with a context detached from the request, which
// usually ends before the job runs.
func (n *Notifier) submit(ctx context.Context, what string, fn func(ctx context.Context)) {
	base := context.WithoutCancel(ctx)
	n.wg.Add(1)
	err := n.pool.Submit(func() {
		defer n.wg.Done()
		jobCtx, cancel := context.WithTimeout(base, jobTimeout)
		defer cancel()
		fn(jobCtx)
	})
	if err != nil {
		n.wg.Done()
		logger.Errorf("Notification %s dropped: %v", what, err)
	}
}

func (n *Notifier) send(ctx context.Context, to, templateID string, data map[string]interface{}) {
	if to == "" {
		return
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	data["app"] = n.cfg.AppName
	if err := tasks.EnqueueEmail(ctx, n.enqueuer, tasks.EmailTaskPayload{To: to, TemplateID: templateID, Data: data}); err != nil {
		logger.Errorf("Notification %s to %s not queued: %v", templateID, to, err)
	}
}

func (n *Notifier) toAdmins(ctx context.Context, templateID string, data func() map[string]interface{}) {
	admins, err := n.dir.ListAdmins(ctx)
	if err != nil {
		logger.Errorf("Notification %s: failed to list admins: %v", templateID, err)
		return
	}
	for _, a := range admins {
		n.send(ctx, a.Email, templateID, data())
	}
}

func (n *Notifier) link(path string, id utils.SixID) string {
	return fmt.Sprintf("%s/%s/%s", n.cfg.AppBaseURL, path, id)
}

// RequestSubmitted confirms a request to its contact and tells every admin.
func (n *Notifier) RequestSubmitted(ctx context.Context, req *models.ProjectRequest) {
	r := *req
	n.submit(ctx, "request_submitted", func(ctx context.Context) {
		n.send(ctx, r.Contact.Email, services.TemplateRequestReceived, map[string]interface{}{
			"name":  r.Contact.Name,
			"title": r.Title,
			"price": int64(r.Price),
		})
		n.toAdmins(ctx, services.TemplateNewRequestAdmin, func() map[string]interface{} {
			return map[string]interface{}{
				"name":  r.Contact.Name,
				"email": r.Contact.Email,
				"title": r.Title,
				"pages": r.PageCount,
				"tier":  string(r.DesignTier),
				"price": int64(r.Price),
				"link":  n.link("admin/requests", r.ID),
			}
		})
	})
}

// StatusChanged tells the client that a request or project moved.
func (n *Notifier) StatusChanged(ctx context.Context, contact models.Contact, id utils.SixID, title string, status models.Status) {
	n.submit(ctx, "status_changed", func(ctx context.Context) {
		n.send(ctx, contact.Email, services.TemplateProjectStatusChanged, map[string]interface{}{
			"name":   contact.Name,
			"title":  title,
			"status": string(status),
			"link":   n.link("projects", id),
		})
	})
}

// ProjectStatusChanged is StatusChanged for a stored project.
func (n *Notifier) ProjectStatusChanged(ctx context.Context, p *models.Project) {
	n.StatusChanged(ctx, p.Contact, p.ID, p.Title, p.Status)
}

// MessagePosted notifies the other side of a conversation: the owning client
// for admin replies, every admin otherwise.
func (n *Notifier) MessagePosted(ctx context.Context, msg *models.Message, senderName string) {
	m := *msg
	thread := "your support conversation"
	link := n.cfg.AppBaseURL + "/messages"
	if m.ProjectID != nil {
		thread = "project " + m.ProjectID.String()
		link = n.link("projects", *m.ProjectID)
	}
	data := func() map[string]interface{} {
		return map[string]interface{}{
			"thread":  thread,
			"sender":  senderName,
			"content": m.Content,
			"link":    link,
		}
	}

	n.submit(ctx, "message_posted", func(ctx context.Context) {
		if !m.IsAdmin {
			n.toAdmins(ctx, services.TemplateNewMessage, data)
			return
		}
		client, err := n.dir.FindByID(ctx, m.UserID)
		if err != nil {
			logger.Errorf("Notification new_message: client %s: %v", m.UserID, err)
			return
		}
		n.send(ctx, client.Email, services.TemplateNewMessage, data())
	})
}

// PasswordReset sends the one-time link.
func (n *Notifier) PasswordReset(ctx context.Context, email, link string, ttl time.Duration) {
	n.submit(ctx, "password_reset", func(ctx context.Context) {
		n.send(ctx, email, services.TemplatePasswordReset, map[string]interface{}{
			"link": link,
			"ttl":  ttl.String(),
		})
	})
}

func (n *Notifier) Welcome(ctx context.Context, u *models.User) {
	email, name := u.Email, u.Name
	n.submit(ctx, "welcome", func(ctx context.Context) {
		n.send(ctx, email, services.TemplateWelcome, map[string]interface{}{
			"name": name,
			"link": n.cfg.AppBaseURL + "/login",
		})
	})
}
