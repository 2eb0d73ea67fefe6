package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Medard-prog/web-whisperer-sub001/internal/logger"
	"github.com/Medard-prog/web-whisperer-sub001/internal/models"
	"github.com/Medard-prog/web-whisperer-sub001/internal/services"
)

const dateLayout = "2006-01-02"

func (p *TaskProcessor) projectLink(id fmt.Stringer) string {
	return fmt.Sprintf("%s/projects/%s", p.cfg.AppBaseURL, id)
}

// HandleDueReminderTask emails the client of every open project due within
// the reminder window.
func (p *TaskProcessor) HandleDueReminderTask(ctx context.Context, t *asynq.Task) error {
	days := p.settings.GetInt(ctx, services.KeyDueReminderDays, p.cfg.DueReminderWindowDays)
	window := time.Duration(days) * 24 * time.Hour

	projects, err := p.projects.FindDueSoon(ctx, p.now(), window)
	if err != nil {
		return fmt.Errorf("failed to find projects due soon: %w", err)
	}

	sent := 0
	for i := range projects {
		pr := &projects[i]
		if pr.Contact.Email == "" || pr.DueDate == nil {
			continue
		}
		err := EnqueueEmail(ctx, p.enqueuer, EmailTaskPayload{
			To:         pr.Contact.Email,
			TemplateID: services.TemplateDueReminder,
			Data: map[string]interface{}{
				"name":   pr.Contact.Name,
				"title":  pr.Title,
				"due":    pr.DueDate.Format(dateLayout),
				"status": string(pr.Status),
				"link":   p.projectLink(pr.ID),
			},
		})
		if err != nil {
			logger.Errorf("Due reminder for project %s not queued: %v", pr.ID, err)
			continue
		}
		sent++
	}
	logger.Infof("Due reminder task finished: %d of %d projects notified", sent, len(projects))
	return nil
}

// HandleStaleDigestTask tells every admin how many requests have been
// waiting in status new for too long.
func (p *TaskProcessor) HandleStaleDigestTask(ctx context.Context, t *asynq.Task) error {
	hours := p.settings.GetInt(ctx, services.KeyStaleRequestHours, int(p.cfg.StaleRequestAge/time.Hour))
	age := time.Duration(hours) * time.Hour

	count, err := p.requests.CountStale(ctx, p.now().Add(-age))
	if err != nil {
		return fmt.Errorf("failed to count stale requests: %w", err)
	}
	if count == 0 {
		logger.Debugf("No stale requests")
		return nil
	}

	admins, err := p.users.ListAdmins(ctx)
	if err != nil {
		return fmt.Errorf("failed to list admins: %w", err)
	}
	for _, admin := range admins {
		err := EnqueueEmail(ctx, p.enqueuer, EmailTaskPayload{
			To:         admin.Email,
			TemplateID: services.TemplateStaleDigest,
			Data: map[string]interface{}{
				"count": count,
				"age":   age.String(),
				"link":  p.cfg.AppBaseURL + "/admin/requests",
			},
		})
		if err != nil {
			logger.Errorf("Stale digest for %s not queued: %v", admin.Email, err)
		}
	}
	logger.Infof("Stale digest task finished: %d stale requests, %d admins", count, len(admins))
	return nil
}

// HandleOverdueCheckTask emails each overdue client once. A project is
// marked only after its email is queued, so a failed enqueue is retried on
// the next run.
func (p *TaskProcessor) HandleOverdueCheckTask(ctx context.Context, t *asynq.Task) error {
	projects, err := p.billing.FindOverduePayments(ctx, p.now())
	if err != nil {
		return fmt.Errorf("failed to find overdue payments: %w", err)
	}

	notified := 0
	for i := range projects {
		pr := &projects[i]
		if pr.Contact.Email == "" {
			continue
		}
		if err := EnqueueEmail(ctx, p.enqueuer, overdueEmail(pr, p.projectLink(pr.ID))); err != nil {
			logger.Errorf("Overdue notice for project %s not queued: %v", pr.ID, err)
			continue
		}
		if err := p.billing.MarkOverdueNotified(ctx, pr.ID); err != nil {
			logger.Errorf("Project %s notified but not marked: %v", pr.ID, err)
			continue
		}
		notified++
	}
	logger.Infof("Overdue check finished: %d of %d projects notified", notified, len(projects))
	return nil
}

func overdueEmail(pr *models.Project, link string) EmailTaskPayload {
	due := ""
	if pr.DueDate != nil {
		due = pr.DueDate.Format(dateLayout)
	}
	return EmailTaskPayload{
		To:         pr.Contact.Email,
		TemplateID: services.TemplatePaymentOverdue,
		Data: map[string]interface{}{
			"name":        pr.Contact.Name,
			"title":       pr.Title,
			"outstanding": int64(pr.Outstanding()),
			"due":         due,
			"link":        link,
		},
	}
}
