package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/Medard-prog/web-whisperer-sub001/internal/apperr"
	"github.com/Medard-prog/web-whisperer-sub001/internal/config"
	"github.com/Medard-prog/web-whisperer-sub001/internal/email"
	"github.com/Medard-prog/web-whisperer-sub001/internal/logger"
	"github.com/Medard-prog/web-whisperer-sub001/internal/metrics"
	"github.com/Medard-prog/web-whisperer-sub001/internal/services"
	"github.com/Medard-prog/web-whisperer-sub001/internal/storage"
)

const (
	TypeEmailDelivery     = "email:deliver"
	TypeAttachmentProcess = "attachment:process"
	TypeDueReminder       = "project:due_reminder"
	TypeStaleDigest       = "request:stale_digest"
	TypeOverdueCheck      = "billing:overdue_check"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
	QueueImages   = "images"
)

// Enqueuer is the part of *asynq.Client handlers and notifiers need.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// RedisOpt reuses the connection settings of an existing go-redis client.
func RedisOpt(rdb *redis.Client) asynq.RedisClientOpt {
	o := rdb.Options()
	return asynq.RedisClientOpt{Addr: o.Addr, Password: o.Password, DB: o.DB}
}

func NewClient(rdb *redis.Client) *asynq.Client {
	return asynq.NewClient(RedisOpt(rdb))
}

// TaskProcessor holds the dependencies of every task handler.
type TaskProcessor struct {
	cfg       *config.Config
	sender    email.Sender
	storage   storage.IS3Storage
	templates services.IEmailTemplateService
	projects  services.IProjectService
	requests  services.IRequestService
	billing   services.IBillingService
	users     services.IUserService
	settings  services.IConfigService
	enqueuer  Enqueuer
	now       func() time.Time
}

// Deps groups the collaborators of NewTaskProcessor. Handlers whose
// dependency is nil are not registered.
type Deps struct {
	Sender    email.Sender
	Storage   storage.IS3Storage
	Templates services.IEmailTemplateService
	Projects  services.IProjectService
	Requests  services.IRequestService
	Billing   services.IBillingService
	Users     services.IUserService
	Settings  services.IConfigService
	Enqueuer  Enqueuer
}

func NewTaskProcessor(cfg *config.Config, d Deps) *TaskProcessor {
	return &TaskProcessor{
		cfg:       cfg,
		sender:    d.Sender,
		storage:   d.Storage,
		templates: d.Templates,
		projects:  d.Projects,
		requests:  d.Requests,
		billing:   d.Billing,
		users:     d.Users,
		settings:  d.Settings,
		enqueuer:  d.Enqueuer,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Mux registers the handlers a worker mode runs. It returns nil when the
// mode runs none.
func (p *TaskProcessor) Mux(bgWorker, imageWorker bool) *asynq.ServeMux {
	if !bgWorker && !imageWorker {
		return nil
	}
	mux := asynq.NewServeMux()
	if bgWorker {
		mux.HandleFunc(TypeEmailDelivery, instrument(TypeEmailDelivery, p.HandleEmailDeliveryTask))
		mux.HandleFunc(TypeDueReminder, instrument(TypeDueReminder, p.HandleDueReminderTask))
		mux.HandleFunc(TypeStaleDigest, instrument(TypeStaleDigest, p.HandleStaleDigestTask))
		mux.HandleFunc(TypeOverdueCheck, instrument(TypeOverdueCheck, p.HandleOverdueCheckTask))
		logger.Infof("Registered background task handlers")
	}
	if imageWorker {
		mux.HandleFunc(TypeAttachmentProcess, instrument(TypeAttachmentProcess, p.HandleAttachmentProcessTask))
		logger.Infof("Registered attachment processing task handler")
	}
	return mux
}

// SetupServer builds the asynq server and its mux. The caller runs and
// shuts it down. Both are nil in API-only mode.
func SetupServer(rdb *redis.Client, processor *TaskProcessor, bgWorker, imageWorker bool) (*asynq.Server, *asynq.ServeMux) {
	mux := processor.Mux(bgWorker, imageWorker)
	if mux == nil {
		logger.Infof("Running in API mode, no task server started")
		return nil, nil
	}
	queues := map[string]int{QueueCritical: 6, QueueDefault: 3, QueueLow: 1}
	if imageWorker {
		queues[QueueImages] = 5
	}
	if !bgWorker {
		queues = map[string]int{QueueImages: 1}
	}
	srv := asynq.NewServer(RedisOpt(rdb), asynq.Config{
		Queues: queues,
		Logger: logger.With("component", "asynq"),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Errorf("Task %s failed: %v (payload %s)", task.Type(), err, task.Payload())
		}),
	})
	return srv, mux
}

func instrument(taskType string, h asynq.HandlerFunc) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		err := h(ctx, t)
		metrics.TasksProcessed.WithLabelValues(taskType, metrics.TaskResult(err)).Inc()
		return err
	}
}

// EmailTaskPayload names a template and the data to render it with.
type EmailTaskPayload struct {
	To         string                 `json:"to"`
	TemplateID string                 `json:"template_id"`
	Locale     string                 `json:"locale,omitempty"`
	Data       map[string]interface{} `json:"data"`
}

// NewEmailTask builds an email:deliver task on the critical queue.
func NewEmailTask(payload EmailTaskPayload) (*asynq.Task, error) {
	if payload.To == "" || payload.TemplateID == "" {
		return nil, errors.New("email task needs a recipient and a template")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal email task payload: %w", err)
	}
	return asynq.NewTask(TypeEmailDelivery, data, asynq.Queue(QueueCritical), asynq.MaxRetry(8)), nil
}

// EnqueueEmail is the shorthand used by the notifier and the periodic tasks.
func EnqueueEmail(ctx context.Context, enq Enqueuer, payload EmailTaskPayload) error {
	task, err := NewEmailTask(payload)
	if err != nil {
		return err
	}
	if _, err := enq.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("failed to enqueue %s email to %s: %w", payload.TemplateID, payload.To, err)
	}
	return nil
}

func (p *TaskProcessor) HandleEmailDeliveryTask(ctx context.Context, t *asynq.Task) error {
	var payload EmailTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal email task payload: %v: %w", err, asynq.SkipRetry)
	}
	locale := payload.Locale
	if locale == "" {
		locale = services.DefaultLocale
	}

	subject, body, err := p.templates.Render(ctx, payload.TemplateID, locale, payload.Data)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return fmt.Errorf("email template %s: %v: %w", payload.TemplateID, err, asynq.SkipRetry)
		}
		return err
	}

	from := p.cfg.SmtpFromAddress
	if from == "" {
		from = "noreply@example.com"
	}
	raw := email.BuildMessage(from, []string{payload.To}, subject, body, p.now())
	if err := p.sender.Send(ctx, []string{payload.To}, subject, raw); err != nil {
		logger.Warnf("Email %s to %s failed, will retry: %v", payload.TemplateID, payload.To, err)
		return err
	}
	logger.Infof("Email task processed: To=%s, Template=%s", payload.To, payload.TemplateID)
	return nil
}

// NewPeriodicTask builds one of the payload-less scheduled tasks. Unique
// keeps a slow run from piling up duplicates.
func NewPeriodicTask(taskType string) *asynq.Task {
	return asynq.NewTask(taskType, nil, asynq.Queue(QueueLow), asynq.MaxRetry(2), asynq.Unique(30*time.Minute))
}
