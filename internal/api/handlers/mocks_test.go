package handlers_test

import (
	"context"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/mock"

	"github.com/Medard-prog/web-whisperer-sub001/internal/api/handlers"
	"github.com/Medard-prog/web-whisperer-sub001/internal/models"
	"github.com/Medard-prog/web-whisperer-sub001/internal/pricing"
	"github.com/Medard-prog/web-whisperer-sub001/internal/services"
	"github.com/Medard-prog/web-whisperer-sub001/internal/session"
	"github.com/Medard-prog/web-whisperer-sub001/internal/storage"
	"github.com/Medard-prog/web-whisperer-sub001/internal/utils"
	"github.com/Medard-prog/web-whisperer-sub001/internal/wizard"
)

// --- Mocks ---

// MockUserService
type MockUserService struct {
	mock.Mock
}

func userResult(args mock.Arguments) (*models.User, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) SignUp(ctx context.Context, in services.SignUpInput) (*models.User, error) {
	return userResult(m.Called(ctx, in))
}
func (m *MockUserService) CreateAdmin(ctx context.Context, in services.SignUpInput) (*models.User, error) {
	return userResult(m.Called(ctx, in))
}
func (m *MockUserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	return userResult(m.Called(ctx, email, password))
}
func (m *MockUserService) FindByID(ctx context.Context, userID utils.SixID) (*models.User, error) {
	return userResult(m.Called(ctx, userID))
}
func (m *MockUserService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return userResult(m.Called(ctx, email))
}
func (m *MockUserService) UpdateProfile(ctx context.Context, userID utils.SixID, upd models.ProfileUpdate) (*models.User, error) {
	return userResult(m.Called(ctx, userID, upd))
}
func (m *MockUserService) SetPassword(ctx context.Context, userID utils.SixID, password string) error {
	return m.Called(ctx, userID, password).Error(0)
}
func (m *MockUserService) ListClients(ctx context.Context, page services.Page) ([]models.User, error) {
	args := m.Called(ctx, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.User), args.Error(1)
}
func (m *MockUserService) ListAdmins(ctx context.Context) ([]models.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.User), args.Error(1)
}

// MockLinkedActionService
type MockLinkedActionService struct {
	mock.Mock
}

func actionResult(args mock.Arguments) (*models.LinkedAction, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LinkedAction), args.Error(1)
}

func (m *MockLinkedActionService) CreatePasswordResetAction(ctx context.Context, userID utils.SixID) (*models.LinkedAction, error) {
	return actionResult(m.Called(ctx, userID))
}
func (m *MockLinkedActionService) FindAndValidateAction(ctx context.Context, actionIDStr string, actionType models.LinkedActionType) (*models.LinkedAction, error) {
	return actionResult(m.Called(ctx, actionIDStr, actionType))
}
func (m *MockLinkedActionService) ConsumeAction(ctx context.Context, actionIDStr string, actionType models.LinkedActionType) (*models.LinkedAction, error) {
	return actionResult(m.Called(ctx, actionIDStr, actionType))
}

// MockRequestService
type MockRequestService struct {
	mock.Mock
}

func (m *MockRequestService) CreateRequest(ctx context.Context, req *models.ProjectRequest) error {
	args := m.Called(ctx, req)
	if args.Error(0) == nil && req.ID.IsZero() {
		req.ID = utils.NewSixID()
	}
	return args.Error(0)
}
func (m *MockRequestService) FindByID(ctx context.Context, id utils.SixID) (*models.ProjectRequest, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ProjectRequest), args.Error(1)
}
func (m *MockRequestService) List(ctx context.Context, f services.RequestFilter) ([]models.ProjectRequest, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ProjectRequest), args.Error(1)
}
func (m *MockRequestService) CountStale(ctx context.Context, createdBefore time.Time) (int64, error) {
	args := m.Called(ctx, createdBefore)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockRequestService) UpdateStatus(ctx context.Context, id utils.SixID, status models.Status) (*services.StatusChange, error) {
	args := m.Called(ctx, id, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.StatusChange), args.Error(1)
}
func (m *MockRequestService) Delete(ctx context.Context, id utils.SixID) error {
	return m.Called(ctx, id).Error(0)
}

// MockProjectService
type MockProjectService struct {
	mock.Mock
}

func projectResult(args mock.Arguments) (*models.Project, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Project), args.Error(1)
}

func (m *MockProjectService) Create(ctx context.Context, p *models.Project) (*models.Project, error) {
	return projectResult(m.Called(ctx, p))
}
func (m *MockProjectService) FindByID(ctx context.Context, id utils.SixID) (*models.Project, error) {
	return projectResult(m.Called(ctx, id))
}
func (m *MockProjectService) FindForActor(ctx context.Context, actor services.Actor, id utils.SixID) (*models.Project, error) {
	return projectResult(m.Called(ctx, actor, id))
}
func (m *MockProjectService) List(ctx context.Context, f services.ProjectFilter) ([]models.Project, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Project), args.Error(1)
}
func (m *MockProjectService) UpdateStatus(ctx context.Context, id utils.SixID, status models.Status) (*models.Project, error) {
	return projectResult(m.Called(ctx, id, status))
}
func (m *MockProjectService) RecordPayment(ctx context.Context, id utils.SixID, amount pricing.Amount) (*models.Project, error) {
	return projectResult(m.Called(ctx, id, amount))
}
func (m *MockProjectService) SetDueDate(ctx context.Context, id utils.SixID, due *time.Time) (*models.Project, error) {
	return projectResult(m.Called(ctx, id, due))
}
func (m *MockProjectService) AddModificationRequest(ctx context.Context, actor services.Actor, id utils.SixID, description string) (*models.ModificationRequest, error) {
	args := m.Called(ctx, actor, id, description)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ModificationRequest), args.Error(1)
}
func (m *MockProjectService) FindDueSoon(ctx context.Context, now time.Time, window time.Duration) ([]models.Project, error) {
	args := m.Called(ctx, now, window)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Project), args.Error(1)
}

// MockMessageService
type MockMessageService struct {
	mock.Mock
}

func (m *MockMessageService) Send(ctx context.Context, actor services.Actor, in services.NewMessage) (*models.Message, error) {
	args := m.Called(ctx, actor, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}
func (m *MockMessageService) ListByProject(ctx context.Context, actor services.Actor, projectID utils.SixID, since *time.Time) ([]models.Message, error) {
	args := m.Called(ctx, actor, projectID, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}
func (m *MockMessageService) ListSupport(ctx context.Context, actor services.Actor, clientID utils.SixID, since *time.Time) ([]models.Message, error) {
	args := m.Called(ctx, actor, clientID, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

// MockBillingService
type MockBillingService struct {
	mock.Mock
}

func (m *MockBillingService) OutstandingForUser(ctx context.Context, userID utils.SixID) (*services.Balance, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.Balance), args.Error(1)
}
func (m *MockBillingService) FindOverduePayments(ctx context.Context, now time.Time) ([]models.Project, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Project), args.Error(1)
}
func (m *MockBillingService) MarkOverdueNotified(ctx context.Context, projectID utils.SixID) error {
	return m.Called(ctx, projectID).Error(0)
}

// MockEmailTemplateService
type MockEmailTemplateService struct {
	mock.Mock
}

func (m *MockEmailTemplateService) GetTemplate(ctx context.Context, templateID, locale string) (*models.EmailTemplate, error) {
	args := m.Called(ctx, templateID, locale)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EmailTemplate), args.Error(1)
}
func (m *MockEmailTemplateService) Render(ctx context.Context, templateID, locale string, data map[string]interface{}) (string, string, error) {
	args := m.Called(ctx, templateID, locale, data)
	return args.String(0), args.String(1), args.Error(2)
}
func (m *MockEmailTemplateService) SaveTemplate(ctx context.Context, tpl *models.EmailTemplate) error {
	return m.Called(ctx, tpl).Error(0)
}
func (m *MockEmailTemplateService) DeleteTemplate(ctx context.Context, templateID, locale string) error {
	return m.Called(ctx, templateID, locale).Error(0)
}

// MockConfigService only implements what the handlers call; the embedded
// interface panics on anything else.
type MockConfigService struct {
	services.IConfigService
	mock.Mock
}

func (m *MockConfigService) GetAllPublic(ctx context.Context) (map[string]interface{}, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]interface{}), args.Error(1)
}
func (m *MockConfigService) SetConfigValue(ctx context.Context, key string, value interface{}, isPublic bool) error {
	return m.Called(ctx, key, value, isPublic).Error(0)
}

// MockS3Storage
type MockS3Storage struct {
	mock.Mock
}

func (m *MockS3Storage) PresignAttachmentUpload(ctx context.Context, userID utils.SixID, filename, contentType string) (*storage.UploadTicket, error) {
	args := m.Called(ctx, userID, filename, contentType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.UploadTicket), args.Error(1)
}
func (m *MockS3Storage) PublicURL(key string) string {
	return m.Called(key).String(0)
}
func (m *MockS3Storage) KeyFromURL(url string) (string, bool) {
	args := m.Called(url)
	return args.String(0), args.Bool(1)
}
func (m *MockS3Storage) GetObject(ctx context.Context, key string) ([]byte, string, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).([]byte), args.String(1), args.Error(2)
}
func (m *MockS3Storage) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	return m.Called(ctx, key, data, contentType).Error(0)
}

// MockAsynqClient
type MockAsynqClient struct {
	mock.Mock
}

func (m *MockAsynqClient) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, task, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*asynq.TaskInfo), args.Error(1)
}

// MockSessionManager
type MockSessionManager struct {
	mock.Mock
}

func sessionResult(args mock.Arguments) (*session.Session, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*session.Session), args.Error(1)
}

func (m *MockSessionManager) Start(ctx context.Context, user *models.User) (*session.Session, error) {
	return sessionResult(m.Called(ctx, user))
}
func (m *MockSessionManager) SignOut(ctx context.Context, s *session.Session) error {
	return m.Called(ctx, s).Error(0)
}
func (m *MockSessionManager) Refresh(ctx context.Context, s *session.Session) (*session.Session, error) {
	return sessionResult(m.Called(ctx, s))
}

// MockNotifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) RequestSubmitted(ctx context.Context, req *models.ProjectRequest) {
	m.Called(ctx, req)
}
func (m *MockNotifier) StatusChanged(ctx context.Context, contact models.Contact, id utils.SixID, title string, status models.Status) {
	m.Called(ctx, contact, id, title, status)
}
func (m *MockNotifier) ProjectStatusChanged(ctx context.Context, p *models.Project) {
	m.Called(ctx, p)
}
func (m *MockNotifier) MessagePosted(ctx context.Context, msg *models.Message, senderName string) {
	m.Called(ctx, msg, senderName)
}
func (m *MockNotifier) PasswordReset(ctx context.Context, email, link string, ttl time.Duration) {
	m.Called(ctx, email, link, ttl)
}
func (m *MockNotifier) Welcome(ctx context.Context, u *models.User) {
	m.Called(ctx, u)
}

// memDrafts keeps drafts as snapshots, the way the Redis store does, so a
// loaded wizard never aliases a saved one.
type memDrafts struct {
	mu      sync.Mutex
	drafts  map[utils.SixID]wizard.Snapshot
	claimed map[utils.SixID]bool
	err     error
}

func newMemDrafts() *memDrafts {
	return &memDrafts{drafts: map[utils.SixID]wizard.Snapshot{}, claimed: map[utils.SixID]bool{}}
}

func (d *memDrafts) Claim(_ context.Context, id utils.SixID) (func(), error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.claimed[id] {
		return nil, wizard.ErrSubmitInProgress
	}
	d.claimed[id] = true
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.claimed, id)
	}, nil
}

func (d *memDrafts) Create(ctx context.Context, w *wizard.Wizard) (utils.SixID, error) {
	if d.err != nil {
		return utils.SixID{}, d.err
	}
	id := utils.NewSixID()
	return id, d.Save(ctx, id, w)
}
func (d *memDrafts) Save(_ context.Context, id utils.SixID, w *wizard.Wizard) error {
	if d.err != nil {
		return d.err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drafts[id] = w.Snapshot()
	return nil
}
func (d *memDrafts) Load(_ context.Context, id utils.SixID) (*wizard.Wizard, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.drafts[id]
	if !ok {
		return nil, wizard.ErrDraftNotFound
	}
	return wizard.Restore(s), nil
}
func (d *memDrafts) Delete(_ context.Context, id utils.SixID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.drafts, id)
	return nil
}
func (d *memDrafts) has(id utils.SixID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.drafts[id]
	return ok
}

// chanFeed is a MessageFeed backed by a plain channel.
type chanFeed struct {
	ch     chan *models.Message
	closed chan struct{}
	once   sync.Once
}

func newChanFeed() *chanFeed {
	return &chanFeed{ch: make(chan *models.Message, 4), closed: make(chan struct{})}
}

func (f *chanFeed) Messages() <-chan *models.Message { return f.ch }
func (f *chanFeed) Close()                           { f.once.Do(func() { close(f.closed) }) }

// MockSubscriber
type MockSubscriber struct {
	mock.Mock
}

func (m *MockSubscriber) Subscribe(ctx context.Context, userID utils.SixID, admin bool) (handlers.MessageFeed, error) {
	args := m.Called(ctx, userID, admin)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(handlers.MessageFeed), args.Error(1)
}
