package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Medard-prog/web-whisperer-sub001/internal/apperr"
	"github.com/Medard-prog/web-whisperer-sub001/internal/config"
	"github.com/Medard-prog/web-whisperer-sub001/internal/logger"
	"github.com/Medard-prog/web-whisperer-sub001/internal/metrics"
	"github.com/Medard-prog/web-whisperer-sub001/internal/models"
	"github.com/Medard-prog/web-whisperer-sub001/internal/services"
	"github.com/Medard-prog/web-whisperer-sub001/internal/session"
	"github.com/Medard-prog/web-whisperer-sub001/internal/storage"
	"github.com/Medard-prog/web-whisperer-sub001/internal/tasks"
	"github.com/Medard-prog/web-whisperer-sub001/internal/utils"
	"github.com/Medard-prog/web-whisperer-sub001/internal/wizard"
)

// DraftStore keeps unfinished request forms between calls.
type DraftStore interface {
	Create(ctx context.Context, w *wizard.Wizard) (utils.SixID, error)
	Save(ctx context.Context, id utils.SixID, w *wizard.Wizard) error
	Load(ctx context.Context, id utils.SixID) (*wizard.Wizard, error)
	Delete(ctx context.Context, id utils.SixID) error
	// Claim keeps concurrent submits of one draft apart.
	Claim(ctx context.Context, id utils.SixID) (release func(), err error)
}

// SessionManager is the part of session.Manager the API drives directly.
// Restoring a session from a token is the middleware's job.
type SessionManager interface {
	Start(ctx context.Context, user *models.User) (*session.Session, error)
	SignOut(ctx context.Context, s *session.Session) error
	Refresh(ctx context.Context, s *session.Session) (*session.Session, error)
}

// Notifier receives the domain events that produce emails.
type Notifier interface {
	RequestSubmitted(ctx context.Context, req *models.ProjectRequest)
	StatusChanged(ctx context.Context, contact models.Contact, id utils.SixID, title string, status models.Status)
	ProjectStatusChanged(ctx context.Context, p *models.Project)
	MessagePosted(ctx context.Context, msg *models.Message, senderName string)
	PasswordReset(ctx context.Context, email, link string, ttl time.Duration)
	Welcome(ctx context.Context, u *models.User)
}

// JsonApiRequest defines the expected structure for JSON API requests.
type JsonApiRequest struct {
	Method    string          `json:"method"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// JsonApiResponse defines the structure for JSON API responses.
type JsonApiResponse struct {
	Success bool              `json:"success"`
	Data    interface{}       `json:"data,omitempty"`
	Error   string            `json:"error,omitempty"`
	Code    string            `json:"code,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// apiMethodFunc defines the signature for handler methods.
type apiMethodFunc func(c *gin.Context, args json.RawMessage) (interface{}, *ApiError)

type access int

const (
	accessPublic access = iota
	accessUser
	accessAdmin
)

type apiMethod struct {
	fn     apiMethodFunc
	access access
}

// JsonApiDeps are the collaborators of the JSON API.
type JsonApiDeps struct {
	Drafts    DraftStore
	Sessions  SessionManager
	Notifier  Notifier
	Requests  services.IRequestService
	Projects  services.IProjectService
	Messages  services.IMessageService
	Users     services.IUserService
	Actions   services.ILinkedActionService
	Billing   services.IBillingService
	Templates services.IEmailTemplateService
	Settings  services.IConfigService
	Storage   storage.IS3Storage
	Tasks     tasks.Enqueuer
}

// JsonApiHandler serves POST /v1/api.
type JsonApiHandler struct {
	cfg *config.Config
	JsonApiDeps
	methods map[string]apiMethod
}

func NewJsonApiHandler(cfg *config.Config, deps JsonApiDeps) *JsonApiHandler {
	h := &JsonApiHandler{cfg: cfg, JsonApiDeps: deps}
	public := func(fn apiMethodFunc) apiMethod { return apiMethod{fn: fn, access: accessPublic} }
	user := func(fn apiMethodFunc) apiMethod { return apiMethod{fn: fn, access: accessUser} }
	admin := func(fn apiMethodFunc) apiMethod { return apiMethod{fn: fn, access: accessAdmin} }

	h.methods = map[string]apiMethod{
		"ping":       public(h.ping),
		"quotePrice": public(h.quotePrice),

		// request form
		"startRequest":     public(h.startRequest),
		"updateRequest":    public(h.updateRequest),
		"addExampleURL":    public(h.addExampleURL),
		"removeExampleURL": public(h.removeExampleURL),
		"nextStep":         public(h.nextStep),
		"previousStep":     public(h.previousStep),
		"submitRequest":    public(h.submitRequest),

		// auth
		"signUp":                public(h.signUp),
		"signIn":                public(h.signIn),
		"getSession":            public(h.getSession),
		"signOut":               user(h.signOut),
		"refreshSession":        user(h.refreshSession),
		"updateUser":            user(h.updateUser),
		"resetPasswordForEmail": public(h.resetPasswordForEmail),
		"completePasswordReset": public(h.completePasswordReset),

		// client dashboard
		"listMyRequests":         user(h.listMyRequests),
		"listMyProjects":         user(h.listMyProjects),
		"getProject":             user(h.getProject),
		"requestModification":    user(h.requestModification),
		"sendMessage":            user(h.sendMessage),
		"listMessages":           user(h.listMessages),
		"getAttachmentUploadURL": user(h.getAttachmentUploadURL),
		"getOutstandingBalance":  user(h.getOutstandingBalance),

		// administration
		"listRequests":        admin(h.listRequests),
		"updateRequestStatus": admin(h.updateRequestStatus),
		"deleteRequest":       admin(h.deleteRequest),
		"listProjects":        admin(h.listProjects),
		"createProject":       admin(h.createProject),
		"updateProjectStatus": admin(h.updateProjectStatus),
		"recordPayment":       admin(h.recordPayment),
		"setDueDate":          admin(h.setDueDate),
		"listClients":         admin(h.listClients),
		"getClient":           admin(h.getClient),
		"listOverduePayments": admin(h.listOverduePayments),
		"saveEmailTemplate":   admin(h.saveEmailTemplate),
		"setConfigValue":      admin(h.setConfigValue),
	}
	return h
}

// HandleRequest is the main entry point for POST /v1/api
func (h *JsonApiHandler) HandleRequest(c *gin.Context) {
	bodyBytes, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.sendErrorResponse(c, "unknown", NewApiError("Failed to read request body"))
		return
	}

	var req JsonApiRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		h.sendErrorResponse(c, "unknown", NewApiError("Invalid JSON request format"))
		return
	}

	m, ok := h.methods[req.Method]
	if !ok {
		h.sendErrorResponse(c, "unknown", NewApiError(fmt.Sprintf("Unknown method: %s", req.Method)))
		return
	}
	if apiErr := checkAccess(c, m.access); apiErr != nil {
		h.sendErrorResponse(c, req.Method, apiErr)
		return
	}

	result, apiErr := m.fn(c, req.Arguments)
	if apiErr != nil {
		h.sendErrorResponse(c, req.Method, apiErr)
		return
	}
	h.sendSuccessResponse(c, req.Method, result)
}

func checkAccess(c *gin.Context, level access) *ApiError {
	if level == accessPublic {
		return nil
	}
	sess := session.FromContext(c.Request.Context())
	if sess == nil {
		return &ApiError{Code: "unauthenticated", Message: "Sign in required"}
	}
	if level == accessAdmin && !sess.IsAdmin {
		return &ApiError{Code: "forbidden", Message: "Administrator privileges required"}
	}
	return nil
}

// currentSession is nil for anonymous callers.
func currentSession(c *gin.Context) *session.Session {
	return session.FromContext(c.Request.Context())
}

func (h *JsonApiHandler) sendSuccessResponse(c *gin.Context, method string, data interface{}) {
	metrics.JSONAPICalls.WithLabelValues(method, "ok").Inc()
	c.JSON(http.StatusOK, JsonApiResponse{Success: true, Data: data})
}

func (h *JsonApiHandler) sendErrorResponse(c *gin.Context, method string, apiErr *ApiError) {
	metrics.JSONAPICalls.WithLabelValues(method, "error").Inc()
	c.JSON(http.StatusOK, JsonApiResponse{
		Success: false,
		Error:   apiErr.Message,
		Code:    apiErr.Code,
		Fields:  apiErr.Fields,
	})
}

type ApiError struct {
	Code    string
	Message string
	Fields  map[string]string
}

func (e *ApiError) Error() string {
	return e.Message
}

func NewApiError(message string) *ApiError {
	return &ApiError{Code: "bad_request", Message: message}
}

// toApiError maps a service error onto what the caller is allowed to see.
// Validation problems come back with their field messages; unexpected
// failures are logged here and reported generically.
func toApiError(op string, err error) *ApiError {
	var list apperr.ValidationErrors
	var single *apperr.ValidationError
	switch {
	case errors.As(err, &list):
		return &ApiError{Code: "validation", Message: list.Error(), Fields: list.Fields()}
	case errors.As(err, &single):
		return &ApiError{Code: "validation", Message: single.Error(), Fields: map[string]string{single.Field: single.Message}}
	case errors.Is(err, wizard.ErrDraftNotFound):
		return &ApiError{Code: "draft_not_found", Message: err.Error()}
	case errors.Is(err, wizard.ErrFirstStep), errors.Is(err, wizard.ErrLastStep),
		errors.Is(err, wizard.ErrNotLastStep), errors.Is(err, wizard.ErrSubmitted):
		return &ApiError{Code: "invalid_step", Message: err.Error()}
	case errors.Is(err, apperr.ErrInvalidCredentials):
		return &ApiError{Code: "invalid_credentials", Message: "Invalid email or password"}
	case errors.Is(err, services.ErrActionInvalid):
		return &ApiError{Code: "invalid_link", Message: "This link is invalid or has expired"}
	case errors.Is(err, services.ErrEmailExists):
		return &ApiError{Code: "email_exists", Message: "An account with this email already exists"}
	case errors.Is(err, apperr.ErrNotFound):
		return &ApiError{Code: "not_found", Message: "Not found"}
	case errors.Is(err, apperr.ErrForbidden):
		return &ApiError{Code: "forbidden", Message: "Not allowed"}
	case errors.Is(err, apperr.ErrConflict):
		return &ApiError{Code: "conflict", Message: err.Error()}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.Warnf("%s: cancelled: %v", op, err)
		return &ApiError{Code: "cancelled", Message: "Request cancelled"}
	}
	logger.Errorf("%s failed: %v", op, err)
	return &ApiError{Code: "internal", Message: fmt.Sprintf("Failed to %s", op)}
}

// parseRequiredSingleArgFromArray takes the raw JSON message for 'arguments',
// expects it to be a JSON array with at least one element,
// and unmarshals that first element into targetVarPtr.
func parseRequiredSingleArgFromArray(rawArgPayload json.RawMessage, targetVarPtr interface{}) *ApiError {
	var argArray []json.RawMessage
	if rawArgPayload == nil {
		return NewApiError("Missing 'arguments' field; expected a JSON array with one argument.")
	}
	if err := json.Unmarshal(rawArgPayload, &argArray); err != nil {
		return NewApiError("Invalid 'arguments': expected a JSON array.")
	}
	if len(argArray) == 0 {
		return NewApiError("Invalid 'arguments': array is empty, but one argument is expected.")
	}
	if err := json.Unmarshal(argArray[0], targetVarPtr); err != nil {
		return NewApiError("Invalid format for argument: the first element in 'arguments' array has unexpected structure.")
	}
	return nil
}

// parseOptionalArgs fills targets from the leading elements of 'arguments'.
// Missing elements leave their target untouched.
func parseOptionalArgs(rawArgPayload json.RawMessage, targets ...interface{}) *ApiError {
	if len(rawArgPayload) == 0 || string(rawArgPayload) == "null" {
		return nil
	}
	var argArray []json.RawMessage
	if err := json.Unmarshal(rawArgPayload, &argArray); err != nil {
		return NewApiError("Invalid 'arguments': expected a JSON array.")
	}
	for i, target := range targets {
		if i >= len(argArray) {
			break
		}
		if err := json.Unmarshal(argArray[i], target); err != nil {
			return NewApiError(fmt.Sprintf("Invalid format for argument %d.", i+1))
		}
	}
	return nil
}

// parseArgs requires exactly len(targets) elements.
func parseArgs(rawArgPayload json.RawMessage, targets ...interface{}) *ApiError {
	var argArray []json.RawMessage
	if err := json.Unmarshal(rawArgPayload, &argArray); err != nil || len(argArray) != len(targets) {
		return NewApiError(fmt.Sprintf("Invalid 'arguments': expected a JSON array with %d elements.", len(targets)))
	}
	for i, target := range targets {
		if err := json.Unmarshal(argArray[i], target); err != nil {
			return NewApiError(fmt.Sprintf("Invalid format for argument %d.", i+1))
		}
	}
	return nil
}

func parseIDArg(args json.RawMessage) (utils.SixID, *ApiError) {
	var idStr string
	if apiErr := parseRequiredSingleArgFromArray(args, &idStr); apiErr != nil {
		return utils.SixID{}, apiErr
	}
	id, err := utils.ParseSixID(idStr)
	if err != nil {
		return utils.SixID{}, NewApiError("Invalid id format")
	}
	return id, nil
}

func (h *JsonApiHandler) ping(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	return "pong", nil
}
