package handlers

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Medard-prog/web-whisperer-sub001/internal/apperr"
	"github.com/Medard-prog/web-whisperer-sub001/internal/logger"
	"github.com/Medard-prog/web-whisperer-sub001/internal/models"
	"github.com/Medard-prog/web-whisperer-sub001/internal/pricing"
	"github.com/Medard-prog/web-whisperer-sub001/internal/services"
	"github.com/Medard-prog/web-whisperer-sub001/internal/utils"
)

type listFilterArgs struct {
	Status models.Status `json:"status,omitempty"`
	UserID *utils.SixID  `json:"user_id,omitempty"`
	services.Page
}

func (h *JsonApiHandler) listRequests(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var in listFilterArgs
	if apiErr := parseOptionalArgs(args, &in); apiErr != nil {
		return nil, apiErr
	}
	list, err := h.Requests.List(c.Request.Context(), services.RequestFilter{Status: in.Status, UserID: in.UserID, Page: in.Page})
	if err != nil {
		return nil, toApiError("list requests", err)
	}
	return list, nil
}

type statusArgs struct {
	ID     utils.SixID   `json:"id"`
	Status models.Status `json:"status"`
}

// StatusChangeResult is what updateRequestStatus returns. Warning is set when
// the project was created but the request could not be cleaned up.
type StatusChangeResult struct {
	Request *models.ProjectRequest `json:"request,omitempty"`
	Project *models.Project        `json:"project,omitempty"`
	Warning string                 `json:"warning,omitempty"`
}

// updateRequestStatus changes a request's status. Leaving intake moves the
// request into the project set.
func (h *JsonApiHandler) updateRequestStatus(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var in statusArgs
	if apiErr := parseRequiredSingleArgFromArray(args, &in); apiErr != nil {
		return nil, apiErr
	}
	ctx := c.Request.Context()
	change, err := h.Requests.UpdateStatus(ctx, in.ID, in.Status)
	if err != nil {
		return nil, toApiError("update request status", err)
	}
	res := StatusChangeResult{Request: change.Request, Project: change.Project}
	switch {
	case change.Project != nil:
		h.Notifier.ProjectStatusChanged(ctx, change.Project)
	case change.Request != nil:
		r := change.Request
		h.Notifier.StatusChanged(ctx, r.Contact, r.ID, r.Title, r.Status)
	default:
		return nil, toApiError("update request status", apperr.ErrNotFound)
	}
	if change.Partial != nil {
		var partial *apperr.PartialTransitionError
		if errors.As(change.Partial, &partial) {
			logger.Warnf("Request %s moved to project with leftover request record: %v", in.ID, partial.Err)
		}
		res.Warning = "The project was created but the original request could not be removed"
	}
	return res, nil
}

func (h *JsonApiHandler) deleteRequest(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	id, apiErr := parseIDArg(args)
	if apiErr != nil {
		return nil, apiErr
	}
	if err := h.Requests.Delete(c.Request.Context(), id); err != nil {
		return nil, toApiError("delete request", err)
	}
	logger.Infof("Request %s deleted by %s", id, currentSession(c).UserID)
	return true, nil
}

func (h *JsonApiHandler) listProjects(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var in listFilterArgs
	if apiErr := parseOptionalArgs(args, &in); apiErr != nil {
		return nil, apiErr
	}
	list, err := h.Projects.List(c.Request.Context(), services.ProjectFilter{Status: in.Status, UserID: in.UserID, Page: in.Page})
	if err != nil {
		return nil, toApiError("list projects", err)
	}
	return list, nil
}

type createProjectArgs struct {
	models.ProjectSpec
	UserID  *utils.SixID   `json:"user_id,omitempty"`
	Contact models.Contact `json:"contact"`
	Status  models.Status  `json:"status,omitempty"`
	DueDate *time.Time     `json:"due_date,omitempty"`
}

// createProject enters a project directly. When it is linked to a client and
// no contact is given, the client's profile is used.
func (h *JsonApiHandler) createProject(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var in createProjectArgs
	if apiErr := parseRequiredSingleArgFromArray(args, &in); apiErr != nil {
		return nil, apiErr
	}
	ctx := c.Request.Context()
	contact := in.Contact
	if in.UserID != nil && strings.TrimSpace(contact.Email) == "" {
		client, err := h.Users.FindByID(ctx, *in.UserID)
		if err != nil {
			return nil, toApiError("load client", err)
		}
		contact = client.Contact()
	}
	spec := in.ProjectSpec
	spec.DesignTier = pricing.Tier(strings.ToLower(strings.TrimSpace(string(spec.DesignTier))))
	p, err := h.Projects.Create(ctx, &models.Project{
		ProjectSpec: spec,
		UserID:      in.UserID,
		Contact:     contact,
		Status:      in.Status,
		DueDate:     in.DueDate,
	})
	if err != nil {
		return nil, toApiError("create project", err)
	}
	return p, nil
}

func (h *JsonApiHandler) updateProjectStatus(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var in statusArgs
	if apiErr := parseRequiredSingleArgFromArray(args, &in); apiErr != nil {
		return nil, apiErr
	}
	ctx := c.Request.Context()
	p, err := h.Projects.UpdateStatus(ctx, in.ID, in.Status)
	if err != nil {
		return nil, toApiError("update project status", err)
	}
	h.Notifier.ProjectStatusChanged(ctx, p)
	return p, nil
}

type paymentArgs struct {
	ProjectID utils.SixID    `json:"project_id"`
	Amount    pricing.Amount `json:"amount"`
}

func (h *JsonApiHandler) recordPayment(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var in paymentArgs
	if apiErr := parseRequiredSingleArgFromArray(args, &in); apiErr != nil {
		return nil, apiErr
	}
	p, err := h.Projects.RecordPayment(c.Request.Context(), in.ProjectID, in.Amount)
	if err != nil {
		return nil, toApiError("record payment", err)
	}
	return p, nil
}

type dueDateArgs struct {
	ProjectID utils.SixID `json:"project_id"`
	DueDate   *time.Time  `json:"due_date"`
}

// setDueDate sets or, with a null due_date, clears the deadline.
func (h *JsonApiHandler) setDueDate(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var in dueDateArgs
	if apiErr := parseRequiredSingleArgFromArray(args, &in); apiErr != nil {
		return nil, apiErr
	}
	p, err := h.Projects.SetDueDate(c.Request.Context(), in.ProjectID, in.DueDate)
	if err != nil {
		return nil, toApiError("set due date", err)
	}
	return p, nil
}

func (h *JsonApiHandler) listClients(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var page services.Page
	if apiErr := parseOptionalArgs(args, &page); apiErr != nil {
		return nil, apiErr
	}
	list, err := h.Users.ListClients(c.Request.Context(), page)
	if err != nil {
		return nil, toApiError("list clients", err)
	}
	return list, nil
}

// ClientDetail is a client with the records an administrator looks at first.
type ClientDetail struct {
	User     *models.User            `json:"user"`
	Projects []models.Project        `json:"projects"`
	Requests []models.ProjectRequest `json:"requests"`
	Balance  *services.Balance       `json:"balance"`
}

func (h *JsonApiHandler) getClient(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	id, apiErr := parseIDArg(args)
	if apiErr != nil {
		return nil, apiErr
	}
	ctx := c.Request.Context()
	user, err := h.Users.FindByID(ctx, id)
	if err != nil {
		return nil, toApiError("load client", err)
	}
	projects, err := h.Projects.List(ctx, services.ProjectFilter{UserID: &id})
	if err != nil {
		return nil, toApiError("list client projects", err)
	}
	requests, err := h.Requests.List(ctx, services.RequestFilter{UserID: &id})
	if err != nil {
		return nil, toApiError("list client requests", err)
	}
	balance, err := h.Billing.OutstandingForUser(ctx, id)
	if err != nil {
		return nil, toApiError("load client balance", err)
	}
	return ClientDetail{User: user, Projects: projects, Requests: requests, Balance: balance}, nil
}

func (h *JsonApiHandler) listOverduePayments(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	list, err := h.Billing.FindOverduePayments(c.Request.Context(), time.Now().UTC())
	if err != nil {
		return nil, toApiError("list overdue payments", err)
	}
	return list, nil
}

func (h *JsonApiHandler) saveEmailTemplate(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var tpl models.EmailTemplate
	if apiErr := parseRequiredSingleArgFromArray(args, &tpl); apiErr != nil {
		return nil, apiErr
	}
	if err := h.Templates.SaveTemplate(c.Request.Context(), &tpl); err != nil {
		return nil, toApiError("save email template", err)
	}
	return &tpl, nil
}

type configValueArgs struct {
	Key    string      `json:"key"`
	Value  interface{} `json:"value"`
	Public bool        `json:"public"`
}

func (h *JsonApiHandler) setConfigValue(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var in configValueArgs
	if apiErr := parseRequiredSingleArgFromArray(args, &in); apiErr != nil {
		return nil, apiErr
	}
	if strings.TrimSpace(in.Key) == "" {
		return nil, toApiError("set config value", apperr.Invalid("key", "is required"))
	}
	if err := h.Settings.SetConfigValue(c.Request.Context(), in.Key, in.Value, in.Public); err != nil {
		return nil, toApiError("set config value", err)
	}
	logger.Infof("Config %q changed by %s", in.Key, currentSession(c).UserID)
	return true, nil
}
