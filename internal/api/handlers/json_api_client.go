package handlers

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Medard-prog/web-whisperer-sub001/internal/apperr"
	"github.com/Medard-prog/web-whisperer-sub001/internal/logger"
	"github.com/Medard-prog/web-whisperer-sub001/internal/services"
	"github.com/Medard-prog/web-whisperer-sub001/internal/storage"
	"github.com/Medard-prog/web-whisperer-sub001/internal/tasks"
	"github.com/Medard-prog/web-whisperer-sub001/internal/utils"
)

func (h *JsonApiHandler) listMyRequests(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var page services.Page
	if apiErr := parseOptionalArgs(args, &page); apiErr != nil {
		return nil, apiErr
	}
	userID := currentSession(c).UserID
	list, err := h.Requests.List(c.Request.Context(), services.RequestFilter{UserID: &userID, Page: page})
	if err != nil {
		return nil, toApiError("list requests", err)
	}
	return list, nil
}

func (h *JsonApiHandler) listMyProjects(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var page services.Page
	if apiErr := parseOptionalArgs(args, &page); apiErr != nil {
		return nil, apiErr
	}
	userID := currentSession(c).UserID
	list, err := h.Projects.List(c.Request.Context(), services.ProjectFilter{UserID: &userID, Page: page})
	if err != nil {
		return nil, toApiError("list projects", err)
	}
	return list, nil
}

func (h *JsonApiHandler) getProject(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	id, apiErr := parseIDArg(args)
	if apiErr != nil {
		return nil, apiErr
	}
	p, err := h.Projects.FindForActor(c.Request.Context(), currentSession(c).Actor(), id)
	if err != nil {
		return nil, toApiError("load project", err)
	}
	return p, nil
}

type modificationArgs struct {
	ProjectID   utils.SixID `json:"project_id"`
	Description string      `json:"description"`
}

func (h *JsonApiHandler) requestModification(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var in modificationArgs
	if apiErr := parseRequiredSingleArgFromArray(args, &in); apiErr != nil {
		return nil, apiErr
	}
	mod, err := h.Projects.AddModificationRequest(c.Request.Context(), currentSession(c).Actor(), in.ProjectID, in.Description)
	if err != nil {
		return nil, toApiError("add modification request", err)
	}
	return mod, nil
}

// sendMessage stores a chat message. Attachments must point at an object the
// sender uploaded through getAttachmentUploadURL.
func (h *JsonApiHandler) sendMessage(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var in services.NewMessage
	if apiErr := parseRequiredSingleArgFromArray(args, &in); apiErr != nil {
		return nil, apiErr
	}
	sess := currentSession(c)
	if att := in.Attachment; att != nil {
		key, ok := h.Storage.KeyFromURL(att.URL)
		if !ok || (!sess.IsAdmin && !strings.HasPrefix(key, storage.UserAttachmentPrefix(sess.UserID))) {
			return nil, toApiError("send message", apperr.Invalid("attachment", "must be uploaded through the portal"))
		}
		att.ObjectKey = key
	}

	ctx := c.Request.Context()
	msg, err := h.Messages.Send(ctx, sess.Actor(), in)
	if err != nil {
		return nil, toApiError("send message", err)
	}
	if att := msg.Attachment; att != nil && tasks.Resizable(att.MimeType) {
		task, err := tasks.NewAttachmentTask(tasks.AttachmentTaskPayload{ObjectKey: att.ObjectKey, MimeType: att.MimeType})
		if err == nil {
			_, err = h.Tasks.EnqueueContext(ctx, task)
		}
		if err != nil {
			logger.Warnf("sendMessage: attachment %s not queued for processing: %v", att.ObjectKey, err)
		}
	}
	h.Notifier.MessagePosted(ctx, msg, sess.Name)
	return msg, nil
}

type listMessagesArgs struct {
	ProjectID *utils.SixID `json:"project_id,omitempty"`
	ClientID  *utils.SixID `json:"client_id,omitempty"`
	Since     *time.Time   `json:"since,omitempty"`
}

// listMessages returns a project conversation when project_id is set and the
// support conversation otherwise. Clients always read their own support thread.
func (h *JsonApiHandler) listMessages(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var in listMessagesArgs
	if apiErr := parseOptionalArgs(args, &in); apiErr != nil {
		return nil, apiErr
	}
	ctx := c.Request.Context()
	actor := currentSession(c).Actor()
	if in.ProjectID != nil {
		list, err := h.Messages.ListByProject(ctx, actor, *in.ProjectID, in.Since)
		if err != nil {
			return nil, toApiError("list messages", err)
		}
		return list, nil
	}
	clientID := actor.UserID
	if actor.IsAdmin {
		if in.ClientID == nil {
			return nil, toApiError("list messages", apperr.Invalid("client_id", "is required"))
		}
		clientID = *in.ClientID
	}
	list, err := h.Messages.ListSupport(ctx, actor, clientID, in.Since)
	if err != nil {
		return nil, toApiError("list messages", err)
	}
	return list, nil
}

type uploadArgs struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

func (h *JsonApiHandler) getAttachmentUploadURL(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var in uploadArgs
	if apiErr := parseRequiredSingleArgFromArray(args, &in); apiErr != nil {
		return nil, apiErr
	}
	if !services.AllowedAttachmentTypes[in.ContentType] {
		return nil, toApiError("create upload url", apperr.Invalid("content_type", "%q is not an allowed attachment type", in.ContentType))
	}
	if strings.TrimSpace(in.Filename) == "" {
		return nil, toApiError("create upload url", apperr.Invalid("filename", "is required"))
	}
	ticket, err := h.Storage.PresignAttachmentUpload(c.Request.Context(), currentSession(c).UserID, in.Filename, in.ContentType)
	if err != nil {
		return nil, toApiError("create upload url", err)
	}
	return ticket, nil
}

func (h *JsonApiHandler) getOutstandingBalance(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	balance, err := h.Billing.OutstandingForUser(c.Request.Context(), currentSession(c).UserID)
	if err != nil {
		return nil, toApiError("load balance", err)
	}
	return balance, nil
}
