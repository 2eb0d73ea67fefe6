package handlers

import (
	"encoding/json"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/Medard-prog/web-whisperer-sub001/internal/apperr"
	"github.com/Medard-prog/web-whisperer-sub001/internal/logger"
	"github.com/Medard-prog/web-whisperer-sub001/internal/metrics"
	"github.com/Medard-prog/web-whisperer-sub001/internal/pricing"
	"github.com/Medard-prog/web-whisperer-sub001/internal/utils"
	"github.com/Medard-prog/web-whisperer-sub001/internal/wizard"
)

// DraftView is what every form call returns.
type DraftView struct {
	DraftID utils.SixID `json:"draft_id"`
	wizard.Snapshot
}

// quotePrice prices a selection without touching any draft.
func (h *JsonApiHandler) quotePrice(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var sel pricing.Selection
	if apiErr := parseRequiredSingleArgFromArray(args, &sel); apiErr != nil {
		return nil, apiErr
	}
	if err := sel.Validate(); err != nil {
		field := "page_count"
		if errors.Is(err, pricing.ErrUnknownTier) {
			field = "design_tier"
		}
		return nil, toApiError("quote price", apperr.Invalid(field, "%s", err.Error()))
	}
	return pricing.QuoteFor(sel), nil
}

type startRequestArgs struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	WebsiteType    string `json:"website_type"`
	PageCount      int    `json:"page_count"`
	DesignTier     string `json:"design_tier"`
	HasCMS         bool   `json:"has_cms"`
	HasEcommerce   bool   `json:"has_ecommerce"`
	HasSEO         bool   `json:"has_seo"`
	HasMaintenance bool   `json:"has_maintenance"`
}

// startRequest opens a draft. A signed-in caller's profile fills and locks the
// contact fields.
func (h *JsonApiHandler) startRequest(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var in startRequestArgs
	if apiErr := parseOptionalArgs(args, &in); apiErr != nil {
		return nil, apiErr
	}
	ctx := c.Request.Context()
	prefill := wizard.Prefill{
		Title:          in.Title,
		Description:    in.Description,
		WebsiteType:    in.WebsiteType,
		PageCount:      in.PageCount,
		DesignTier:     in.DesignTier,
		HasCMS:         in.HasCMS,
		HasEcommerce:   in.HasEcommerce,
		HasSEO:         in.HasSEO,
		HasMaintenance: in.HasMaintenance,
	}
	if sess := currentSession(c); sess != nil {
		userID := sess.UserID
		prefill.UserID = &userID
		prefill.Identity = sess.Profile()
		if u, err := h.Users.FindByID(ctx, sess.UserID); err == nil {
			contact := u.Contact()
			prefill.Identity = &contact
		} else {
			logger.Warnf("startRequest: profile of %s unavailable, using session identity: %v", sess.UserID, err)
		}
	}

	w := wizard.New(prefill)
	id, err := h.Drafts.Create(ctx, w)
	if err != nil {
		return nil, toApiError("start request", err)
	}
	return DraftView{DraftID: id, Snapshot: w.Snapshot()}, nil
}

// loadDraft fetches a draft and checks it belongs to the caller when it was
// started by a signed-in user.
func (h *JsonApiHandler) loadDraft(c *gin.Context, id utils.SixID) (*wizard.Wizard, *ApiError) {
	w, err := h.Drafts.Load(c.Request.Context(), id)
	if err != nil {
		return nil, toApiError("load request draft", err)
	}
	if owner := w.UserID(); owner != nil {
		sess := currentSession(c)
		if sess == nil || (sess.UserID != *owner && !sess.IsAdmin) {
			return nil, toApiError("load request draft", apperr.ErrForbidden)
		}
	}
	return w, nil
}

// editDraft loads a draft, applies edit and saves it only when edit succeeded.
func (h *JsonApiHandler) editDraft(c *gin.Context, id utils.SixID, op string, edit func(w *wizard.Wizard) error) (interface{}, *ApiError) {
	w, apiErr := h.loadDraft(c, id)
	if apiErr != nil {
		return nil, apiErr
	}
	if err := edit(w); err != nil {
		return nil, toApiError(op, err)
	}
	if err := h.Drafts.Save(c.Request.Context(), id, w); err != nil {
		return nil, toApiError(op, err)
	}
	return DraftView{DraftID: id, Snapshot: w.Snapshot()}, nil
}

type draftRef struct {
	DraftID utils.SixID `json:"draft_id"`
}

func parseDraftRef(args json.RawMessage, target interface{}, ref *draftRef) *ApiError {
	if apiErr := parseRequiredSingleArgFromArray(args, target); apiErr != nil {
		return apiErr
	}
	if ref.DraftID.IsZero() {
		return NewApiError("draft_id is required")
	}
	return nil
}

type updateRequestArgs struct {
	draftRef
	wizard.Patch
}

func (h *JsonApiHandler) updateRequest(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var in updateRequestArgs
	if apiErr := parseDraftRef(args, &in, &in.draftRef); apiErr != nil {
		return nil, apiErr
	}
	return h.editDraft(c, in.DraftID, "update request", func(w *wizard.Wizard) error {
		return w.Apply(in.Patch)
	})
}

type exampleURLArgs struct {
	draftRef
	URL   string `json:"url"`
	Index int    `json:"index"`
}

func (h *JsonApiHandler) addExampleURL(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var in exampleURLArgs
	if apiErr := parseDraftRef(args, &in, &in.draftRef); apiErr != nil {
		return nil, apiErr
	}
	return h.editDraft(c, in.DraftID, "add example url", func(w *wizard.Wizard) error {
		_, err := w.AddURL(in.URL)
		return err
	})
}

func (h *JsonApiHandler) removeExampleURL(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var in exampleURLArgs
	if apiErr := parseDraftRef(args, &in, &in.draftRef); apiErr != nil {
		return nil, apiErr
	}
	return h.editDraft(c, in.DraftID, "remove example url", func(w *wizard.Wizard) error {
		return w.RemoveURL(in.Index)
	})
}

func (h *JsonApiHandler) nextStep(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var in draftRef
	if apiErr := parseDraftRef(args, &in, &in); apiErr != nil {
		return nil, apiErr
	}
	return h.editDraft(c, in.DraftID, "advance request form", func(w *wizard.Wizard) error {
		return w.Next()
	})
}

func (h *JsonApiHandler) previousStep(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var in draftRef
	if apiErr := parseDraftRef(args, &in, &in); apiErr != nil {
		return nil, apiErr
	}
	return h.editDraft(c, in.DraftID, "go back in request form", func(w *wizard.Wizard) error {
		return w.Previous()
	})
}

// submitRequest stores the request under the caller's request context, so a
// client that disconnects mid-submit leaves the draft as it was. The draft is
// claimed first and loaded after, so a second submit either waits out the
// claim as a conflict or finds the draft already gone.
func (h *JsonApiHandler) submitRequest(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var in draftRef
	if apiErr := parseDraftRef(args, &in, &in); apiErr != nil {
		return nil, apiErr
	}
	ctx := c.Request.Context()
	release, err := h.Drafts.Claim(ctx, in.DraftID)
	if err != nil {
		return nil, toApiError("submit request", err)
	}
	defer release()

	w, apiErr := h.loadDraft(c, in.DraftID)
	if apiErr != nil {
		return nil, apiErr
	}
	req, err := w.Submit(ctx, h.Requests)
	if err != nil {
		return nil, toApiError("submit request", err)
	}
	metrics.WizardSubmissions.Inc()
	logger.Infof("Request %s submitted (%s, %d pages, %s)", req.ID, req.WebsiteType, req.PageCount, req.DesignTier)

	if err := h.Drafts.Delete(ctx, in.DraftID); err != nil {
		logger.Warnf("submitRequest: failed to delete draft %s: %v", in.DraftID, err)
	}
	h.Notifier.RequestSubmitted(ctx, req)
	return DraftView{DraftID: in.DraftID, Snapshot: w.Snapshot()}, nil
}
