package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Medard-prog/web-whisperer-sub001/internal/api/handlers"
	"github.com/Medard-prog/web-whisperer-sub001/internal/apperr"
	"github.com/Medard-prog/web-whisperer-sub001/internal/config"
	"github.com/Medard-prog/web-whisperer-sub001/internal/models"
	"github.com/Medard-prog/web-whisperer-sub001/internal/pricing"
	"github.com/Medard-prog/web-whisperer-sub001/internal/services"
	"github.com/Medard-prog/web-whisperer-sub001/internal/session"
	"github.com/Medard-prog/web-whisperer-sub001/internal/storage"
	"github.com/Medard-prog/web-whisperer-sub001/internal/tasks"
	"github.com/Medard-prog/web-whisperer-sub001/internal/utils"
	"github.com/Medard-prog/web-whisperer-sub001/internal/wizard"
)

// --- Test Setup ---

type apiHarness struct {
	cfg       *config.Config
	users     *MockUserService
	actions   *MockLinkedActionService
	requests  *MockRequestService
	projects  *MockProjectService
	messages  *MockMessageService
	billing   *MockBillingService
	templates *MockEmailTemplateService
	settings  *MockConfigService
	storage   *MockS3Storage
	tasks     *MockAsynqClient
	sessions  *MockSessionManager
	notifier  *MockNotifier
	drafts    *memDrafts
	router    *gin.Engine

	// caller is attached to every request when set.
	caller *session.Session
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := &apiHarness{
		cfg: &config.Config{
			AppName:            "TestApp",
			AppBaseURL:         "https://portal.test",
			ResetAccessLinkTTL: 20 * time.Minute,
		},
		users:     new(MockUserService),
		actions:   new(MockLinkedActionService),
		requests:  new(MockRequestService),
		projects:  new(MockProjectService),
		messages:  new(MockMessageService),
		billing:   new(MockBillingService),
		templates: new(MockEmailTemplateService),
		settings:  new(MockConfigService),
		storage:   new(MockS3Storage),
		tasks:     new(MockAsynqClient),
		sessions:  new(MockSessionManager),
		notifier:  new(MockNotifier),
		drafts:    newMemDrafts(),
	}
	handler := handlers.NewJsonApiHandler(h.cfg, handlers.JsonApiDeps{
		Drafts:    h.drafts,
		Sessions:  h.sessions,
		Notifier:  h.notifier,
		Requests:  h.requests,
		Projects:  h.projects,
		Messages:  h.messages,
		Users:     h.users,
		Actions:   h.actions,
		Billing:   h.billing,
		Templates: h.templates,
		Settings:  h.settings,
		Storage:   h.storage,
		Tasks:     h.tasks,
	})
	r := gin.New()
	r.POST("/v1/api", func(c *gin.Context) {
		if h.caller != nil {
			c.Request = c.Request.WithContext(session.WithSession(c.Request.Context(), h.caller))
		}
		c.Next()
	}, handler.HandleRequest)
	h.router = r
	t.Cleanup(func() {
		for _, m := range []interface{ AssertExpectations(mock.TestingT) bool }{
			h.users, h.actions, h.requests, h.projects, h.messages, h.billing,
			h.storage, h.tasks, h.sessions, h.notifier,
		} {
			m.AssertExpectations(t)
		}
	})
	return h
}

func (h *apiHarness) signInAs(admin bool) *session.Session {
	h.caller = &session.Session{
		ID:        "sess-1",
		Token:     "token-1",
		UserID:    utils.NewSixID(),
		IsAdmin:   admin,
		Name:      "Ada Client",
		Email:     "ada@example.com",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	return h.caller
}

func (h *apiHarness) callRaw(t *testing.T, body []byte) handlers.JsonApiResponse {
	t.Helper()
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/api", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	h.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var resp handlers.JsonApiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func (h *apiHarness) call(t *testing.T, method string, args ...interface{}) handlers.JsonApiResponse {
	t.Helper()
	reqBody := handlers.JsonApiRequest{Method: method}
	if len(args) > 0 {
		raw, err := json.Marshal(args)
		require.NoError(t, err)
		reqBody.Arguments = raw
	}
	jsonBody, _ := json.Marshal(reqBody)
	return h.callRaw(t, jsonBody)
}

func decodeData(t *testing.T, resp handlers.JsonApiResponse, target interface{}) {
	t.Helper()
	require.True(t, resp.Success, "call failed: %s (%s)", resp.Error, resp.Code)
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, target))
}

// --- Dispatch ---

func TestJsonApiHandler_Ping(t *testing.T) {
	h := newAPIHarness(t)
	resp := h.call(t, "ping")
	assert.True(t, resp.Success)
	assert.Equal(t, "pong", resp.Data)
	assert.Empty(t, resp.Error)
}

func TestJsonApiHandler_UnknownMethod(t *testing.T) {
	h := newAPIHarness(t)
	resp := h.call(t, "dropDatabase")
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "Unknown method")
}

func TestJsonApiHandler_InvalidBody(t *testing.T) {
	h := newAPIHarness(t)
	resp := h.callRaw(t, []byte("{not json"))
	assert.False(t, resp.Success)
	assert.Equal(t, "Invalid JSON request format", resp.Error)
}

func TestJsonApiHandler_AccessLevels(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.call(t, "listMyProjects")
	assert.False(t, resp.Success)
	assert.Equal(t, "unauthenticated", resp.Code)

	h.signInAs(false)
	resp = h.call(t, "listRequests")
	assert.False(t, resp.Success)
	assert.Equal(t, "forbidden", resp.Code)
}

func TestJsonApiHandler_MissingArguments(t *testing.T) {
	h := newAPIHarness(t)
	resp := h.call(t, "quotePrice")
	assert.False(t, resp.Success)
	assert.Equal(t, "bad_request", resp.Code)
}

// --- Quote ---

func TestJsonApiHandler_QuotePrice(t *testing.T) {
	h := newAPIHarness(t)
	resp := h.call(t, "quotePrice", map[string]interface{}{
		"page_count": 8, "design_tier": "premium", "has_seo": true, "has_maintenance": true,
	})
	var q pricing.Quote
	decodeData(t, resp, &q)
	assert.Equal(t, pricing.ComputePrice(8, pricing.TierPremium, false, false, true, true), q.OneTime)
	assert.Equal(t, pricing.MonthlyPrice(true), q.Monthly)
}

func TestJsonApiHandler_QuotePrice_UnknownTier(t *testing.T) {
	h := newAPIHarness(t)
	resp := h.call(t, "quotePrice", map[string]interface{}{"page_count": 5, "design_tier": "gold"})
	assert.False(t, resp.Success)
	assert.Equal(t, "validation", resp.Code)
	assert.Contains(t, resp.Fields, "design_tier")
}

// --- Request form ---

func startDraft(t *testing.T, h *apiHarness, args ...interface{}) handlers.DraftView {
	t.Helper()
	var view handlers.DraftView
	decodeData(t, h.call(t, "startRequest", args...), &view)
	require.False(t, view.DraftID.IsZero())
	return view
}

// fillDraft walks an anonymous draft to the contact step with valid input.
func fillDraft(t *testing.T, h *apiHarness, id utils.SixID) {
	t.Helper()
	steps := []struct {
		method string
		args   map[string]interface{}
	}{
		{"updateRequest", map[string]interface{}{"title": "Bakery site", "description": "Menu and opening hours"}},
		{"nextStep", nil},
		{"updateRequest", map[string]interface{}{"page_count": 6, "design_tier": "standard", "has_cms": true}},
		{"nextStep", nil},
		{"addExampleURL", map[string]interface{}{"url": "example.com"}},
		{"nextStep", nil},
		{"updateRequest", map[string]interface{}{"name": "Bo Baker", "email": "bo@example.com"}},
	}
	for _, s := range steps {
		args := map[string]interface{}{"draft_id": id}
		for k, v := range s.args {
			args[k] = v
		}
		resp := h.call(t, s.method, args)
		require.True(t, resp.Success, "%s: %s", s.method, resp.Error)
	}
}

func TestJsonApiHandler_RequestForm_Flow(t *testing.T) {
	h := newAPIHarness(t)
	view := startDraft(t, h, map[string]interface{}{"title": "From the pricing page", "page_count": 6})
	assert.Equal(t, wizard.StepProjectDetails, view.Step)
	assert.Equal(t, "From the pricing page", view.Spec.Title)
	assert.Empty(t, view.Locked)

	fillDraft(t, h, view.DraftID)

	var current handlers.DraftView
	decodeData(t, h.call(t, "previousStep", map[string]interface{}{"draft_id": view.DraftID}), &current)
	assert.Equal(t, wizard.StepAdditionalInfo, current.Step)
	assert.Equal(t, []string{"https://example.com"}, current.Spec.ExampleURLs)
	assert.Equal(t, pricing.ComputePrice(6, pricing.TierStandard, true, false, false, false), current.Quote.OneTime)

	decodeData(t, h.call(t, "removeExampleURL", map[string]interface{}{"draft_id": view.DraftID, "index": 0}), &current)
	assert.Empty(t, current.Spec.ExampleURLs)
}

func TestJsonApiHandler_RequestForm_NextStepValidation(t *testing.T) {
	h := newAPIHarness(t)
	view := startDraft(t, h)

	resp := h.call(t, "nextStep", map[string]interface{}{"draft_id": view.DraftID})
	assert.False(t, resp.Success)
	assert.Equal(t, "validation", resp.Code)
	assert.Contains(t, resp.Fields, "title")
	assert.Contains(t, resp.Fields, "description")

	resp = h.call(t, "previousStep", map[string]interface{}{"draft_id": view.DraftID})
	assert.Equal(t, "invalid_step", resp.Code)
}

func TestJsonApiHandler_RequestForm_DraftNotFound(t *testing.T) {
	h := newAPIHarness(t)
	resp := h.call(t, "nextStep", map[string]interface{}{"draft_id": utils.NewSixID()})
	assert.False(t, resp.Success)
	assert.Equal(t, "draft_not_found", resp.Code)

	resp = h.call(t, "nextStep", map[string]interface{}{})
	assert.Equal(t, "bad_request", resp.Code)
}

func TestJsonApiHandler_RequestForm_SessionPrefillLocksIdentity(t *testing.T) {
	h := newAPIHarness(t)
	sess := h.signInAs(false)
	h.users.On("FindByID", mock.Anything, sess.UserID).Return(&models.User{
		Base: models.Base{ID: sess.UserID}, Name: sess.Name, Email: sess.Email, Phone: "+44 100",
	}, nil)

	view := startDraft(t, h)
	assert.Equal(t, "ada@example.com", view.Contact.Email)
	assert.Equal(t, "+44 100", view.Contact.Phone)
	assert.ElementsMatch(t, []string{"name", "email", "phone"}, view.Locked)
	require.NotNil(t, view.UserID)
	assert.Equal(t, sess.UserID, *view.UserID)

	resp := h.call(t, "updateRequest", map[string]interface{}{"draft_id": view.DraftID, "email": "other@example.com"})
	assert.False(t, resp.Success)
	assert.Equal(t, "validation", resp.Code)
	assert.Contains(t, resp.Fields, "email")

	// company was empty on the profile, so it stays editable
	resp = h.call(t, "updateRequest", map[string]interface{}{"draft_id": view.DraftID, "company": "Ada Ltd"})
	assert.True(t, resp.Success)
}

func TestJsonApiHandler_RequestForm_OwnedDraftRejectsOthers(t *testing.T) {
	h := newAPIHarness(t)
	sess := h.signInAs(false)
	h.users.On("FindByID", mock.Anything, sess.UserID).Return(nil, apperr.ErrNotFound)
	view := startDraft(t, h)

	h.caller = nil
	resp := h.call(t, "nextStep", map[string]interface{}{"draft_id": view.DraftID})
	assert.Equal(t, "forbidden", resp.Code)
}

func TestJsonApiHandler_SubmitRequest(t *testing.T) {
	h := newAPIHarness(t)
	view := startDraft(t, h)
	fillDraft(t, h, view.DraftID)

	h.requests.On("CreateRequest", mock.Anything, mock.MatchedBy(func(r *models.ProjectRequest) bool {
		return r.Title == "Bakery site" && r.Contact.Email == "bo@example.com" &&
			r.Price == pricing.ComputePrice(6, pricing.TierStandard, true, false, false, false)
	})).Return(nil).Once()
	h.notifier.On("RequestSubmitted", mock.Anything, mock.AnythingOfType("*models.ProjectRequest")).Once()

	var done handlers.DraftView
	decodeData(t, h.call(t, "submitRequest", map[string]interface{}{"draft_id": view.DraftID}), &done)
	assert.Equal(t, wizard.StepSubmitted, done.Step)
	assert.NotNil(t, done.RequestID)
	assert.False(t, h.drafts.has(view.DraftID))
}

func TestJsonApiHandler_SubmitRequest_NotAtLastStep(t *testing.T) {
	h := newAPIHarness(t)
	view := startDraft(t, h)
	resp := h.call(t, "submitRequest", map[string]interface{}{"draft_id": view.DraftID})
	assert.Equal(t, "invalid_step", resp.Code)
}

func TestJsonApiHandler_SubmitRequest_CancelledKeepsDraft(t *testing.T) {
	h := newAPIHarness(t)
	view := startDraft(t, h)
	fillDraft(t, h, view.DraftID)
	h.requests.On("CreateRequest", mock.Anything, mock.Anything).Return(context.Canceled).Once()

	resp := h.call(t, "submitRequest", map[string]interface{}{"draft_id": view.DraftID})
	assert.False(t, resp.Success)
	assert.Equal(t, "cancelled", resp.Code)
	require.True(t, h.drafts.has(view.DraftID))

	// the draft is untouched and can be submitted again
	h.requests.On("CreateRequest", mock.Anything, mock.Anything).Return(nil).Once()
	h.notifier.On("RequestSubmitted", mock.Anything, mock.Anything).Once()
	resp = h.call(t, "submitRequest", map[string]interface{}{"draft_id": view.DraftID})
	assert.True(t, resp.Success)
}

func TestJsonApiHandler_SubmitRequest_ConcurrentSubmitIsRejected(t *testing.T) {
	h := newAPIHarness(t)
	view := startDraft(t, h)
	fillDraft(t, h, view.DraftID)

	entered := make(chan struct{})
	proceed := make(chan struct{})
	h.requests.On("CreateRequest", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		close(entered)
		<-proceed
	}).Return(nil).Once()
	h.notifier.On("RequestSubmitted", mock.Anything, mock.Anything).Once()

	body, err := json.Marshal(handlers.JsonApiRequest{
		Method:    "submitRequest",
		Arguments: json.RawMessage(`[{"draft_id":"` + view.DraftID.String() + `"}]`),
	})
	require.NoError(t, err)

	first := make(chan *httptest.ResponseRecorder)
	go func() {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/v1/api", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		h.router.ServeHTTP(w, req)
		first <- w
	}()

	<-entered
	second := h.callRaw(t, body)
	assert.False(t, second.Success)
	assert.Equal(t, "conflict", second.Code)
	close(proceed)

	w := <-first
	var resp handlers.JsonApiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success, resp.Error)

	// Once the first submit is done the draft is gone, not submittable twice.
	third := h.callRaw(t, body)
	assert.Equal(t, "draft_not_found", third.Code)
	h.requests.AssertNumberOfCalls(t, "CreateRequest", 1)
}

func TestJsonApiHandler_SubmitRequest_BackendFailure(t *testing.T) {
	h := newAPIHarness(t)
	view := startDraft(t, h)
	fillDraft(t, h, view.DraftID)
	h.requests.On("CreateRequest", mock.Anything, mock.Anything).Return(apperr.Backend("insert request", errors.New("no primary"))).Once()

	resp := h.call(t, "submitRequest", map[string]interface{}{"draft_id": view.DraftID})
	assert.Equal(t, "internal", resp.Code)
	assert.NotContains(t, resp.Error, "no primary")
	assert.True(t, h.drafts.has(view.DraftID))
}

// --- Auth ---

func TestJsonApiHandler_SignUp(t *testing.T) {
	h := newAPIHarness(t)
	user := &models.User{Base: models.Base{ID: utils.NewSixID()}, Email: "new@example.com", Name: "New"}
	sess := &session.Session{ID: "s", Token: "tok", UserID: user.ID}
	h.users.On("SignUp", mock.Anything, services.SignUpInput{Email: "new@example.com", Password: "longenough", Name: "New"}).Return(user, nil)
	h.sessions.On("Start", mock.Anything, user).Return(sess, nil)
	h.notifier.On("Welcome", mock.Anything, user).Once()

	var res handlers.AuthResult
	decodeData(t, h.call(t, "signUp", map[string]interface{}{"email": "new@example.com", "password": "longenough", "name": "New"}), &res)
	assert.Equal(t, "tok", res.Session.Token)
	assert.Equal(t, user.ID, res.User.ID)
}

func TestJsonApiHandler_SignUp_EmailTaken(t *testing.T) {
	h := newAPIHarness(t)
	h.users.On("SignUp", mock.Anything, mock.Anything).Return(nil, services.ErrEmailExists)
	resp := h.call(t, "signUp", map[string]interface{}{"email": "taken@example.com", "password": "x", "name": "X"})
	assert.Equal(t, "email_exists", resp.Code)
}

func TestJsonApiHandler_SignIn(t *testing.T) {
	h := newAPIHarness(t)
	user := &models.User{Base: models.Base{ID: utils.NewSixID()}, Email: "a@example.com"}
	h.users.On("Authenticate", mock.Anything, "a@example.com", "pw").Return(user, nil)
	h.sessions.On("Start", mock.Anything, user).Return(&session.Session{Token: "tok", UserID: user.ID}, nil)

	var res handlers.AuthResult
	decodeData(t, h.call(t, "signIn", map[string]string{"email": "a@example.com", "password": "pw"}), &res)
	assert.Equal(t, "tok", res.Session.Token)
}

func TestJsonApiHandler_SignIn_InvalidCredentials(t *testing.T) {
	h := newAPIHarness(t)
	h.users.On("Authenticate", mock.Anything, "a@example.com", "bad").Return(nil, apperr.ErrInvalidCredentials)
	resp := h.call(t, "signIn", map[string]string{"email": "a@example.com", "password": "bad"})
	assert.Equal(t, "invalid_credentials", resp.Code)
}

func TestJsonApiHandler_GetSession(t *testing.T) {
	h := newAPIHarness(t)
	resp := h.call(t, "getSession")
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Data)

	sess := h.signInAs(false)
	h.users.On("FindByID", mock.Anything, sess.UserID).Return(&models.User{Base: models.Base{ID: sess.UserID}}, nil)
	var res handlers.AuthResult
	decodeData(t, h.call(t, "getSession"), &res)
	assert.Equal(t, sess.UserID, res.Session.UserID)
}

func TestJsonApiHandler_SignOutAndRefresh(t *testing.T) {
	h := newAPIHarness(t)
	sess := h.signInAs(false)
	h.sessions.On("SignOut", mock.Anything, sess).Return(nil).Once()
	assert.True(t, h.call(t, "signOut").Success)

	next := &session.Session{ID: "sess-2", Token: "token-2", UserID: sess.UserID}
	h.sessions.On("Refresh", mock.Anything, sess).Return(next, nil).Once()
	h.users.On("FindByID", mock.Anything, sess.UserID).Return(&models.User{Base: models.Base{ID: sess.UserID}}, nil)
	var res handlers.AuthResult
	decodeData(t, h.call(t, "refreshSession"), &res)
	assert.Equal(t, "token-2", res.Session.Token)
}

func TestJsonApiHandler_UpdateUser(t *testing.T) {
	h := newAPIHarness(t)
	sess := h.signInAs(false)
	phone := "+1 555"
	h.users.On("UpdateProfile", mock.Anything, sess.UserID, models.ProfileUpdate{Phone: &phone}).
		Return(&models.User{Base: models.Base{ID: sess.UserID}, Phone: phone}, nil)

	var u models.User
	decodeData(t, h.call(t, "updateUser", map[string]string{"phone": phone}), &u)
	assert.Equal(t, phone, u.Phone)
}

func TestJsonApiHandler_ResetPasswordForEmail_UnknownEmailStillSucceeds(t *testing.T) {
	h := newAPIHarness(t)
	h.users.On("FindByEmail", mock.Anything, "ghost@example.com").Return(nil, apperr.ErrNotFound)
	resp := h.call(t, "resetPasswordForEmail", "ghost@example.com")
	assert.True(t, resp.Success)
	assert.Equal(t, true, resp.Data)
	h.notifier.AssertNotCalled(t, "PasswordReset", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestJsonApiHandler_ResetPasswordForEmail_SendsLink(t *testing.T) {
	h := newAPIHarness(t)
	user := &models.User{Base: models.Base{ID: utils.NewSixID()}, Email: "a@example.com"}
	action := &models.LinkedAction{Base: models.Base{ID: utils.NewSixID()}, UserID: user.ID, Type: models.ActionPasswordReset}
	h.users.On("FindByEmail", mock.Anything, "a@example.com").Return(user, nil)
	h.actions.On("CreatePasswordResetAction", mock.Anything, user.ID).Return(action, nil)
	h.notifier.On("PasswordReset", mock.Anything, "a@example.com",
		"https://portal.test/account/reset?token="+action.ID.String(), 20*time.Minute).Once()

	resp := h.call(t, "resetPasswordForEmail", "a@example.com", map[string]string{"redirect_to": "https://portal.test/account/reset"})
	assert.True(t, resp.Success)
}

func TestJsonApiHandler_ResetPasswordForEmail_ForeignRedirectIgnored(t *testing.T) {
	h := newAPIHarness(t)
	user := &models.User{Base: models.Base{ID: utils.NewSixID()}, Email: "a@example.com"}
	action := &models.LinkedAction{Base: models.Base{ID: utils.NewSixID()}, UserID: user.ID}
	h.users.On("FindByEmail", mock.Anything, "a@example.com").Return(user, nil)
	h.actions.On("CreatePasswordResetAction", mock.Anything, user.ID).Return(action, nil)
	h.notifier.On("PasswordReset", mock.Anything, "a@example.com", mock.MatchedBy(func(link string) bool {
		return strings.HasPrefix(link, "https://portal.test/reset-password?token=")
	}), mock.Anything).Once()

	resp := h.call(t, "resetPasswordForEmail", "a@example.com", map[string]string{"redirect_to": "https://evil.test/"})
	assert.True(t, resp.Success)
}

func TestJsonApiHandler_CompletePasswordReset(t *testing.T) {
	h := newAPIHarness(t)
	userID := utils.NewSixID()
	token := utils.NewSixID().String()
	action := &models.LinkedAction{UserID: userID, Type: models.ActionPasswordReset}
	h.actions.On("FindAndValidateAction", mock.Anything, token, models.ActionPasswordReset).Return(action, nil)
	h.users.On("SetPassword", mock.Anything, userID, "new-password").Return(nil)
	h.actions.On("ConsumeAction", mock.Anything, token, models.ActionPasswordReset).Return(action, nil)

	resp := h.call(t, "completePasswordReset", token, "new-password")
	assert.True(t, resp.Success)
}

func TestJsonApiHandler_CompletePasswordReset_WeakPasswordKeepsLink(t *testing.T) {
	h := newAPIHarness(t)
	userID := utils.NewSixID()
	token := utils.NewSixID().String()
	h.actions.On("FindAndValidateAction", mock.Anything, token, models.ActionPasswordReset).Return(&models.LinkedAction{UserID: userID}, nil)
	h.users.On("SetPassword", mock.Anything, userID, "x").Return(apperr.Invalid("password", "is too weak"))

	resp := h.call(t, "completePasswordReset", token, "x")
	assert.Equal(t, "validation", resp.Code)
	h.actions.AssertNotCalled(t, "ConsumeAction", mock.Anything, mock.Anything, mock.Anything)
}

func TestJsonApiHandler_CompletePasswordReset_InvalidLink(t *testing.T) {
	h := newAPIHarness(t)
	h.actions.On("FindAndValidateAction", mock.Anything, "bogus", models.ActionPasswordReset).Return(nil, services.ErrActionInvalid)
	resp := h.call(t, "completePasswordReset", "bogus", "new-password")
	assert.Equal(t, "invalid_link", resp.Code)
}

// --- Client dashboard ---

func TestJsonApiHandler_ListMyProjects_ScopedToCaller(t *testing.T) {
	h := newAPIHarness(t)
	sess := h.signInAs(false)
	h.projects.On("List", mock.Anything, mock.MatchedBy(func(f services.ProjectFilter) bool {
		return f.UserID != nil && *f.UserID == sess.UserID && f.Limit == 10
	})).Return([]models.Project{{Status: models.StatusInProgress}}, nil)

	var list []models.Project
	decodeData(t, h.call(t, "listMyProjects", map[string]int{"limit": 10}), &list)
	assert.Len(t, list, 1)
}

func TestJsonApiHandler_GetProject_NotOwned(t *testing.T) {
	h := newAPIHarness(t)
	sess := h.signInAs(false)
	id := utils.NewSixID()
	h.projects.On("FindForActor", mock.Anything, sess.Actor(), id).Return(nil, apperr.ErrNotFound)

	resp := h.call(t, "getProject", id.String())
	assert.Equal(t, "not_found", resp.Code)
}

func TestJsonApiHandler_RequestModification(t *testing.T) {
	h := newAPIHarness(t)
	sess := h.signInAs(false)
	id := utils.NewSixID()
	h.projects.On("AddModificationRequest", mock.Anything, sess.Actor(), id, "Bigger logo").
		Return(&models.ModificationRequest{Description: "Bigger logo", Status: "open"}, nil)

	var mod models.ModificationRequest
	decodeData(t, h.call(t, "requestModification", map[string]interface{}{"project_id": id, "description": "Bigger logo"}), &mod)
	assert.Equal(t, "open", mod.Status)
}

func TestJsonApiHandler_SendMessage_QueuesImageProcessing(t *testing.T) {
	h := newAPIHarness(t)
	sess := h.signInAs(false)
	key := "attachments/" + sess.UserID.String() + "/abc_photo.jpg"
	url := "https://cdn.test/" + key
	h.storage.On("KeyFromURL", url).Return(key, true)
	stored := &models.Message{
		UserID: sess.UserID, SenderID: sess.UserID, Content: "see photo",
		Attachment: &models.Attachment{URL: url, MimeType: "image/jpeg", ObjectKey: key},
	}
	h.messages.On("Send", mock.Anything, sess.Actor(), mock.MatchedBy(func(in services.NewMessage) bool {
		return in.Attachment != nil && in.Attachment.ObjectKey == key
	})).Return(stored, nil)
	h.tasks.On("EnqueueContext", mock.Anything, mock.MatchedBy(func(task *asynq.Task) bool {
		var p tasks.AttachmentTaskPayload
		return task.Type() == tasks.TypeAttachmentProcess && json.Unmarshal(task.Payload(), &p) == nil && p.ObjectKey == key
	}), mock.Anything).Return(&asynq.TaskInfo{}, nil)
	h.notifier.On("MessagePosted", mock.Anything, stored, sess.Name).Once()

	resp := h.call(t, "sendMessage", map[string]interface{}{
		"content":    "see photo",
		"attachment": map[string]string{"url": url, "mime_type": "image/jpeg"},
	})
	assert.True(t, resp.Success, resp.Error)
}

func TestJsonApiHandler_SendMessage_ForeignAttachmentRejected(t *testing.T) {
	h := newAPIHarness(t)
	h.signInAs(false)
	other := "attachments/" + utils.NewSixID().String() + "/x.pdf"
	h.storage.On("KeyFromURL", "https://cdn.test/"+other).Return(other, true)

	resp := h.call(t, "sendMessage", map[string]interface{}{
		"content":    "hi",
		"attachment": map[string]string{"url": "https://cdn.test/" + other, "mime_type": "application/pdf"},
	})
	assert.Equal(t, "validation", resp.Code)
	assert.Contains(t, resp.Fields, "attachment")
}

func TestJsonApiHandler_ListMessages(t *testing.T) {
	h := newAPIHarness(t)
	sess := h.signInAs(false)
	h.messages.On("ListSupport", mock.Anything, sess.Actor(), sess.UserID, (*time.Time)(nil)).Return([]models.Message{{Content: "hello"}}, nil)

	var list []models.Message
	decodeData(t, h.call(t, "listMessages"), &list)
	require.Len(t, list, 1)

	pid := utils.NewSixID()
	h.messages.On("ListByProject", mock.Anything, sess.Actor(), pid, (*time.Time)(nil)).Return([]models.Message{}, nil)
	decodeData(t, h.call(t, "listMessages", map[string]interface{}{"project_id": pid}), &list)
	assert.Empty(t, list)
}

func TestJsonApiHandler_ListMessages_AdminNeedsClient(t *testing.T) {
	h := newAPIHarness(t)
	h.signInAs(true)
	resp := h.call(t, "listMessages")
	assert.Equal(t, "validation", resp.Code)
}

func TestJsonApiHandler_GetAttachmentUploadURL(t *testing.T) {
	h := newAPIHarness(t)
	sess := h.signInAs(false)
	ticket := &storage.UploadTicket{UploadURL: "https://s3.test/put", ObjectKey: "attachments/x/brief.pdf"}
	h.storage.On("PresignAttachmentUpload", mock.Anything, sess.UserID, "brief.pdf", "application/pdf").Return(ticket, nil)

	resp := h.call(t, "getAttachmentUploadURL", map[string]string{"filename": "brief.pdf", "content_type": "application/pdf"})
	assert.True(t, resp.Success)

	resp = h.call(t, "getAttachmentUploadURL", map[string]string{"filename": "run.exe", "content_type": "application/x-msdownload"})
	assert.Equal(t, "validation", resp.Code)
}

func TestJsonApiHandler_GetOutstandingBalance(t *testing.T) {
	h := newAPIHarness(t)
	sess := h.signInAs(false)
	h.billing.On("OutstandingForUser", mock.Anything, sess.UserID).Return(&services.Balance{Projects: 2, Outstanding: 700}, nil)

	var b services.Balance
	decodeData(t, h.call(t, "getOutstandingBalance"), &b)
	assert.Equal(t, pricing.Amount(700), b.Outstanding)
}

// --- Administration ---

func TestJsonApiHandler_UpdateRequestStatus_StaysInIntake(t *testing.T) {
	h := newAPIHarness(t)
	h.signInAs(true)
	id := utils.NewSixID()
	req := &models.ProjectRequest{Base: models.Base{ID: id}, Status: models.StatusPending,
		Contact: models.Contact{Email: "c@example.com"}}
	req.Title = "Shop"
	h.requests.On("UpdateStatus", mock.Anything, id, models.StatusPending).Return(&services.StatusChange{Request: req}, nil)
	h.notifier.On("StatusChanged", mock.Anything, req.Contact, id, "Shop", models.StatusPending).Once()

	var res handlers.StatusChangeResult
	decodeData(t, h.call(t, "updateRequestStatus", map[string]interface{}{"id": id, "status": "pending"}), &res)
	assert.NotNil(t, res.Request)
	assert.Nil(t, res.Project)
	assert.Empty(t, res.Warning)
}

func TestJsonApiHandler_UpdateRequestStatus_PartialMove(t *testing.T) {
	h := newAPIHarness(t)
	h.signInAs(true)
	id := utils.NewSixID()
	p := &models.Project{Base: models.Base{ID: id}, Status: models.StatusInProgress}
	h.requests.On("UpdateStatus", mock.Anything, id, models.StatusInProgress).Return(&services.StatusChange{
		Project: p,
		Partial: &apperr.PartialTransitionError{ProjectID: id, Err: errors.New("delete failed")},
	}, nil)
	h.notifier.On("ProjectStatusChanged", mock.Anything, p).Once()

	var res handlers.StatusChangeResult
	decodeData(t, h.call(t, "updateRequestStatus", map[string]interface{}{"id": id, "status": "in_progress"}), &res)
	require.NotNil(t, res.Project)
	assert.Equal(t, id, res.Project.ID)
	assert.NotEmpty(t, res.Warning)
}

func TestJsonApiHandler_UpdateRequestStatus_Missing(t *testing.T) {
	h := newAPIHarness(t)
	h.signInAs(true)
	id := utils.NewSixID()
	h.requests.On("UpdateStatus", mock.Anything, id, models.StatusCompleted).Return(&services.StatusChange{}, nil)

	resp := h.call(t, "updateRequestStatus", map[string]interface{}{"id": id, "status": "completed"})
	assert.Equal(t, "not_found", resp.Code)
}

func TestJsonApiHandler_DeleteRequest(t *testing.T) {
	h := newAPIHarness(t)
	h.signInAs(true)
	id := utils.NewSixID()
	h.requests.On("Delete", mock.Anything, id).Return(nil)
	assert.True(t, h.call(t, "deleteRequest", id.String()).Success)

	resp := h.call(t, "deleteRequest", "not-an-id")
	assert.Equal(t, "bad_request", resp.Code)
}

func TestJsonApiHandler_CreateProject_UsesClientContact(t *testing.T) {
	h := newAPIHarness(t)
	h.signInAs(true)
	clientID := utils.NewSixID()
	client := &models.User{Base: models.Base{ID: clientID}, Name: "Cy", Email: "cy@example.com"}
	h.users.On("FindByID", mock.Anything, clientID).Return(client, nil)
	h.projects.On("Create", mock.Anything, mock.MatchedBy(func(p *models.Project) bool {
		return p.Contact.Email == "cy@example.com" && p.DesignTier == pricing.TierPremium && *p.UserID == clientID
	})).Return(&models.Project{Base: models.Base{ID: utils.NewSixID()}}, nil)

	resp := h.call(t, "createProject", map[string]interface{}{
		"title": "Portfolio", "website_type": "portfolio", "page_count": 4, "design_tier": " Premium ",
		"user_id": clientID,
	})
	assert.True(t, resp.Success, resp.Error)
}

func TestJsonApiHandler_UpdateProjectStatus(t *testing.T) {
	h := newAPIHarness(t)
	h.signInAs(true)
	id := utils.NewSixID()
	p := &models.Project{Base: models.Base{ID: id}, Status: models.StatusCompleted}
	h.projects.On("UpdateStatus", mock.Anything, id, models.StatusCompleted).Return(p, nil)
	h.notifier.On("ProjectStatusChanged", mock.Anything, p).Once()

	assert.True(t, h.call(t, "updateProjectStatus", map[string]interface{}{"id": id, "status": "completed"}).Success)
}

func TestJsonApiHandler_RecordPaymentAndDueDate(t *testing.T) {
	h := newAPIHarness(t)
	h.signInAs(true)
	id := utils.NewSixID()
	h.projects.On("RecordPayment", mock.Anything, id, pricing.Amount(250)).Return(&models.Project{AmountPaid: 250}, nil)
	assert.True(t, h.call(t, "recordPayment", map[string]interface{}{"project_id": id, "amount": 250}).Success)

	h.projects.On("SetDueDate", mock.Anything, id, (*time.Time)(nil)).Return(&models.Project{}, nil)
	assert.True(t, h.call(t, "setDueDate", map[string]interface{}{"project_id": id, "due_date": nil}).Success)
}

func TestJsonApiHandler_GetClient(t *testing.T) {
	h := newAPIHarness(t)
	h.signInAs(true)
	id := utils.NewSixID()
	h.users.On("FindByID", mock.Anything, id).Return(&models.User{Base: models.Base{ID: id}}, nil)
	h.projects.On("List", mock.Anything, services.ProjectFilter{UserID: &id}).Return([]models.Project{{}}, nil)
	h.requests.On("List", mock.Anything, services.RequestFilter{UserID: &id}).Return([]models.ProjectRequest{}, nil)
	h.billing.On("OutstandingForUser", mock.Anything, id).Return(&services.Balance{Outstanding: 100}, nil)

	var detail handlers.ClientDetail
	decodeData(t, h.call(t, "getClient", id.String()), &detail)
	assert.Len(t, detail.Projects, 1)
	assert.Equal(t, pricing.Amount(100), detail.Balance.Outstanding)
}

func TestJsonApiHandler_ListOverduePayments(t *testing.T) {
	h := newAPIHarness(t)
	h.signInAs(true)
	h.billing.On("FindOverduePayments", mock.Anything, mock.AnythingOfType("time.Time")).Return([]models.Project{{}, {}}, nil)

	var list []models.Project
	decodeData(t, h.call(t, "listOverduePayments"), &list)
	assert.Len(t, list, 2)
}

func TestJsonApiHandler_SetConfigValue(t *testing.T) {
	h := newAPIHarness(t)
	h.signInAs(true)
	h.settings.On("SetConfigValue", mock.Anything, services.KeyStaleRequestHours, float64(72), false).Return(nil)

	assert.True(t, h.call(t, "setConfigValue", map[string]interface{}{"key": services.KeyStaleRequestHours, "value": 72}).Success)
	h.settings.AssertExpectations(t)
}
