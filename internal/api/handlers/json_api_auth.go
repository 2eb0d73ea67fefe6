package handlers

import (
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Medard-prog/web-whisperer-sub001/internal/apperr"
	"github.com/Medard-prog/web-whisperer-sub001/internal/logger"
	"github.com/Medard-prog/web-whisperer-sub001/internal/models"
	"github.com/Medard-prog/web-whisperer-sub001/internal/services"
	"github.com/Medard-prog/web-whisperer-sub001/internal/session"
)

// AuthResult is returned by every call that opens a session.
type AuthResult struct {
	Session *session.Session `json:"session"`
	User    *models.User     `json:"user"`
}

func (h *JsonApiHandler) signUp(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var in services.SignUpInput
	if apiErr := parseRequiredSingleArgFromArray(args, &in); apiErr != nil {
		return nil, apiErr
	}
	ctx := c.Request.Context()
	user, err := h.Users.SignUp(ctx, in)
	if err != nil {
		return nil, toApiError("sign up", err)
	}
	sess, err := h.Sessions.Start(ctx, user)
	if err != nil {
		return nil, toApiError("start session", err)
	}
	h.Notifier.Welcome(ctx, user)
	return AuthResult{Session: sess, User: user}, nil
}

type signInArgs struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *JsonApiHandler) signIn(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var in signInArgs
	if apiErr := parseRequiredSingleArgFromArray(args, &in); apiErr != nil {
		return nil, apiErr
	}
	ctx := c.Request.Context()
	user, err := h.Users.Authenticate(ctx, in.Email, in.Password)
	if err != nil {
		return nil, toApiError("sign in", err)
	}
	sess, err := h.Sessions.Start(ctx, user)
	if err != nil {
		return nil, toApiError("start session", err)
	}
	return AuthResult{Session: sess, User: user}, nil
}

// getSession returns null for anonymous callers rather than failing.
func (h *JsonApiHandler) getSession(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	sess := currentSession(c)
	if sess == nil {
		return nil, nil
	}
	user, err := h.Users.FindByID(c.Request.Context(), sess.UserID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, nil
		}
		return nil, toApiError("load session user", err)
	}
	return AuthResult{Session: sess, User: user}, nil
}

func (h *JsonApiHandler) signOut(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	if err := h.Sessions.SignOut(c.Request.Context(), currentSession(c)); err != nil {
		return nil, toApiError("sign out", err)
	}
	return true, nil
}

func (h *JsonApiHandler) refreshSession(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	ctx := c.Request.Context()
	next, err := h.Sessions.Refresh(ctx, currentSession(c))
	if err != nil {
		return nil, toApiError("refresh session", err)
	}
	user, err := h.Users.FindByID(ctx, next.UserID)
	if err != nil {
		return nil, toApiError("load session user", err)
	}
	return AuthResult{Session: next, User: user}, nil
}

func (h *JsonApiHandler) updateUser(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var upd models.ProfileUpdate
	if apiErr := parseRequiredSingleArgFromArray(args, &upd); apiErr != nil {
		return nil, apiErr
	}
	user, err := h.Users.UpdateProfile(c.Request.Context(), currentSession(c).UserID, upd)
	if err != nil {
		return nil, toApiError("update profile", err)
	}
	return user, nil
}

type resetOptions struct {
	RedirectTo string `json:"redirect_to"`
}

// resetPasswordForEmail always reports success so it cannot be used to probe
// which addresses have accounts.
func (h *JsonApiHandler) resetPasswordForEmail(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var email string
	var opts resetOptions
	if apiErr := parseOptionalArgs(args, &email, &opts); apiErr != nil {
		return nil, apiErr
	}
	if !models.ValidEmail(models.NormalizeEmail(email)) {
		return nil, toApiError("reset password", apperr.Invalid("email", "is not a valid email address"))
	}
	ctx := c.Request.Context()
	user, err := h.Users.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			logger.Errorf("resetPasswordForEmail: lookup failed: %v", err)
		}
		return true, nil
	}
	action, err := h.Actions.CreatePasswordResetAction(ctx, user.ID)
	if err != nil {
		logger.Errorf("resetPasswordForEmail: failed to create reset link for %s: %v", user.ID, err)
		return true, nil
	}
	h.Notifier.PasswordReset(ctx, user.Email, h.resetLink(opts.RedirectTo, action.ID.String()), h.cfg.ResetAccessLinkTTL)
	return true, nil
}

// resetLink only honours redirect targets on the portal's own origin.
func (h *JsonApiHandler) resetLink(redirectTo, token string) string {
	base := h.cfg.AppBaseURL + "/reset-password"
	if redirectTo != "" && strings.HasPrefix(redirectTo, h.cfg.AppBaseURL+"/") {
		base = redirectTo
	}
	u, err := url.Parse(base)
	if err != nil {
		u, _ = url.Parse(h.cfg.AppBaseURL + "/reset-password")
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

// completePasswordReset takes [action_id, new_password]. The link is checked
// before the password so a rejected password does not burn it.
func (h *JsonApiHandler) completePasswordReset(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var token, password string
	if apiErr := parseArgs(args, &token, &password); apiErr != nil {
		return nil, apiErr
	}
	ctx := c.Request.Context()
	action, err := h.Actions.FindAndValidateAction(ctx, token, models.ActionPasswordReset)
	if err != nil {
		return nil, toApiError("validate reset link", err)
	}
	if err := h.Users.SetPassword(ctx, action.UserID, password); err != nil {
		return nil, toApiError("set password", err)
	}
	if _, err := h.Actions.ConsumeAction(ctx, token, models.ActionPasswordReset); err != nil {
		return nil, toApiError("consume reset link", err)
	}
	logger.Infof("Password reset completed for user %s", action.UserID)
	return true, nil
}
