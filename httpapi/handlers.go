package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/erpcore/authgate"
	"github.com/erpcore/authgate/autherr"
	"github.com/erpcore/authgate/identity"
	"github.com/erpcore/authgate/middleware"
)

const maxBodyBytes = 1 << 20

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string           `json:"accessToken"`
	ExpiresAt   time.Time        `json:"expiresAt"`
	User        *identity.Public `json:"user,omitempty"`
}

type userResponse struct {
	User identity.Public `json:"user"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type setRoleRequest struct {
	Role string `json:"role"`
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !a.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		a.fail(w, autherr.ErrInvalidRequest.WithMessage("email and password are required"))
		return
	}

	res, err := a.engine.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.fail(w, err)
		return
	}

	a.setRefreshCookie(w, res.RefreshToken)
	middleware.WriteJSON(w, http.StatusOK, tokenResponse{
		AccessToken: res.AccessToken,
		ExpiresAt:   res.AccessExpiresAt,
		User:        &res.User,
	})
}

func (a *API) refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(a.cookie.Name)
	if err != nil || cookie.Value == "" {
		a.fail(w, autherr.ErrNoToken)
		return
	}

	res, err := a.engine.Refresh(r.Context(), cookie.Value)
	if err != nil {
		// A dead refresh token is useless to the client; an outage is not
		// the token's fault.
		if ae := autherr.From(err); ae.Status == http.StatusUnauthorized {
			a.clearRefreshCookie(w)
		}
		a.fail(w, err)
		return
	}

	a.setRefreshCookie(w, res.RefreshToken)
	middleware.WriteJSON(w, http.StatusOK, tokenResponse{
		AccessToken: res.AccessToken,
		ExpiresAt:   res.AccessExpiresAt,
	})
}

// logout never fails: the bearer token and cookie are both optional.
func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	access, _ := middleware.BearerToken(r.Header.Get("Authorization"))
	var refresh string
	if c, err := r.Cookie(a.cookie.Name); err == nil {
		refresh = c.Value
	}

	a.engine.Logout(r.Context(), access, refresh)
	a.clearRefreshCookie(w)
	middleware.WriteJSON(w, http.StatusOK, messageResponse{Message: "logged out"})
}

func (a *API) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !a.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		a.fail(w, autherr.ErrInvalidRequest.WithMessage("email is required"))
		return
	}

	if err := a.engine.RequestPasswordReset(r.Context(), req.Email); err != nil {
		a.fail(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, messageResponse{
		Message: "if that address is registered, a reset link has been sent",
	})
}

func (a *API) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Token == "" || req.Password == "" {
		a.fail(w, autherr.ErrInvalidRequest.WithMessage("token and password are required"))
		return
	}

	if err := a.engine.CompletePasswordReset(r.Context(), req.Token, req.Password); err != nil {
		a.fail(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, messageResponse{Message: "password updated"})
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !a.decode(w, r, &req) {
		return
	}

	user, err := a.engine.Register(r.Context(), authgate.RegisterRequest{
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
	})
	if err != nil {
		a.fail(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, userResponse{User: user})
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	p, _ := authgate.PrincipalFromContext(r.Context())
	user, err := a.engine.Profile(r.Context(), p.Subject)
	if err != nil {
		a.fail(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, userResponse{User: user})
}

func (a *API) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		a.fail(w, autherr.ErrInvalidRequest.WithMessage("currentPassword and newPassword are required"))
		return
	}

	p, _ := authgate.PrincipalFromContext(r.Context())
	if err := a.engine.ChangePassword(r.Context(), p.Subject, req.CurrentPassword, req.NewPassword); err != nil {
		a.fail(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, messageResponse{Message: "password updated"})
}

func (a *API) unlockUser(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.UnlockAccount(r.Context(), r.PathValue("id")); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) setUserRole(w http.ResponseWriter, r *http.Request) {
	var req setRoleRequest
	if !a.decode(w, r, &req) {
		return
	}

	if err := a.engine.SetRole(r.Context(), r.PathValue("id"), identity.Role(req.Role)); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) deactivateUser(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.Deactivate(r.Context(), r.PathValue("id")); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/*
====================================
HELPERS
====================================
*/

func (a *API) fail(w http.ResponseWriter, err error) {
	middleware.WriteError(w, err, a.opts.ErrorDetail)
}

// decode reads one JSON object from a body capped at 1 MiB. On failure it
// writes INVALID_REQUEST and returns false.
func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer body.Close()

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		msg := "malformed JSON body"
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			msg = "request body is required"
		case errors.As(err, &tooLarge):
			msg = "request body too large"
		}
		a.fail(w, autherr.ErrInvalidRequest.WithMessage(msg).Wrap(err))
		return false
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		a.fail(w, autherr.ErrInvalidRequest.WithMessage("unexpected data after JSON body"))
		return false
	}
	return true
}
