package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/camden-git/albumconverter/logger"
	"github.com/camden-git/albumconverter/services"
	"go.uber.org/zap"
)

type AuthHandler struct {
	Auth *services.AuthService
	// SecureCookies marks the session cookie Secure; set behind TLS.
	SecureCookies bool
}

// RegisterForm describes the registration form.
func (ah *AuthHandler) RegisterForm(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"fields":   []string{"username", "email", "first_name", "last_name", "password1", "password2"},
		"messages": popFlash(w, r),
	})
}

// Register creates an account that an administrator has to approve.
func (ah *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	ajax := isAJAX(r)
	var in services.RegisterInput
	err := decodeForm(r, map[string]*string{
		"username":   &in.Username,
		"email":      &in.Email,
		"first_name": &in.FirstName,
		"last_name":  &in.LastName,
		"password1":  &in.Password1,
		"password2":  &in.Password2,
	})
	if err != nil {
		if ajax {
			writeFailure(w, http.StatusBadRequest, err.Error())
			return
		}
		redirectWith(w, r, "/register/", flashError(err.Error()))
		return
	}

	user, err := ah.Auth.Register(in)
	if err != nil {
		var verr *services.ValidationError
		if errors.As(err, &verr) {
			if ajax {
				writeFieldErrors(w, verr.Fields)
				return
			}
			msgs := append([]FlashMessage{flashError("Registration failed. Please correct the errors below.")}, fieldFlashes(verr.Fields)...)
			redirectWith(w, r, "/register/", msgs...)
			return
		}
		logger.Error("registration failed", zap.Error(err))
		if ajax {
			writeFailure(w, http.StatusInternalServerError, "registration failed")
			return
		}
		redirectWith(w, r, "/register/", flashError("Registration failed."))
		return
	}

	const msg = "Registration successful! Your account is awaiting approval by an administrator."
	if ajax {
		writeJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "message": msg, "user": user})
		return
	}
	redirectWith(w, r, "/login/", flashSuccess(msg))
}

// LoginForm describes the login form.
func (ah *AuthHandler) LoginForm(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"fields":   []string{"username", "password"},
		"messages": popFlash(w, r),
	})
}

// Login checks the credentials and sets the session cookie. Accounts that
// are not approved yet get 403.
func (ah *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ajax := isAJAX(r)
	var username, password string
	if err := decodeForm(r, map[string]*string{"username": &username, "password": &password}); err != nil {
		if ajax {
			writeFailure(w, http.StatusBadRequest, err.Error())
			return
		}
		redirectWith(w, r, "/login/", flashError(err.Error()))
		return
	}

	user, token, expiresAt, err := ah.Auth.Login(username, password)
	if err != nil {
		status, msg := http.StatusInternalServerError, "Login failed."
		switch {
		case errors.Is(err, services.ErrInvalidCredentials):
			status, msg = http.StatusUnauthorized, "Incorrect username or password."
		case errors.Is(err, services.ErrNotApproved):
			status, msg = http.StatusForbidden, "Your account has not been approved by an administrator yet."
		default:
			logger.Error("login failed", zap.String("username", username), zap.Error(err))
		}
		if ajax {
			writeFailure(w, status, msg)
			return
		}
		redirectWith(w, r, "/login/", flashError(msg))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   ah.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	logger.Info("user logged in", zap.String("username", user.Username))

	if ajax {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":    true,
			"user":       user,
			"token":      token,
			"expires_at": expiresAt.Format(time.RFC3339),
		})
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Logout clears the session cookie.
func (ah *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   ah.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	const msg = "You have been logged out."
	if isAJAX(r) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": msg})
		return
	}
	redirectWith(w, r, "/login/", flashSuccess(msg))
}
