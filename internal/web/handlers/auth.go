package handlers

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/clubinhonerd/clubinhonerd/internal/auth"
	"github.com/clubinhonerd/clubinhonerd/internal/database"
	"github.com/clubinhonerd/clubinhonerd/internal/urls"
	"github.com/clubinhonerd/clubinhonerd/internal/web/middleware"
)

type loginPage struct {
	Form   loginForm
	Errors FieldErrors
}

type registerPage struct {
	Form   registerForm
	Errors FieldErrors
}

// afterLogin returns where to send a user who just logged in
func (h *Handlers) afterLogin(next string) string {
	if urls.IsLocal(next) {
		return next
	}
	return h.cfg.LoginRedirectPath()
}

// LoginPage renders the login page
func (h *Handlers) LoginPage(w http.ResponseWriter, r *http.Request) {
	next := r.URL.Query().Get("next")
	if middleware.GetUser(r.Context()) != nil {
		h.redirect(w, r, h.afterLogin(next))
		return
	}

	h.render(w, r, "login.html", loginPage{Form: loginForm{Next: next}})
}

// LoginSubmit handles login form submission
func (h *Handlers) LoginSubmit(w http.ResponseWriter, r *http.Request) {
	form := parseLoginForm(r)
	if errs := validateForm(form); errs.Any() {
		form.Password = ""
		h.renderStatus(w, r, http.StatusBadRequest, "login.html", loginPage{Form: form, Errors: errs})
		return
	}

	user, err := h.authService.Authenticate(form.Username, form.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		log.Info().Str("username", form.Username).Msg("Failed login attempt")
		form.Password = ""
		h.renderStatus(w, r, http.StatusUnauthorized, "login.html", loginPage{
			Form:   form,
			Errors: FieldErrors{"": "Usuário ou senha inválidos."},
		})
		return
	}
	if err != nil {
		h.serverError(w, r, err, "Authentication error")
		return
	}

	if err := h.startSession(w, user); err != nil {
		h.serverError(w, r, err, "Failed to create session")
		return
	}

	log.Info().Str("username", user.Username).Msg("User logged in")
	h.redirect(w, r, h.afterLogin(form.Next))
}

// startSession creates a login session for user and sets its cookie
func (h *Handlers) startSession(w http.ResponseWriter, user *database.User) error {
	session, err := h.authService.CreateSession(user.ID)
	if err != nil {
		return err
	}

	cookie := &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    session.ID,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
	}
	h.applyCookieSecurity(cookie)
	http.SetCookie(w, cookie)
	return nil
}

// Logout handles user logout
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.SessionCookie); err == nil {
		if err := h.authService.DeleteSession(cookie.Value); err != nil {
			log.Debug().Err(err).Msg("Failed to delete session during logout")
		}
	}

	cookie := &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	}
	h.applyCookieSecurity(cookie)
	http.SetCookie(w, cookie)

	h.flash(w, r, "Você saiu da sua conta.")
	h.redirect(w, r, urls.BuildHome())
}

// RegisterPage renders the sign-up form
func (h *Handlers) RegisterPage(w http.ResponseWriter, r *http.Request) {
	if middleware.GetUser(r.Context()) != nil {
		h.redirect(w, r, h.cfg.LoginRedirectPath())
		return
	}
	h.render(w, r, "register.html", registerPage{})
}

// RegisterSubmit creates the account and logs the new user in
func (h *Handlers) RegisterSubmit(w http.ResponseWriter, r *http.Request) {
	form := parseRegisterForm(r)
	rerender := func(errs FieldErrors) {
		form.Password, form.Confirm = "", ""
		h.renderStatus(w, r, http.StatusBadRequest, "register.html", registerPage{Form: form, Errors: errs})
	}

	if errs := validateForm(form); errs.Any() {
		rerender(errs)
		return
	}

	user, err := h.authService.Register(form.Username, form.Email, form.Password, false)
	switch {
	case errors.Is(err, auth.ErrUsernameTaken):
		rerender(FieldErrors{"username": "Este nome de usuário já está em uso."})
		return
	case errors.Is(err, auth.ErrPasswordTooShort):
		rerender(FieldErrors{"password": "Use pelo menos 8 caracteres."})
		return
	case err != nil:
		h.serverError(w, r, err, "Failed to register user")
		return
	}

	if err := h.startSession(w, user); err != nil {
		h.serverError(w, r, err, "Failed to create session")
		return
	}

	h.flash(w, r, "Conta criada. Bem-vindo(a)!")
	h.redirect(w, r, h.cfg.LoginRedirectPath())
}
