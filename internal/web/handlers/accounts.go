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

type dashboardPage struct {
	Enrollments []*database.EnrollmentWithCourse
}

// Dashboard lists the user's enrollments
func (h *Handlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())

	enrollments, err := h.db.ListEnrollmentsForUser(user.ID)
	if err != nil {
		h.serverError(w, r, err, "Failed to list enrollments")
		return
	}

	h.render(w, r, "dashboard.html", dashboardPage{Enrollments: enrollments})
}

type profilePage struct {
	Form   profileForm
	Errors FieldErrors
}

// EditProfilePage renders the profile form
func (h *Handlers) EditProfilePage(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	h.render(w, r, "edit_profile.html", profilePage{
		Form: profileForm{Name: user.Name, Email: user.Email},
	})
}

// EditProfileSubmit saves the user's name and email
func (h *Handlers) EditProfileSubmit(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	form := parseProfileForm(r)

	if errs := validateForm(form); errs.Any() {
		h.renderStatus(w, r, http.StatusBadRequest, "edit_profile.html", profilePage{Form: form, Errors: errs})
		return
	}

	if err := h.db.UpdateUserProfile(user.ID, form.Name, form.Email); err != nil {
		h.serverError(w, r, err, "Failed to update profile")
		return
	}

	log.Info().Str("username", user.Username).Msg("Profile updated")
	h.flash(w, r, "Perfil atualizado.")
	h.redirect(w, r, urls.BuildDashboard())
}

type passwordPage struct {
	Errors FieldErrors
}

// ChangePasswordPage renders the password form
func (h *Handlers) ChangePasswordPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "change_password.html", passwordPage{})
}

// ChangePasswordSubmit replaces the user's password after checking the current one
func (h *Handlers) ChangePasswordSubmit(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	form := parsePasswordForm(r)

	if errs := validateForm(form); errs.Any() {
		h.renderStatus(w, r, http.StatusBadRequest, "change_password.html", passwordPage{Errors: errs})
		return
	}

	err := h.authService.ChangePassword(user, form.Current, form.New)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		h.renderStatus(w, r, http.StatusBadRequest, "change_password.html", passwordPage{
			Errors: FieldErrors{"current_password": "Senha atual incorreta."},
		})
		return
	case errors.Is(err, auth.ErrPasswordTooShort):
		h.renderStatus(w, r, http.StatusBadRequest, "change_password.html", passwordPage{
			Errors: FieldErrors{"new_password": "Use pelo menos 8 caracteres."},
		})
		return
	case err != nil:
		h.serverError(w, r, err, "Failed to change password")
		return
	}

	log.Info().Str("username", user.Username).Msg("Password changed")
	h.flash(w, r, "Senha alterada.")
	h.redirect(w, r, urls.BuildDashboard())
}
