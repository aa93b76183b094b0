package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/clubinhonerd/clubinhonerd/internal/database"
)

var validate = newValidator()

var usernameRegex = regexp.MustCompile(`^[\p{L}\p{N}_.@+-]+$`)

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their form name
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return database.IsValidSlug(fl.Field().String())
	})
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernameRegex.MatchString(fl.Field().String())
	})
	return v
}

// FieldErrors maps a form field name to the message shown next to it
type FieldErrors map[string]string

// Any reports whether there is at least one error
func (e FieldErrors) Any() bool {
	return len(e) > 0
}

// validateForm runs the struct's validate tags and turns failures into
// messages keyed by the struct's form tag
func validateForm(form any) FieldErrors {
	err := validate.Struct(form)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return FieldErrors{"": err.Error()}
	}

	out := FieldErrors{}
	for _, fe := range verrs {
		field := fe.Field()
		if _, exists := out[field]; !exists {
			out[field] = fieldMessage(fe)
		}
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "Este campo é obrigatório."
	case "email":
		return "Informe um endereço de e-mail válido."
	case "min":
		return fmt.Sprintf("Use pelo menos %s caracteres.", fe.Param())
	case "max":
		return fmt.Sprintf("Use no máximo %s caracteres.", fe.Param())
	case "eqfield":
		return "Os valores não conferem."
	case "slug":
		return "Use apenas letras minúsculas, números e hífens."
	case "datetime":
		return "Informe uma data no formato AAAA-MM-DD."
	case "username":
		return "Use apenas letras, números e os caracteres @ . + - _"
	}
	return "Valor inválido."
}

// loginForm is the login page's form
type loginForm struct {
	Username string `form:"username" validate:"required"`
	Password string `form:"password" validate:"required"`
	Next     string `form:"next"`
}

// registerForm is the sign-up form
type registerForm struct {
	Username string `form:"username" validate:"required,min=3,max=150,username"`
	Email    string `form:"email" validate:"required,email,max=254"`
	Password string `form:"password" validate:"required,min=8"`
	Confirm  string `form:"confirm_password" validate:"required,eqfield=Password"`
}

// profileForm edits the user's own name and email
type profileForm struct {
	Name  string `form:"name" validate:"max=150"`
	Email string `form:"email" validate:"required,email,max=254"`
}

// passwordForm changes the user's password
type passwordForm struct {
	Current string `form:"current_password" validate:"required"`
	New     string `form:"new_password" validate:"required,min=8"`
	Confirm string `form:"confirm_password" validate:"required,eqfield=New"`
}

// contactForm is a visitor's question about a course
type contactForm struct {
	Name    string `form:"name" validate:"required,max=100"`
	Email   string `form:"email" validate:"required,email,max=254"`
	Message string `form:"message" validate:"required,max=5000"`
}

// courseForm creates or edits a course from the admin
type courseForm struct {
	Name        string `form:"name" validate:"required,max=100"`
	Slug        string `form:"slug" validate:"omitempty,max=100,slug"`
	Description string `form:"description" validate:"max=1000"`
	About       string `form:"about"`
	StartDate   string `form:"start_date" validate:"omitempty,datetime=2006-01-02"`
}

// startDate returns the parsed start date, nil when the field is empty
func (f courseForm) startDate() *time.Time {
	if f.StartDate == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", f.StartDate)
	if err != nil {
		return nil
	}
	return &t
}

func (f courseForm) apply(c *database.Course) {
	c.Name = f.Name
	c.Slug = f.Slug
	c.Description = f.Description
	c.About = f.About
	c.StartDate = f.startDate()
}

func courseFormFrom(c *database.Course) courseForm {
	f := courseForm{
		Name:        c.Name,
		Slug:        c.Slug,
		Description: c.Description,
		About:       c.About,
	}
	if c.StartDate != nil {
		f.StartDate = c.StartDate.Format("2006-01-02")
	}
	return f
}

// announcementForm posts an announcement from the admin
type announcementForm struct {
	Title   string `form:"title" validate:"required,max=100"`
	Content string `form:"content" validate:"required"`
}

// commentForm adds a comment to an announcement
type commentForm struct {
	Comment string `form:"comment" validate:"required,max=5000"`
}

func parseLoginForm(r *http.Request) loginForm {
	return loginForm{
		Username: strings.TrimSpace(r.PostFormValue("username")),
		Password: r.PostFormValue("password"),
		Next:     r.PostFormValue("next"),
	}
}

func parseRegisterForm(r *http.Request) registerForm {
	return registerForm{
		Username: strings.TrimSpace(r.PostFormValue("username")),
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Password: r.PostFormValue("password"),
		Confirm:  r.PostFormValue("confirm_password"),
	}
}

func parseProfileForm(r *http.Request) profileForm {
	return profileForm{
		Name:  strings.TrimSpace(r.PostFormValue("name")),
		Email: strings.TrimSpace(r.PostFormValue("email")),
	}
}

func parsePasswordForm(r *http.Request) passwordForm {
	return passwordForm{
		Current: r.PostFormValue("current_password"),
		New:     r.PostFormValue("new_password"),
		Confirm: r.PostFormValue("confirm_password"),
	}
}

func parseContactForm(r *http.Request) contactForm {
	return contactForm{
		Name:    strings.TrimSpace(r.PostFormValue("name")),
		Email:   strings.TrimSpace(r.PostFormValue("email")),
		Message: strings.TrimSpace(r.PostFormValue("message")),
	}
}

func parseCourseForm(r *http.Request) courseForm {
	return courseForm{
		Name:        strings.TrimSpace(r.PostFormValue("name")),
		Slug:        strings.TrimSpace(r.PostFormValue("slug")),
		Description: strings.TrimSpace(r.PostFormValue("description")),
		About:       r.PostFormValue("about"),
		StartDate:   strings.TrimSpace(r.PostFormValue("start_date")),
	}
}

func parseAnnouncementForm(r *http.Request) announcementForm {
	return announcementForm{
		Title:   strings.TrimSpace(r.PostFormValue("title")),
		Content: strings.TrimSpace(r.PostFormValue("content")),
	}
}

func parseCommentForm(r *http.Request) commentForm {
	return commentForm{Comment: strings.TrimSpace(r.PostFormValue("comment"))}
}
