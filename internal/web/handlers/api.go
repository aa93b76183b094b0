package handlers

import (
	"net/http"

	"github.com/clubinhonerd/clubinhonerd/internal/urls"
)

// CourseResult is a course as returned by the search API
type CourseResult struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	URL         string `json:"url"`
	ImageURL    string `json:"image_url,omitempty"`
}

// APICourses returns the courses matching the q parameter as JSON
func (h *Handlers) APICourses(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	list, err := h.db.SearchCourses(query)
	if err != nil {
		h.jsonError(w, "failed to search courses", http.StatusInternalServerError)
		return
	}

	results := make([]CourseResult, 0, len(list))
	for _, c := range list {
		result := CourseResult{
			Name:        c.Name,
			Slug:        c.Slug,
			Description: c.Description,
			URL:         urls.Absolute(c.AbsoluteURL()),
		}
		if c.Image != "" {
			result.ImageURL = h.media.URL(c.Image)
		}
		results = append(results, result)
	}

	h.jsonResponse(w, http.StatusOK, results)
}
