// Package site serves the website's pages as JSON view models for the frontend renderer.
package site

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/academy/internal/guard"
	"github.com/wolfeidau/academy/internal/models"
	"github.com/wolfeidau/academy/internal/payment"
	"github.com/wolfeidau/academy/internal/store"
)

const (
	ProfilePath   = "/dashboard/profile"
	AdminBlogPath = "/admin/blog"

	maxProfileField = 500
	maxProfileBody  = 8 * 1024
)

var experienceLevels = []string{"", "beginner", "intermediate", "advanced"}

// Courses is the catalog view the pages need.
type Courses interface {
	guard.ResourceLookup
	List() []models.Course
}

// Site holds the page handlers.
type Site struct {
	guard   *guard.Guard
	gate    guard.EntitlementGate
	courses Courses
	users   store.UserStore
	policy  guard.AdminPolicy
}

// New creates the site. policy decides who reaches the admin panel.
func New(g *guard.Guard, courses Courses, users store.UserStore, policy guard.AdminPolicy) *Site {
	return &Site{
		guard:   g,
		courses: courses,
		users:   users,
		policy:  policy,
	}
}

// RegisterRoutes adds the page routes to mux.
func (s *Site) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /{$}", s.guard.OptionalSession(http.HandlerFunc(s.Home)))
	mux.Handle("GET /courses/{id}", s.guard.OptionalSession(http.HandlerFunc(s.CourseLanding)))

	mux.Handle("GET /dashboard", s.guard.RequireSession(http.HandlerFunc(s.Dashboard)))
	mux.Handle("GET /dashboard/courses/{id}", s.guard.RequireCourse("id", s.gate)(http.HandlerFunc(s.CoursePage)))
	mux.Handle("GET "+ProfilePath, s.guard.RequireSession(http.HandlerFunc(s.Profile)))
	mux.Handle("POST "+ProfilePath, s.guard.RequireSession(http.HandlerFunc(s.UpdateProfile)))

	mux.Handle("GET "+AdminBlogPath, s.guard.RequireAdmin(s.policy)(http.HandlerFunc(s.AdminBlog)))
}

// HomeView is the public landing page.
type HomeView struct {
	Courses []models.Course  `json:"courses"`
	User    *models.Identity `json:"user,omitempty"`
}

func (s *Site) Home(w http.ResponseWriter, r *http.Request) {
	identity, _ := guard.IdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, HomeView{Courses: s.courses.List(), User: identity})
}

// CourseLandingView is the public course (purchase) page.
type CourseLandingView struct {
	Course        *models.Course `json:"course"`
	Enrolled      bool           `json:"enrolled"`
	SignedIn      bool           `json:"signedIn"`
	PaymentFailed bool           `json:"paymentFailed,omitempty"`
	// Next is where the primary call to action leads.
	Next string `json:"next"`
}

func (s *Site) CourseLanding(w http.ResponseWriter, r *http.Request) {
	course, ok := s.courses.GetByID(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorView{Error: "course not found"})
		return
	}

	identity, signedIn := guard.IdentityFromContext(r.Context())

	view := CourseLandingView{
		Course:        course,
		SignedIn:      signedIn,
		Enrolled:      identity.IsEnrolled(course.ID),
		PaymentFailed: r.URL.Query().Get("payment") == "failed",
	}

	switch {
	case view.Enrolled:
		view.Next = payment.DashboardCoursePath(course.ID)
	case !signedIn:
		view.Next = guard.SignInURL(guard.CoursePath(course.ID))
	default:
		view.Next = "/api/checkout"
	}

	writeJSON(w, http.StatusOK, view)
}

// DashboardView is the student dashboard.
type DashboardView struct {
	User            *models.Identity `json:"user"`
	Courses         []models.Course  `json:"courses"`
	ProfileComplete bool             `json:"profileComplete"`
}

func (s *Site) Dashboard(w http.ResponseWriter, r *http.Request) {
	identity, _ := guard.IdentityFromContext(r.Context())

	// enrollments for courses since removed from the catalog are skipped
	courses := make([]models.Course, 0, len(identity.EnrolledCourses))
	for _, id := range identity.EnrolledCourses {
		if course, ok := s.courses.GetByID(id); ok {
			courses = append(courses, *course)
		}
	}

	writeJSON(w, http.StatusOK, DashboardView{
		User:            identity,
		Courses:         courses,
		ProfileComplete: identity.Profile != nil && !identity.Profile.IsEmpty(),
	})
}

// CoursePageView is the enrolled course page.
type CoursePageView struct {
	Course *models.Course   `json:"course"`
	User   *models.Identity `json:"user"`
}

func (s *Site) CoursePage(w http.ResponseWriter, r *http.Request) {
	identity, _ := guard.IdentityFromContext(r.Context())

	// RequireCourse already checked the course exists
	course, ok := s.courses.GetByID(r.PathValue("id"))
	if !ok {
		http.Redirect(w, r, guard.DashboardPath, http.StatusFound)
		return
	}

	writeJSON(w, http.StatusOK, CoursePageView{Course: course, User: identity})
}

// ProfileView is the student profile form.
type ProfileView struct {
	Profile          models.StudentProfile `json:"profile"`
	ExperienceLevels []string              `json:"experienceLevels"`
	Saved            bool                  `json:"saved,omitempty"`
}

func (s *Site) Profile(w http.ResponseWriter, r *http.Request) {
	identity, _ := guard.IdentityFromContext(r.Context())

	view := ProfileView{
		ExperienceLevels: experienceLevels[1:],
		Saved:            r.URL.Query().Get("saved") == "1",
	}
	if identity.Profile != nil {
		view.Profile = *identity.Profile
	}

	writeJSON(w, http.StatusOK, view)
}

// UpdateProfile saves the profile from a form post or a JSON body. Form posts are
// redirected back to the profile page, JSON callers get the saved profile.
func (s *Site) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	identity, _ := guard.IdentityFromContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, maxProfileBody)

	isJSON := false
	if mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err == nil {
		isJSON = mediaType == "application/json"
	}

	var profile models.StudentProfile
	if isJSON {
		if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
			writeJSON(w, http.StatusBadRequest, errorView{Error: "invalid request body"})
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}
		profile = models.StudentProfile{
			ExperienceLevel: r.PostForm.Get("experienceLevel"),
			Company:         r.PostForm.Get("company"),
			Role:            r.PostForm.Get("role"),
			Goals:           r.PostForm.Get("goals"),
		}
	}

	profile, err := normalizeProfile(profile)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorView{Error: err.Error()})
		return
	}

	if err := s.users.UpdateProfile(r.Context(), identity.UserID, profile); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			http.Redirect(w, r, guard.SignInURL(ProfilePath), http.StatusFound)
			return
		}
		log.Error().Err(err).Str("user", identity.UserID).Msg("Failed to update profile")
		writeJSON(w, http.StatusInternalServerError, errorView{Error: "failed to save profile"})
		return
	}

	log.Info().Str("user", identity.UserID).Msg("Updated student profile")

	if isJSON {
		writeJSON(w, http.StatusOK, ProfileView{Profile: profile, ExperienceLevels: experienceLevels[1:], Saved: true})
		return
	}

	http.Redirect(w, r, ProfilePath+"?saved=1", http.StatusSeeOther)
}

func normalizeProfile(p models.StudentProfile) (models.StudentProfile, error) {
	p.ExperienceLevel = strings.ToLower(strings.TrimSpace(p.ExperienceLevel))
	p.Company = strings.TrimSpace(p.Company)
	p.Role = strings.TrimSpace(p.Role)
	p.Goals = strings.TrimSpace(p.Goals)

	valid := false
	for _, level := range experienceLevels {
		if p.ExperienceLevel == level {
			valid = true
			break
		}
	}
	if !valid {
		return p, fmt.Errorf("unknown experience level %q", p.ExperienceLevel)
	}

	for name, value := range map[string]string{"company": p.Company, "role": p.Role, "goals": p.Goals} {
		if utf8.RuneCountInString(value) > maxProfileField {
			return p, fmt.Errorf("%s must be at most %d characters", name, maxProfileField)
		}
	}

	return p, nil
}

// AdminBlogView is the blog admin panel.
type AdminBlogView struct {
	User   *models.Identity `json:"user"`
	Policy string           `json:"policy"`
}

func (s *Site) AdminBlog(w http.ResponseWriter, r *http.Request) {
	identity, _ := guard.IdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, AdminBlogView{User: identity, Policy: s.policy.Name()})
}

type errorView struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode view")
	}
}
