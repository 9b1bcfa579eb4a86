package payment

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/academy/internal/guard"
	"github.com/wolfeidau/academy/internal/models"
	"github.com/wolfeidau/academy/internal/store"
	"github.com/wolfeidau/academy/internal/telemetry"
)

const (
	// SuccessPath is where the provider returns the buyer after approval.
	SuccessPath = "/payment/success"

	maxCheckoutBody = 4 * 1024
)

// DashboardCoursePath is the enrolled view of a course.
func DashboardCoursePath(courseID string) string {
	return "/dashboard/courses/" + url.PathEscape(courseID)
}

// Handlers serve the checkout API and the provider return page. Both expect to run
// behind guard.RequireSession.
type Handlers struct {
	checkout    Checkout
	courses     guard.ResourceLookup
	enrollments store.EnrollmentStore
	baseURL     string
}

// NewHandlers creates the payment handlers. baseURL is the public site URL used to build
// provider return links.
func NewHandlers(checkout Checkout, courses guard.ResourceLookup, enrollments store.EnrollmentStore, baseURL string) *Handlers {
	return &Handlers{
		checkout:    checkout,
		courses:     courses,
		enrollments: enrollments,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
	}
}

// CheckoutRequestBody is the JSON accepted by the checkout endpoint.
type CheckoutRequestBody struct {
	CourseID string `json:"courseId"`
}

// CheckoutResponseBody is returned after an order is created.
type CheckoutResponseBody struct {
	OrderID    string `json:"orderId"`
	ApproveURL string `json:"approveUrl"`
}

type errorBody struct {
	Error    string `json:"error"`
	Location string `json:"location,omitempty"`
}

// CheckoutHandler creates a payment order for a course at POST /api/checkout.
func (h *Handlers) CheckoutHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := guard.IdentityFromContext(ctx)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "sign in required", Location: guard.SignInURL(guard.DashboardPath)})
		return
	}

	var body CheckoutRequestBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCheckoutBody)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	course, ok := h.courses.GetByID(body.CourseID)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "course not found"})
		return
	}

	if identity.IsEnrolled(course.ID) {
		writeJSON(w, http.StatusConflict, errorBody{Error: "already enrolled", Location: DashboardCoursePath(course.ID)})
		return
	}

	if course.PriceCents <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "course is not for sale"})
		return
	}

	returnURL := h.baseURL + SuccessPath + "?" + url.Values{"course": {course.ID}}.Encode()

	order, err := h.checkout.InitCheckout(ctx, CheckoutRequest{
		CourseID:    course.ID,
		Description: course.Title,
		AmountMinor: course.PriceCents,
		Currency:    course.Currency,
		UserID:      identity.UserID,
		ReturnURL:   returnURL,
		CancelURL:   h.baseURL + guard.CoursePath(course.ID),
	})
	if err != nil {
		log.Error().Err(err).Str("course", course.ID).Str("user", identity.UserID).Msg("Failed to create checkout")
		telemetry.RecordCheckout(ctx, telemetry.CheckoutCreateFailed)
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "payment provider unavailable"})
		return
	}

	telemetry.RecordCheckout(ctx, telemetry.CheckoutCreated)

	writeJSON(w, http.StatusOK, CheckoutResponseBody{OrderID: order.ID, ApproveURL: order.ApproveURL})
}

// SuccessHandler captures the approved order at GET /payment/success?token=&course=,
// enrolls the buyer and sends them to the course. Failures return the buyer to the course
// landing page with a payment=failed marker.
func (h *Handlers) SuccessHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := guard.IdentityFromContext(ctx)
	if !ok {
		http.Redirect(w, r, guard.SignInURL(r.URL.RequestURI()), http.StatusFound)
		return
	}

	orderID := r.URL.Query().Get("token")
	courseID := r.URL.Query().Get("course")

	if _, ok := h.courses.GetByID(courseID); !ok {
		http.Redirect(w, r, guard.DashboardPath, http.StatusFound)
		return
	}

	failed := guard.CoursePath(courseID) + "?payment=failed"

	if orderID == "" {
		http.Redirect(w, r, failed, http.StatusFound)
		return
	}

	capture, err := h.checkout.CaptureCheckout(ctx, orderID)
	if err != nil {
		log.Error().Err(err).Str("order_id", orderID).Str("user", identity.UserID).Msg("Failed to capture order")
		telemetry.RecordCheckout(ctx, telemetry.CheckoutCaptureFailed)
		http.Redirect(w, r, failed, http.StatusFound)
		return
	}

	if capture.CourseID != courseID || capture.UserID != identity.UserID {
		log.Warn().
			Str("order_id", orderID).
			Str("order_course", capture.CourseID).
			Str("order_user", capture.UserID).
			Str("course", courseID).
			Str("user", identity.UserID).
			Msg("Captured order does not match request")
		telemetry.RecordCheckout(ctx, telemetry.CheckoutMismatch)
		http.Redirect(w, r, failed, http.StatusFound)
		return
	}

	err = h.enrollments.Enroll(ctx, &models.Enrollment{
		UserID:   identity.UserID,
		CourseID: courseID,
		OrderID:  capture.OrderID,
	})
	switch {
	case err == nil:
		telemetry.RecordCheckout(ctx, telemetry.CheckoutCaptured)
		log.Info().Str("order_id", capture.OrderID).Str("course", courseID).Str("user", identity.UserID).Msg("Enrolled after payment")
	case errors.Is(err, store.ErrAlreadyEnrolled):
		log.Debug().Str("order_id", capture.OrderID).Msg("Already enrolled")
	default:
		log.Error().Err(err).Str("order_id", capture.OrderID).Msg("Failed to record enrollment")
		telemetry.RecordCheckout(ctx, telemetry.CheckoutEnrollFailed)
		http.Error(w, "failed to record enrollment", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, DashboardCoursePath(courseID), http.StatusFound)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
