package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/academy/internal/catalog"
	"github.com/wolfeidau/academy/internal/guard"
	"github.com/wolfeidau/academy/internal/models"
	"github.com/wolfeidau/academy/internal/store"
	"github.com/wolfeidau/academy/internal/store/memory"
)

type fakeCheckout struct {
	initReq    CheckoutRequest
	initErr    error
	capture    *Capture
	captureErr error
	captures   int
}

func (f *fakeCheckout) InitCheckout(ctx context.Context, req CheckoutRequest) (*Order, error) {
	f.initReq = req
	if f.initErr != nil {
		return nil, f.initErr
	}
	return &Order{ID: "ORDER-1", Status: "CREATED", ApproveURL: "https://paypal.example/approve?token=ORDER-1"}, nil
}

func (f *fakeCheckout) CaptureCheckout(ctx context.Context, orderID string) (*Capture, error) {
	f.captures++
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	return f.capture, nil
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New([]models.Course{
		{ID: "abc123", Title: "Go in Production", PriceCents: 4999, Currency: "USD", Published: true},
		{ID: "free", Title: "Intro", Published: true},
	})
	require.NoError(t, err)
	return c
}

func withIdentity(r *http.Request, identity *models.Identity) *http.Request {
	if identity == nil {
		return r
	}
	return r.WithContext(guard.WithIdentity(r.Context(), identity))
}

func TestCheckoutHandler(t *testing.T) {
	student := &models.Identity{UserID: "github:1"}
	enrolled := &models.Identity{UserID: "github:1", EnrolledCourses: []string{"abc123"}}

	tests := []struct {
		name       string
		identity   *models.Identity
		body       string
		initErr    error
		wantStatus int
		wantBody   string
	}{
		{name: "anonymous", body: `{"courseId":"abc123"}`, wantStatus: http.StatusUnauthorized},
		{name: "bad body", identity: student, body: `{`, wantStatus: http.StatusBadRequest},
		{name: "unknown course", identity: student, body: `{"courseId":"nope"}`, wantStatus: http.StatusNotFound},
		{name: "already enrolled", identity: enrolled, body: `{"courseId":"abc123"}`, wantStatus: http.StatusConflict, wantBody: "/dashboard/courses/abc123"},
		{name: "free course", identity: student, body: `{"courseId":"free"}`, wantStatus: http.StatusBadRequest},
		{name: "provider down", identity: student, body: `{"courseId":"abc123"}`, initErr: ErrProvider, wantStatus: http.StatusBadGateway},
		{name: "created", identity: student, body: `{"courseId":"abc123"}`, wantStatus: http.StatusOK, wantBody: "ORDER-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkout := &fakeCheckout{initErr: tt.initErr}
			h := NewHandlers(checkout, testCatalog(t), memory.NewEnrollmentStore(), "https://academy.example.com/")

			w := httptest.NewRecorder()
			r := withIdentity(httptest.NewRequest(http.MethodPost, "/api/checkout", strings.NewReader(tt.body)), tt.identity)

			h.CheckoutHandler(w, r)

			require.Equal(t, tt.wantStatus, w.Code)
			require.Equal(t, "application/json", w.Header().Get("Content-Type"))
			if tt.wantBody != "" {
				require.Contains(t, w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestCheckoutHandler_request(t *testing.T) {
	checkout := &fakeCheckout{}
	h := NewHandlers(checkout, testCatalog(t), memory.NewEnrollmentStore(), "https://academy.example.com")

	w := httptest.NewRecorder()
	r := withIdentity(httptest.NewRequest(http.MethodPost, "/api/checkout", strings.NewReader(`{"courseId":"abc123"}`)), &models.Identity{UserID: "github:1"})
	h.CheckoutHandler(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	var resp CheckoutResponseBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Equal(t, "ORDER-1", resp.OrderID)

	require.Equal(t, int64(4999), checkout.initReq.AmountMinor)
	require.Equal(t, "github:1", checkout.initReq.UserID)
	require.Equal(t, "https://academy.example.com/payment/success?course=abc123", checkout.initReq.ReturnURL)
	require.Equal(t, "https://academy.example.com/courses/abc123", checkout.initReq.CancelURL)
}

func TestSuccessHandler(t *testing.T) {
	good := &Capture{OrderID: "ORDER-1", Status: "COMPLETED", CourseID: "abc123", UserID: "github:1"}
	student := &models.Identity{UserID: "github:1"}

	tests := []struct {
		name         string
		identity     *models.Identity
		query        url.Values
		capture      *Capture
		captureErr   error
		wantLocation string
		wantEnrolled bool
	}{
		{
			name:         "anonymous",
			query:        url.Values{"token": {"ORDER-1"}, "course": {"abc123"}},
			wantLocation: guard.SignInURL("/payment/success?course=abc123&token=ORDER-1"),
		},
		{
			name:         "unknown course",
			identity:     student,
			query:        url.Values{"token": {"ORDER-1"}, "course": {"nope"}},
			wantLocation: "/dashboard",
		},
		{
			name:         "missing token",
			identity:     student,
			query:        url.Values{"course": {"abc123"}},
			wantLocation: "/courses/abc123?payment=failed",
		},
		{
			name:         "capture failed",
			identity:     student,
			query:        url.Values{"token": {"ORDER-1"}, "course": {"abc123"}},
			captureErr:   errors.New("declined"),
			wantLocation: "/courses/abc123?payment=failed",
		},
		{
			name:         "order for someone else",
			identity:     &models.Identity{UserID: "github:2"},
			query:        url.Values{"token": {"ORDER-1"}, "course": {"abc123"}},
			capture:      good,
			wantLocation: "/courses/abc123?payment=failed",
		},
		{
			name:         "captured",
			identity:     student,
			query:        url.Values{"token": {"ORDER-1"}, "course": {"abc123"}},
			capture:      good,
			wantLocation: "/dashboard/courses/abc123",
			wantEnrolled: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enrollments := memory.NewEnrollmentStore()
			h := NewHandlers(&fakeCheckout{capture: tt.capture, captureErr: tt.captureErr}, testCatalog(t), enrollments, "https://academy.example.com")

			w := httptest.NewRecorder()
			r := withIdentity(httptest.NewRequest(http.MethodGet, "/payment/success?"+tt.query.Encode(), nil), tt.identity)

			h.SuccessHandler(w, r)

			require.Equal(t, http.StatusFound, w.Code)
			require.Equal(t, tt.wantLocation, w.Header().Get("Location"))

			if tt.identity != nil {
				ids, err := enrollments.ListCourseIDs(context.Background(), tt.identity.UserID)
				require.NoError(t, err)
				require.Equal(t, tt.wantEnrolled, len(ids) == 1)
			}
		})
	}
}

func TestSuccessHandler_reload(t *testing.T) {
	enrollments := memory.NewEnrollmentStore()
	checkout := &fakeCheckout{capture: &Capture{OrderID: "ORDER-1", CourseID: "abc123", UserID: "github:1"}}
	h := NewHandlers(checkout, testCatalog(t), enrollments, "https://academy.example.com")

	for range 2 {
		w := httptest.NewRecorder()
		r := withIdentity(httptest.NewRequest(http.MethodGet, "/payment/success?token=ORDER-1&course=abc123", nil), &models.Identity{UserID: "github:1"})
		h.SuccessHandler(w, r)
		require.Equal(t, "/dashboard/courses/abc123", w.Header().Get("Location"))
	}

	require.Equal(t, 2, checkout.captures)
	err := enrollments.Enroll(context.Background(), &models.Enrollment{UserID: "github:1", CourseID: "abc123"})
	require.ErrorIs(t, err, store.ErrAlreadyEnrolled)
}
