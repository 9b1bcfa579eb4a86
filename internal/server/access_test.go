package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/academy/internal/catalog"
	"github.com/wolfeidau/academy/internal/guard"
	"github.com/wolfeidau/academy/internal/models"
)

// headerAuth treats the X-Test-User header as the signed-in user.
func headerAuth(ctx context.Context, r *http.Request) (any, error) {
	user := r.Header.Get("X-Test-User")
	if user == "" {
		return nil, nil
	}
	identity := &models.Identity{UserID: user}
	if user == "enrolled" {
		identity.EnrolledCourses = []string{"abc123"}
	}
	return identity, nil
}

func newTestClient(t *testing.T) *AccessClient {
	t.Helper()

	courses, err := catalog.New([]models.Course{{ID: "abc123", Title: "Go", Published: true}})
	require.NoError(t, err)

	srv := httptest.NewServer(NewAccessServer(guard.New(nil, courses)).Handler(headerAuth))
	t.Cleanup(srv.Close)

	return NewAccessClient(srv.Client(), srv.URL)
}

func checkAccess(t *testing.T, client *AccessClient, user string, msg *CheckAccessRequest) (*CheckAccessResponse, error) {
	t.Helper()
	req := connect.NewRequest(msg)
	if user != "" {
		req.Header().Set("X-Test-User", user)
	}
	resp, err := client.CheckAccess(context.Background(), req)
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func TestCheckAccess(t *testing.T) {
	client := newTestClient(t)

	tests := []struct {
		name string
		user string
		req  *CheckAccessRequest
		want CheckAccessResponse
	}{
		{
			name: "anonymous dashboard",
			req:  &CheckAccessRequest{Path: "/dashboard"},
			want: CheckAccessResponse{Decision: "redirect_to_signin", Location: "/auth/signin?callbackUrl=%2Fdashboard", CallbackPath: "/dashboard"},
		},
		{
			name: "anonymous wins over missing course",
			req:  &CheckAccessRequest{Path: "/dashboard/courses/nope", CourseID: "nope"},
			want: CheckAccessResponse{Decision: "redirect_to_signin", Location: "/auth/signin?callbackUrl=%2Fdashboard%2Fcourses%2Fnope", CallbackPath: "/dashboard/courses/nope"},
		},
		{
			name: "signed in dashboard",
			user: "student",
			req:  &CheckAccessRequest{Path: "/dashboard"},
			want: CheckAccessResponse{Decision: "allow"},
		},
		{
			name: "missing course",
			user: "student",
			req:  &CheckAccessRequest{Path: "/dashboard/courses/nope", CourseID: "nope"},
			want: CheckAccessResponse{Decision: "redirect_to_fallback", Location: "/dashboard"},
		},
		{
			name: "not enrolled",
			user: "student",
			req:  &CheckAccessRequest{Path: "/dashboard/courses/abc123", CourseID: "abc123"},
			want: CheckAccessResponse{Decision: "redirect_to_fallback", Location: "/courses/abc123"},
		},
		{
			name: "enrolled",
			user: "enrolled",
			req:  &CheckAccessRequest{Path: "/dashboard/courses/abc123", CourseID: "abc123"},
			want: CheckAccessResponse{Decision: "allow", RequiredCourse: "abc123"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := checkAccess(t, client, tt.user, tt.req)
			require.NoError(t, err)
			require.Equal(t, tt.want, *got)
		})
	}
}

func TestCheckAccess_invalidPath(t *testing.T) {
	client := newTestClient(t)

	for _, path := range []string{"", "https://evil.example.com/", "//evil.example.com"} {
		_, err := checkAccess(t, client, "student", &CheckAccessRequest{Path: path})
		require.Error(t, err)
		require.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
	}
}

func TestGetSession(t *testing.T) {
	client := newTestClient(t)

	_, err := client.GetSession(context.Background(), connect.NewRequest(&GetSessionRequest{}))
	require.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

	req := connect.NewRequest(&GetSessionRequest{})
	req.Header().Set("X-Test-User", "enrolled")
	resp, err := client.GetSession(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "enrolled", resp.Msg.Identity.UserID)
	require.Equal(t, []string{"abc123"}, resp.Msg.Identity.EnrolledCourses)
}

func TestHealth(t *testing.T) {
	h := NewAccessServer(guard.New(nil, nil)).Handler(headerAuth)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
