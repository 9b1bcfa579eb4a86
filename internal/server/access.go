// Package server implements the access API, a Connect service the frontend and edge
// middleware use to ask the access guard for decisions.
package server

import (
	"context"
	"errors"
	"net/http"

	"connectrpc.com/authn"
	"connectrpc.com/connect"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/academy/internal/auth"
	"github.com/wolfeidau/academy/internal/guard"
	"github.com/wolfeidau/academy/internal/models"
	"github.com/wolfeidau/academy/internal/telemetry"
)

const (
	AccessServiceName = "access.v1.AccessService"

	CheckAccessProcedure = "/" + AccessServiceName + "/CheckAccess"
	GetSessionProcedure  = "/" + AccessServiceName + "/GetSession"
)

// CheckAccessRequest asks whether the caller may view Path. CourseID marks the path as
// an enrollment-gated course page.
type CheckAccessRequest struct {
	Path     string `json:"path"`
	CourseID string `json:"courseId,omitempty"`
}

// CheckAccessResponse carries the guard decision.
type CheckAccessResponse struct {
	Decision       string `json:"decision"`
	Location       string `json:"location,omitempty"`
	CallbackPath   string `json:"callbackPath,omitempty"`
	RequiredCourse string `json:"requiredCourse,omitempty"`
}

type GetSessionRequest struct{}

type GetSessionResponse struct {
	Identity *models.Identity `json:"identity"`
}

// AccessServer answers access checks. Identities are supplied by the authn middleware
// installed by Handler.
type AccessServer struct {
	guard *guard.Guard
	gate  guard.EntitlementGate
}

// NewAccessServer creates the access service backed by g.
func NewAccessServer(g *guard.Guard) *AccessServer {
	return &AccessServer{guard: g}
}

func (s *AccessServer) CheckAccess(ctx context.Context, req *connect.Request[CheckAccessRequest]) (*connect.Response[CheckAccessResponse], error) {
	path := req.Msg.Path
	if path == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("path is required"))
	}
	if guard.SafeCallbackPath(path) != path {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("path must be a same-origin path"))
	}

	var resource *guard.Resource
	if req.Msg.CourseID != "" {
		resource = guard.Course(req.Msg.CourseID)
	}

	identity, _ := auth.IdentityFromContext(ctx)

	decision := s.guard.Evaluate(identity, path, resource)
	decision = s.gate.Check(identity, decision)
	telemetry.RecordGuardDecision(ctx, decision.Kind.String())

	log.Debug().
		Str("path", path).
		Str("course", req.Msg.CourseID).
		Str("decision", decision.Kind.String()).
		Msg("Access check")

	return connect.NewResponse(&CheckAccessResponse{
		Decision:       decision.Kind.String(),
		Location:       decision.Location,
		CallbackPath:   decision.CallbackPath,
		RequiredCourse: decision.RequiredCourse,
	}), nil
}

func (s *AccessServer) GetSession(ctx context.Context, req *connect.Request[GetSessionRequest]) (*connect.Response[GetSessionResponse], error) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return nil, connect.NewError(connect.CodeUnauthenticated, errors.New("no session"))
	}

	return connect.NewResponse(&GetSessionResponse{Identity: identity}), nil
}

// Handler returns the HTTP handler serving the access API and a health check.
// authFunc resolves the caller; it should let anonymous requests through without info.
func (s *AccessServer) Handler(authFunc authn.AuthFunc, interceptors ...connect.Interceptor) http.Handler {
	opts := []connect.HandlerOption{
		WithJSON(),
		connect.WithInterceptors(interceptors...),
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	mux.Handle(CheckAccessProcedure, connect.NewUnaryHandler(CheckAccessProcedure, s.CheckAccess, opts...))
	mux.Handle(GetSessionProcedure, connect.NewUnaryHandler(GetSessionProcedure, s.GetSession, opts...))

	return authn.NewMiddleware(authFunc).Wrap(mux)
}

// AccessClient calls the access API.
type AccessClient struct {
	checkAccess *connect.Client[CheckAccessRequest, CheckAccessResponse]
	getSession  *connect.Client[GetSessionRequest, GetSessionResponse]
}

// NewAccessClient creates a client for the access API at baseURL.
func NewAccessClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *AccessClient {
	opts = append([]connect.ClientOption{WithJSON()}, opts...)
	return &AccessClient{
		checkAccess: connect.NewClient[CheckAccessRequest, CheckAccessResponse](httpClient, baseURL+CheckAccessProcedure, opts...),
		getSession:  connect.NewClient[GetSessionRequest, GetSessionResponse](httpClient, baseURL+GetSessionProcedure, opts...),
	}
}

func (c *AccessClient) CheckAccess(ctx context.Context, req *connect.Request[CheckAccessRequest]) (*connect.Response[CheckAccessResponse], error) {
	return c.checkAccess.CallUnary(ctx, req)
}

func (c *AccessClient) GetSession(ctx context.Context, req *connect.Request[GetSessionRequest]) (*connect.Response[GetSessionResponse], error) {
	return c.getSession.CallUnary(ctx, req)
}
