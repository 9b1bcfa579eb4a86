package commands

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/academy/internal/catalog"
	"github.com/wolfeidau/academy/internal/guard"
	"github.com/wolfeidau/academy/internal/models"
	"github.com/wolfeidau/academy/internal/server"
)

func TestCheckCmd_Run(t *testing.T) {
	courses, err := catalog.New([]models.Course{{ID: "abc123", Title: "Go", Published: true}})
	require.NoError(t, err)

	var authHeaders []string
	authFunc := func(ctx context.Context, r *http.Request) (any, error) {
		authHeaders = append(authHeaders, r.Header.Get("Authorization"))
		return nil, nil
	}

	var methods []string
	handler := server.NewAccessServer(guard.New(nil, courses)).Handler(authFunc)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		handler.ServeHTTP(w, r)
	}))
	defer srv.Close()

	cmd := &CheckCmd{URL: srv.URL + "/", Token: "tok", Path: "/dashboard"}
	require.NoError(t, cmd.Run(context.Background(), &Globals{}))

	cmd = &CheckCmd{URL: srv.URL, Path: "/dashboard"}
	require.NoError(t, cmd.Run(context.Background(), &Globals{}))

	// unary calls are POSTs, each reaches the server
	require.Equal(t, []string{http.MethodPost, http.MethodPost}, methods)
	require.Equal(t, []string{"Bearer tok", ""}, authHeaders)
}
