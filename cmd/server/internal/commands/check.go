package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"connectrpc.com/connect"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/academy/internal/client"
	"github.com/wolfeidau/academy/internal/logger"
	"github.com/wolfeidau/academy/internal/server"
)

// CheckCmd asks the access API for the decision on a path, as the frontend does before
// rendering a page.
type CheckCmd struct {
	URL    string `help:"base URL of the server" default:"https://localhost" env:"ACADEMY_URL"`
	Token  string `help:"API token from /auth/token, empty checks as an anonymous visitor" env:"ACADEMY_TOKEN"`
	Course string `help:"course id the path belongs to"`
	Whoami bool   `help:"print the identity behind the token instead of checking a path"`

	Path string `arg:"" optional:"" help:"path to check, e.g. /dashboard/courses/go-basics"`
}

func (c *CheckCmd) Validate() error {
	if !c.Whoami && c.Path == "" {
		return errors.New("a path is required unless --whoami is set")
	}
	return nil
}

func (c *CheckCmd) Run(ctx context.Context, globals *Globals) error {
	log.Logger = logger.Setup(globals.Debug)

	httpClient := &http.Client{Timeout: client.DefaultTimeout}
	accessClient := server.NewAccessClient(httpClient, strings.TrimSuffix(c.URL, "/"),
		connect.WithInterceptors(logger.NewConnectRequests(log.Logger)))

	if c.Whoami {
		req := connect.NewRequest(&server.GetSessionRequest{})
		c.authorize(req.Header())

		resp, err := accessClient.GetSession(ctx, req)
		if err != nil {
			return fmt.Errorf("failed to get session: %w", err)
		}
		return printJSON(resp.Msg.Identity)
	}

	req := connect.NewRequest(&server.CheckAccessRequest{Path: c.Path, CourseID: c.Course})
	c.authorize(req.Header())

	resp, err := accessClient.CheckAccess(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to check access: %w", err)
	}

	return printJSON(resp.Msg)
}

func (c *CheckCmd) authorize(header interface{ Set(string, string) }) {
	if c.Token != "" {
		header.Set("Authorization", "Bearer "+c.Token)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
