package main

import (
	"context"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const loginToolName = "portal_login"

// loginToolInput is the portal_login tool argument.
type loginToolInput struct {
	Force bool `json:"force,omitempty" jsonschema:"log in even when a fresh saved session exists"`
}

// loginToolOutput is the portal_login tool result.
type loginToolOutput struct {
	Session string `json:"session"`
	Reused  bool   `json:"reused"`
}

// sessionService serializes logins so concurrent tool calls share one
// refresh instead of racing on the captcha and session files.
type sessionService struct {
	mu  sync.Mutex
	cfg appConfig
	log *logger
}

func (s *sessionService) handleLogin(ctx context.Context, _ *mcp.CallToolRequest, in loginToolInput) (*mcp.CallToolResult, loginToolOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, err := obtainSession(ctx, s.cfg, s.log, loginOptions{Reuse: !in.Force})
	if err != nil {
		return nil, loginToolOutput{}, err
	}
	return nil, loginToolOutput{Session: out.Token, Reused: out.Reused}, nil
}

// newMCPServer exposes the login sequence as a single MCP tool. Manual
// captcha entry is never offered: stdin belongs to the transport.
func newMCPServer(cfg appConfig, log *logger) *mcp.Server {
	svc := &sessionService{cfg: cfg, log: log}
	server := mcp.NewServer(&mcp.Implementation{Name: "portal-login", Version: version}, nil)
	mcp.AddTool(server, &mcp.Tool{
		Name:        loginToolName,
		Description: "Return a portal session token, reusing the saved one while it is fresh and logging in otherwise.",
	}, svc.handleLogin)
	return server
}

// serveMCP runs the MCP server over stdio until the client disconnects.
func serveMCP(ctx context.Context, cfg appConfig, log *logger) error {
	log.infof("serving %s over stdio", loginToolName)
	return newMCPServer(cfg, log).Run(ctx, &mcp.StdioTransport{})
}
