package mcp

import (
	"context"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/toolgate/internal/gate"
)

// Config holds MCP server configuration.
type Config struct {
	PolicyPath string
	Version    string
	Logger     *slog.Logger
}

// Server exposes the rule set to agents as MCP tools. Every tool is a dry
// run: nothing is audited.
type Server struct {
	mcpServer *mcpsdk.Server
	gate      *gate.Gate
	logger    *slog.Logger
}

// New creates an MCP server with the loaded policy and its tools.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	g, err := gate.New(gate.Config{PolicyPath: cfg.PolicyPath, Logger: cfg.Logger})
	if err != nil {
		return nil, err
	}

	s := &Server{
		gate:   g,
		logger: cfg.Logger.With("component", "mcp"),
	}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "toolgate",
			Version: cfg.Version,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server starting", "policy_hash", s.gate.RuleSet().Hash())
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// Reload recompiles the policy file and installs it for later calls.
func (s *Server) Reload() error {
	if err := s.gate.Reload(); err != nil {
		return err
	}
	s.logger.Info("policy reloaded", "policy_hash", s.gate.RuleSet().Hash())
	return nil
}

// Close releases the gate.
func (s *Server) Close() error {
	return s.gate.Close()
}

// registerTools adds the check, rules and validate tools.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "toolgate_check",
		Description: "Check whether a tool call would be denied, allowed or passed through by the active toolgate policy (dry-run, not audited).",
	}, s.handleCheck)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "toolgate_rules",
		Description: "List the compiled toolgate rules in evaluation order: deny rules first, then allow rules.",
	}, s.handleRules)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "toolgate_validate",
		Description: "Compile a toolgate policy document without installing it and report the first error with its location.",
	}, s.handleValidate)
}
