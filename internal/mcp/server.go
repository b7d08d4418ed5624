// Package mcp exposes the prediction engine as Model Context Protocol tools over stdio.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/resistance-prediction-engine/internal/app"
)

// Server wraps the MCP SDK server and the engine container.
type Server struct {
	mcp       *mcp.Server
	container *app.Container
	logger    *logrus.Logger
}

// NewServer creates the MCP server and registers the engine tools.
func NewServer(container *app.Container) *Server {
	cfg := container.Config().MCP

	name := cfg.ServerName
	if name == "" {
		name = "resistance-prediction-engine"
	}
	version := cfg.ServerVersion
	if version == "" {
		version = "1.0.0"
	}

	s := &Server{
		mcp:       mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil),
		container: container,
		logger:    container.Logger(),
	}
	s.registerTools()
	return s
}

// Run serves on the stdio transport until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
