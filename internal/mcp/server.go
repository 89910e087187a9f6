package mcp

import (
	"context"
	"os"
	"strings"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
)

const ServerName = "devcontrol"

// DescriptionEnvPrefix names the environment variables that override tool
// descriptions, e.g. MCP_DESC_execute_command.
const DescriptionEnvPrefix = "MCP_DESC_"

// NewServer returns an MCP server with every tool of the registry attached.
func NewServer(tools *ToolRegistry, version string) *sdk.Server {
	server := sdk.NewServer(&sdk.Implementation{Name: ServerName, Version: version}, nil)
	tools.Register(server)
	return server
}

// Serve runs the server over stdin/stdout until the client disconnects or
// ctx is cancelled.
func Serve(ctx context.Context, server *sdk.Server, log zerolog.Logger) error {
	log.Info().Msg("serving MCP on stdio")
	err := server.Run(ctx, &sdk.StdioTransport{})
	if err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("MCP server stopped")
		return err
	}
	log.Info().Msg("MCP client disconnected")
	return nil
}

func describe(name, fallback string) string {
	if custom := strings.TrimSpace(os.Getenv(DescriptionEnvPrefix + name)); custom != "" {
		return custom
	}
	return fallback
}
