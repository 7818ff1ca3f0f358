// Fraudwatch MCP Server - Exposes fraud review tools to LLM agents
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/fraudwatch/internal/mcpserver"
)

// Version is set by ldflags
var Version = "dev"

func main() {
	cfg := mcpserver.Config{
		APIURL:      envOrDefault("FRAUDWATCH_API_URL", "http://localhost:8080"),
		AdminSecret: os.Getenv("FRAUDWATCH_ADMIN_SECRET"),
		Operator:    envOrDefault("FRAUDWATCH_OPERATOR", "mcp-agent"),
	}

	s := mcpserver.NewMCPServer(cfg, Version)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
