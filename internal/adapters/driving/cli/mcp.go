package cli

import (
	"errors"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/docintel/internal/adapters/driving/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Expose documents to AI assistants over MCP",
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: `Start a Model Context Protocol server offering the document tools
(ingest_document, start_pipeline, pipeline_status, keyword_search,
ask_document, get_record, ...) and the docintel:// resources.

Without --port the server speaks JSON-RPC over stdio, which is what
desktop assistants launch. With --port it serves streamable HTTP on
--host (loopback by default) plus a GET /healthz probe.

Pipelines started over MCP keep running in the background for as long
as the server does.

Examples:
  docintel mcp serve
  docintel mcp serve --port 8080
  docintel mcp serve --host 0.0.0.0 --port 8080

Assistant configuration:
  {
    "mcpServers": {
      "docintel": {"command": "/path/to/docintel", "args": ["mcp", "serve"]}
    }
  }`,
	RunE: runMCPServe,
}

var errServerNotConfigured = errors.New("document and pipeline services not configured")

func init() {
	mcpServeCmd.Flags().IntP("port", "p", 0, "HTTP port (0 = use stdio)")
	mcpServeCmd.Flags().String("host", "127.0.0.1", "HTTP bind address")
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}

func runMCPServe(cmd *cobra.Command, _ []string) error {
	if documentService == nil || pipelineService == nil {
		return errServerNotConfigured
	}
	port, _ := cmd.Flags().GetInt("port")
	host, _ := cmd.Flags().GetString("host")

	server, err := mcp.NewServer(&mcp.Ports{
		Document: documentService,
		Pipeline: pipelineService,
		Search:   searchService,
		Ask:      askService,
		Record:   recordService,
	})
	if err != nil {
		return err
	}

	if port <= 0 {
		return server.Run(cmd.Context())
	}
	addr := listenAddr(host, port)
	cmd.Printf("MCP server listening on http://%s (health: http://%s/healthz)\n", addr, addr)
	return server.RunHTTP(cmd.Context(), addr)
}

func listenAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
