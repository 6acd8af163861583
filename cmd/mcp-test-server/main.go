// Command mcp-test-server runs a small MCP server for exercising the
// steward host end to end. It exposes tools across the risk spectrum
// (get_time, echo, read_file, run_command), one resource, and one
// prompt.
//
// By default it serves streamable HTTP on /mcp; with -stdio it speaks
// the stdio transport so it can be launched as a child process.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func main() {
	stdio := flag.Bool("stdio", false, "serve over stdio instead of HTTP")
	flag.Parse()

	server := buildServer()

	if *stdio {
		if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
		return
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	handler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return server
	}, nil)

	httpMux := http.NewServeMux()
	httpMux.Handle("/mcp", handler)
	httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok\n"))
	})

	log.Printf("MCP test server starting on :%s", port)
	if err := http.ListenAndServe(":"+port, httpMux); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func buildServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{Name: "steward-test-mcp", Version: "v1.0.0"},
		&mcp.ServerOptions{
			// Advertise resource subscriptions so hosts can exercise
			// the subscribe path against this server.
			SubscribeHandler: func(context.Context, *mcp.SubscribeRequest) error {
				return nil
			},
			UnsubscribeHandler: func(context.Context, *mcp.UnsubscribeRequest) error {
				return nil
			},
		},
	)

	// Low risk: no file, network, or system access.
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_time",
		Description: "Returns the current UTC time",
	}, func(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, struct{}, error) {
		return textResult(fmt.Sprintf("Current time: %s", time.Now().UTC().Format(time.RFC3339))), struct{}{}, nil
	})

	type EchoInput struct {
		Message string `json:"message" jsonschema_description:"The message to echo back"`
	}
	mcp.AddTool(server, &mcp.Tool{
		Name:        "echo",
		Description: "Echoes the provided message back",
	}, func(_ context.Context, _ *mcp.CallToolRequest, input EchoInput) (*mcp.CallToolResult, struct{}, error) {
		return textResult("Echo: " + input.Message), struct{}{}, nil
	})

	// Medium risk: file system access.
	type ReadFileInput struct {
		Path string `json:"path" jsonschema_description:"Absolute path of the file to read"`
	}
	mcp.AddTool(server, &mcp.Tool{
		Name:        "read_file",
		Description: "Reads a file from disk and returns its contents",
	}, func(_ context.Context, _ *mcp.CallToolRequest, input ReadFileInput) (*mcp.CallToolResult, struct{}, error) {
		data, err := os.ReadFile(input.Path)
		if err != nil {
			return nil, struct{}{}, fmt.Errorf("reading %s: %w", input.Path, err)
		}
		return textResult(string(data)), struct{}{}, nil
	})

	// High risk: command execution.
	type RunCommandInput struct {
		Command string `json:"command" jsonschema_description:"Shell command to execute"`
	}
	mcp.AddTool(server, &mcp.Tool{
		Name:        "run_command",
		Description: "Executes a shell command and returns its output",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input RunCommandInput) (*mcp.CallToolResult, struct{}, error) {
		out, err := exec.CommandContext(ctx, "sh", "-c", input.Command).CombinedOutput()
		if err != nil {
			return nil, struct{}{}, fmt.Errorf("running command: %w (output: %s)", err, strings.TrimSpace(string(out)))
		}
		return textResult(string(out)), struct{}{}, nil
	})

	server.AddResource(&mcp.Resource{
		URI:         "steward://greeting",
		Name:        "greeting",
		Description: "A static greeting resource",
		MIMEType:    "text/plain",
	}, func(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{
				{URI: req.Params.URI, MIMEType: "text/plain", Text: "Hello from the steward test server"},
			},
		}, nil
	})

	server.AddPrompt(&mcp.Prompt{
		Name:        "summarize",
		Description: "Builds a summarization instruction for the given topic",
		Arguments: []*mcp.PromptArgument{
			{Name: "topic", Description: "What to summarize", Required: true},
		},
	}, func(_ context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		topic := req.Params.Arguments["topic"]
		return &mcp.GetPromptResult{
			Messages: []*mcp.PromptMessage{
				{
					Role:    "user",
					Content: &mcp.TextContent{Text: "Summarize the following topic in three sentences: " + topic},
				},
			},
		}, nil
	})

	return server
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
