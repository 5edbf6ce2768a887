package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sgtm-bot/sgtm/pkg/console"
	"github.com/sgtm-bot/sgtm/pkg/logger"
	"github.com/sgtm-bot/sgtm/pkg/pipeline"
	"github.com/sgtm-bot/sgtm/pkg/tty"
	"github.com/spf13/cobra"
)

var mcpLog = logger.New("cli:mcp_server")

// NewMCPServerCommand creates the mcp-server command, which exposes the pipeline
// tooling over the Model Context Protocol on stdio.
func NewMCPServerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-server",
		Short: "Run an MCP server exposing pipeline tools over stdio",
		Long: `Run a Model Context Protocol server on stdin/stdout.

Tools:
  plan_pipeline:     jobs that run on a branch
  validate_pipeline: validation errors of a pipeline definition
  render_pipeline:   the GitHub Actions workflow rendered from a pipeline`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if tty.IsStdoutTerminal() {
				fmt.Fprintln(cmd.ErrOrStderr(), console.FormatWarningMessage("stdout is a terminal; mcp-server is meant to be launched by an MCP client"))
			}
			fmt.Fprintln(cmd.ErrOrStderr(), console.FormatInfoMessage("Starting MCP server on stdio"))
			return newMCPServer().Run(cmd.Context(), &mcp.StdioTransport{})
		},
	}
}

type planPipelineArgs struct {
	File   string `json:"file,omitempty" jsonschema:"Pipeline definition path (default .sgtm/pipeline.yml)"`
	Branch string `json:"branch,omitempty" jsonschema:"Branch to plan for (default: the current branch)"`
}

type plannedJob struct {
	Name     string   `json:"name"`
	Image    string   `json:"image"`
	Commands []string `json:"commands"`
}

type planPipelineResult struct {
	Branch string       `json:"branch"`
	Jobs   []plannedJob `json:"jobs"`
}

type validatePipelineArgs struct {
	File string `json:"file,omitempty" jsonschema:"Pipeline definition path (default .sgtm/pipeline.yml)"`
}

type validatePipelineResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

type renderPipelineArgs struct {
	File string `json:"file,omitempty" jsonschema:"Pipeline definition path (default .sgtm/pipeline.yml)"`
}

type renderPipelineResult struct {
	Workflow string   `json:"workflow"`
	Issues   []string `json:"issues,omitempty"`
}

func newMCPServer() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "sgtm", Version: GetVersion()}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "plan_pipeline",
		Description: "List the jobs of the pipeline that run on a branch, with their image and commands.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args planPipelineArgs) (*mcp.CallToolResult, planPipelineResult, error) {
		mcpLog.Printf("plan_pipeline: file=%q branch=%q", args.File, args.Branch)
		p, err := loadPipeline(pipelineFile(args.File), io.Discard)
		if err != nil {
			return nil, planPipelineResult{}, err
		}
		branch, err := resolveBranch(ctx, args.Branch)
		if err != nil {
			return nil, planPipelineResult{}, err
		}
		result := planPipelineResult{Branch: branch, Jobs: []plannedJob{}}
		for _, job := range p.Plan(branch) {
			result.Jobs = append(result.Jobs, plannedJob{Name: job.Name, Image: p.ImageFor(job), Commands: job.Commands})
		}
		return nil, result, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "validate_pipeline",
		Description: "Validate a pipeline definition and report every error found.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args validatePipelineArgs) (*mcp.CallToolResult, validatePipelineResult, error) {
		mcpLog.Printf("validate_pipeline: file=%q", args.File)
		p, err := pipeline.Load(pipelineFile(args.File))
		if err == nil {
			err = p.Validate()
		}
		if err != nil {
			return nil, validatePipelineResult{Errors: errorMessages(err)}, nil
		}
		return nil, validatePipelineResult{Valid: true}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "render_pipeline",
		Description: "Render the pipeline as a GitHub Actions workflow and lint it with actionlint.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args renderPipelineArgs) (*mcp.CallToolResult, renderPipelineResult, error) {
		mcpLog.Printf("render_pipeline: file=%q", args.File)
		p, err := loadPipeline(pipelineFile(args.File), io.Discard)
		if err != nil {
			return nil, renderPipelineResult{}, err
		}
		rendered, issues, err := pipeline.RenderAndLint(p, DefaultWorkflowPath)
		if err != nil {
			return nil, renderPipelineResult{}, err
		}
		result := renderPipelineResult{Workflow: string(rendered)}
		for _, issue := range issues {
			result.Issues = append(result.Issues, issue.String())
		}
		return nil, result, nil
	})

	return server
}

func pipelineFile(file string) string {
	if file == "" {
		return pipeline.DefaultPath
	}
	return file
}

// errorMessages flattens joined errors into one message each.
func errorMessages(err error) []string {
	var loadErr *pipeline.LoadError
	if errors.As(err, &loadErr) {
		return []string{loadErr.Error()}
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var messages []string
		for _, e := range joined.Unwrap() {
			messages = append(messages, e.Error())
		}
		return messages
	}
	return []string{err.Error()}
}
