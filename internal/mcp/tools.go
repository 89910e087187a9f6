package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/schovi/devcontrol/internal/proctable"
	"github.com/schovi/devcontrol/internal/session"
)

// Sessions is the part of the session manager the tools drive.
type Sessions interface {
	Start(ctx context.Context, req session.StartRequest) (*session.StartResult, error)
	ReadOutput(id string, opts session.ReadOptions) (*session.ReadResult, error)
	Terminate(ctx context.Context, id string) (*session.TerminateResult, error)
	List() []session.Summary
}

// Processes lists and signals OS processes.
type Processes interface {
	List(ctx context.Context, opts proctable.ListOptions) ([]proctable.Entry, error)
	Kill(pid int, force bool) error
}

type systemProcesses struct{}

func (systemProcesses) List(ctx context.Context, opts proctable.ListOptions) ([]proctable.Entry, error) {
	return proctable.List(ctx, opts)
}

func (systemProcesses) Kill(pid int, force bool) error {
	return proctable.Kill(pid, force)
}

// ConfigView is the server configuration get_config reports.
type ConfigView struct {
	BlockedCommands    []string `json:"blocked_commands"`
	DefaultShell       string   `json:"default_shell"`
	AllowedDirectories []string `json:"allowed_directories"`
}

type ToolRegistry struct {
	sessions  Sessions
	processes Processes
	config    func() ConfigView
	log       zerolog.Logger

	defaultPTY bool
	listLimit  int
}

type RegistryOption func(*ToolRegistry)

func WithProcesses(p Processes) RegistryOption {
	return func(r *ToolRegistry) {
		r.processes = p
	}
}

// WithConfig sets where get_config reads from. It is called on every
// request so reloaded configuration shows up.
func WithConfig(view func() ConfigView) RegistryOption {
	return func(r *ToolRegistry) {
		r.config = view
	}
}

func WithLogger(log zerolog.Logger) RegistryOption {
	return func(r *ToolRegistry) {
		r.log = log
	}
}

// WithDefaultPTY makes execute_command use a pseudo-terminal unless the
// call sets pty explicitly.
func WithDefaultPTY(on bool) RegistryOption {
	return func(r *ToolRegistry) {
		r.defaultPTY = on
	}
}

// WithListLimit caps list_processes when the call passes no limit.
func WithListLimit(n int) RegistryOption {
	return func(r *ToolRegistry) {
		r.listLimit = n
	}
}

func NewToolRegistry(sessions Sessions, opts ...RegistryOption) *ToolRegistry {
	r := &ToolRegistry{
		sessions:  sessions,
		processes: systemProcesses{},
		config:    func() ConfigView { return ConfigView{} },
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register attaches every tool to server.
func (r *ToolRegistry) Register(server *sdk.Server) {
	sdk.AddTool(server, &sdk.Tool{
		Name: "execute_command",
		Description: describe("execute_command",
			"Execute a shell command. Waits up to timeout_ms for it to finish; a command still running after that keeps running in the background as a session. Returns the session id, state and output so far. Use read_output to get more output later."),
	}, r.callExecuteCommand)

	sdk.AddTool(server, &sdk.Tool{
		Name: "read_output",
		Description: describe("read_output",
			"Read new output from a session started by execute_command, along with its current state. Never waits for more output."),
	}, r.callReadOutput)

	sdk.AddTool(server, &sdk.Tool{
		Name: "force_terminate",
		Description: describe("force_terminate",
			"Terminate a running session: SIGTERM to its process group, then SIGKILL if it does not exit. Terminating an ended session reports its final state."),
	}, r.callForceTerminate)

	sdk.AddTool(server, &sdk.Tool{
		Name:        "list_sessions",
		Description: describe("list_sessions", "List all sessions with their state, pid, exit code and runtime."),
	}, r.callListSessions)

	sdk.AddTool(server, &sdk.Tool{
		Name: "list_processes",
		Description: describe("list_processes",
			"List all running processes. Returns process information including PID, command name, CPU usage, and memory usage."),
	}, r.callListProcesses)

	sdk.AddTool(server, &sdk.Tool{
		Name: "kill_process",
		Description: describe("kill_process",
			"Terminate a running process by PID. Use with caution as this will terminate the specified process."),
	}, r.callKillProcess)

	sdk.AddTool(server, &sdk.Tool{
		Name: "get_config",
		Description: describe("get_config",
			"Get the server configuration: blocked commands, default shell and allowed directories. Read-only."),
	}, r.callGetConfig)
}

type ExecuteCommandArgs struct {
	Command          string `json:"command" jsonschema:"shell command line to run"`
	TimeoutMs        int    `json:"timeout_ms,omitempty" jsonschema:"how long to wait for the command before backgrounding it (default 30000)"`
	Shell            string `json:"shell,omitempty" jsonschema:"shell to run the command with (default: configured shell)"`
	WorkingDirectory string `json:"working_directory,omitempty" jsonschema:"directory to run the command in"`
	PTY              *bool  `json:"pty,omitempty" jsonschema:"run on a pseudo-terminal instead of pipes"`
}

func validateExecuteArgs(a ExecuteCommandArgs, defaultPTY bool) (session.StartRequest, error) {
	if strings.TrimSpace(a.Command) == "" {
		return session.StartRequest{}, fmt.Errorf("command is required")
	}
	if a.TimeoutMs < 0 {
		return session.StartRequest{}, fmt.Errorf("timeout_ms must be non-negative")
	}
	pty := defaultPTY
	if a.PTY != nil {
		pty = *a.PTY
	}
	return session.StartRequest{
		Command: a.Command,
		Shell:   a.Shell,
		Dir:     a.WorkingDirectory,
		Timeout: time.Duration(a.TimeoutMs) * time.Millisecond,
		PTY:     pty,
	}, nil
}

func (r *ToolRegistry) callExecuteCommand(ctx context.Context, _ *sdk.CallToolRequest, a ExecuteCommandArgs) (*sdk.CallToolResult, any, error) {
	req, err := validateExecuteArgs(a, r.defaultPTY)
	if err != nil {
		return nil, nil, err
	}

	res, err := r.sessions.Start(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(res)
}

type ReadOutputArgs struct {
	SessionID string `json:"session_id" jsonschema:"session id returned by execute_command"`
	Cursor    string `json:"cursor,omitempty" jsonschema:"name of an independent read cursor (default: the cursor shared with execute_command)"`
	All       bool   `json:"all,omitempty" jsonschema:"return all retained output without moving the cursor"`
	StripANSI bool   `json:"strip_ansi,omitempty" jsonschema:"remove terminal escape codes from the output"`
	Screen    bool   `json:"screen,omitempty" jsonschema:"return the rendered terminal screen of a pty session"`
}

func validateReadArgs(a ReadOutputArgs) (session.ReadOptions, error) {
	if strings.TrimSpace(a.SessionID) == "" {
		return session.ReadOptions{}, fmt.Errorf("session_id is required")
	}
	if a.All && a.Screen {
		return session.ReadOptions{}, fmt.Errorf("all and screen are mutually exclusive")
	}
	return session.ReadOptions{
		Reader:    a.Cursor,
		All:       a.All,
		StripANSI: a.StripANSI,
		Screen:    a.Screen,
	}, nil
}

func (r *ToolRegistry) callReadOutput(_ context.Context, _ *sdk.CallToolRequest, a ReadOutputArgs) (*sdk.CallToolResult, any, error) {
	opts, err := validateReadArgs(a)
	if err != nil {
		return nil, nil, err
	}
	res, err := r.sessions.ReadOutput(a.SessionID, opts)
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(res)
}

type ForceTerminateArgs struct {
	SessionID string `json:"session_id" jsonschema:"session id to terminate"`
}

func (r *ToolRegistry) callForceTerminate(ctx context.Context, _ *sdk.CallToolRequest, a ForceTerminateArgs) (*sdk.CallToolResult, any, error) {
	if strings.TrimSpace(a.SessionID) == "" {
		return nil, nil, fmt.Errorf("session_id is required")
	}
	res, err := r.sessions.Terminate(ctx, a.SessionID)
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(res)
}

type ListSessionsArgs struct{}

func (r *ToolRegistry) callListSessions(_ context.Context, _ *sdk.CallToolRequest, _ ListSessionsArgs) (*sdk.CallToolResult, any, error) {
	return jsonResult(map[string]any{"sessions": r.sessions.List()})
}

type ListProcessesArgs struct {
	Filter string `json:"filter,omitempty" jsonschema:"only processes whose name or command line contains this text"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum number of processes to return"`
}

func (r *ToolRegistry) callListProcesses(ctx context.Context, _ *sdk.CallToolRequest, a ListProcessesArgs) (*sdk.CallToolResult, any, error) {
	if a.Limit < 0 {
		return nil, nil, fmt.Errorf("limit must be non-negative")
	}
	limit := a.Limit
	if limit == 0 {
		limit = r.listLimit
	}
	entries, err := r.processes.List(ctx, proctable.ListOptions{Filter: a.Filter, Limit: limit})
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(map[string]any{"processes": entries})
}

type KillProcessArgs struct {
	PID   int  `json:"pid" jsonschema:"process id to signal"`
	Force bool `json:"force,omitempty" jsonschema:"send SIGKILL instead of SIGTERM"`
}

func (r *ToolRegistry) callKillProcess(_ context.Context, _ *sdk.CallToolRequest, a KillProcessArgs) (*sdk.CallToolResult, any, error) {
	if err := r.processes.Kill(a.PID, a.Force); err != nil {
		return nil, nil, err
	}
	r.log.Info().Int("pid", a.PID).Bool("force", a.Force).Msg("process signalled")

	signal := "SIGTERM"
	if a.Force {
		signal = "SIGKILL"
	}
	return jsonResult(map[string]any{"pid": a.PID, "signal": signal})
}

type GetConfigArgs struct{}

func (r *ToolRegistry) callGetConfig(_ context.Context, _ *sdk.CallToolRequest, _ GetConfigArgs) (*sdk.CallToolResult, any, error) {
	view := r.config()
	if view.BlockedCommands == nil {
		view.BlockedCommands = []string{}
	}
	if view.AllowedDirectories == nil {
		view.AllowedDirectories = []string{}
	}
	return jsonResult(view)
}

func jsonResult(v any) (*sdk.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encode result: %w", err)
	}
	return &sdk.CallToolResult{
		Content: []sdk.Content{&sdk.TextContent{Text: string(data)}},
	}, nil, nil
}
