package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schovi/devcontrol/internal/launcher"
	"github.com/schovi/devcontrol/internal/proctable"
	"github.com/schovi/devcontrol/internal/session"
)

type fakeProcesses struct {
	entries []proctable.Entry
	killed  []int
	killErr error
	opts    proctable.ListOptions
}

func (f *fakeProcesses) List(_ context.Context, opts proctable.ListOptions) ([]proctable.Entry, error) {
	f.opts = opts
	return f.entries, nil
}

func (f *fakeProcesses) Kill(pid int, _ bool) error {
	if f.killErr != nil {
		return f.killErr
	}
	f.killed = append(f.killed, pid)
	return nil
}

func connect(t *testing.T, registry *ToolRegistry) *sdk.ClientSession {
	t.Helper()
	ctx := context.Background()

	server := NewServer(registry, "test")
	clientTransport, serverTransport := sdk.NewInMemoryTransports()

	ss, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := sdk.NewClient(&sdk.Implementation{Name: "test-client", Version: "test"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func newManager(t *testing.T) *session.Manager {
	t.Helper()
	m := session.NewManager(
		launcher.New(launcher.WithDefaultShell("sh")),
		session.WithGracePeriod(200*time.Millisecond),
	)
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	return m
}

func call(t *testing.T, cs *sdk.ClientSession, name string, args map[string]any) *sdk.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &sdk.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	return res
}

func text(t *testing.T, res *sdk.CallToolResult) string {
	t.Helper()
	tc, ok := res.Content[0].(*sdk.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return tc.Text
}

func decode[T any](t *testing.T, res *sdk.CallToolResult) T {
	t.Helper()
	require.False(t, res.IsError, "tool error: %s", text(t, res))
	var v T
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &v))
	return v
}

func TestListTools(t *testing.T) {
	t.Setenv("MCP_DESC_kill_process", "custom kill description")
	cs := connect(t, NewToolRegistry(newManager(t)))

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)

	byName := make(map[string]*sdk.Tool)
	for _, tool := range res.Tools {
		byName[tool.Name] = tool
	}
	for _, name := range []string{"execute_command", "read_output", "force_terminate", "list_sessions", "list_processes", "kill_process", "get_config"} {
		assert.Contains(t, byName, name)
	}
	assert.Len(t, byName, 7)
	assert.Equal(t, "custom kill description", byName["kill_process"].Description)
	assert.NotEqual(t, "custom kill description", byName["list_processes"].Description)
}

func TestExecuteCommand_Completes(t *testing.T) {
	cs := connect(t, NewToolRegistry(newManager(t)))

	res := decode[session.StartResult](t, call(t, cs, "execute_command", map[string]any{
		"command":    "echo hello",
		"timeout_ms": 5000,
	}))

	assert.Equal(t, session.StateCompletedSuccess, res.State)
	assert.Equal(t, "hello\n", res.Output)
	assert.NotEmpty(t, res.SessionID)
}

func TestExecuteCommand_BackgroundThenRead(t *testing.T) {
	cs := connect(t, NewToolRegistry(newManager(t)))

	start := decode[session.StartResult](t, call(t, cs, "execute_command", map[string]any{
		"command":    "echo first; sleep 0.5; echo second",
		"timeout_ms": 100,
	}))
	require.Equal(t, session.StateBackgrounded, start.State)

	// conditions run off the test goroutine, so no require inside
	var read session.ReadResult
	require.Eventually(t, func() bool {
		res, err := cs.CallTool(context.Background(), &sdk.CallToolParams{
			Name:      "read_output",
			Arguments: map[string]any{"session_id": start.SessionID, "all": true},
		})
		if err != nil || res.IsError || len(res.Content) == 0 {
			return false
		}
		tc, ok := res.Content[0].(*sdk.TextContent)
		if !ok || json.Unmarshal([]byte(tc.Text), &read) != nil {
			return false
		}
		return read.State == session.StateCompletedSuccess
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, "first\nsecond\n", read.Output)

	list := decode[struct {
		Sessions []session.Summary `json:"sessions"`
	}](t, call(t, cs, "list_sessions", map[string]any{}))
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, start.SessionID, list.Sessions[0].ID)
}

func TestForceTerminate(t *testing.T) {
	cs := connect(t, NewToolRegistry(newManager(t)))

	start := decode[session.StartResult](t, call(t, cs, "execute_command", map[string]any{
		"command":    "sleep 30",
		"timeout_ms": 50,
	}))

	for range 2 {
		term := decode[session.TerminateResult](t, call(t, cs, "force_terminate", map[string]any{
			"session_id": start.SessionID,
		}))
		assert.Equal(t, session.StateTerminated, term.State)
	}
}

func TestToolErrors(t *testing.T) {
	procs := &fakeProcesses{killErr: proctable.ErrProcessNotFound}
	cs := connect(t, NewToolRegistry(newManager(t), WithProcesses(procs)))

	tests := []struct {
		name string
		tool string
		args map[string]any
		want string
	}{
		{"blank command", "execute_command", map[string]any{"command": "  "}, "command is required"},
		{"negative timeout", "execute_command", map[string]any{"command": "true", "timeout_ms": -1}, "timeout_ms"},
		{"unknown session", "read_output", map[string]any{"session_id": "nope"}, "session not found"},
		{"all with screen", "read_output", map[string]any{"session_id": "x", "all": true, "screen": true}, "mutually exclusive"},
		{"terminate unknown", "force_terminate", map[string]any{"session_id": "nope"}, "session not found"},
		{"kill missing pid", "kill_process", map[string]any{"pid": 99999999}, "process not found"},
		{"negative limit", "list_processes", map[string]any{"limit": -1}, "limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := call(t, cs, tt.tool, tt.args)
			assert.True(t, res.IsError)
			assert.Contains(t, text(t, res), tt.want)
		})
	}
}

func TestListProcesses_DefaultLimit(t *testing.T) {
	procs := &fakeProcesses{entries: []proctable.Entry{{PID: 1, Name: "init"}}}
	cs := connect(t, NewToolRegistry(newManager(t), WithProcesses(procs), WithListLimit(25)))

	out := decode[struct {
		Processes []proctable.Entry `json:"processes"`
	}](t, call(t, cs, "list_processes", map[string]any{"filter": "ini"}))

	require.Len(t, out.Processes, 1)
	assert.Equal(t, "init", out.Processes[0].Name)
	assert.Equal(t, proctable.ListOptions{Filter: "ini", Limit: 25}, procs.opts)
}

func TestKillProcess(t *testing.T) {
	procs := &fakeProcesses{}
	cs := connect(t, NewToolRegistry(newManager(t), WithProcesses(procs)))

	out := decode[map[string]any](t, call(t, cs, "kill_process", map[string]any{"pid": 4242, "force": true}))
	assert.Equal(t, "SIGKILL", out["signal"])
	assert.Equal(t, []int{4242}, procs.killed)
}

func TestGetConfig(t *testing.T) {
	view := ConfigView{
		BlockedCommands: []string{"sudo", "dd"},
		DefaultShell:    "/bin/sh",
	}
	cs := connect(t, NewToolRegistry(newManager(t), WithConfig(func() ConfigView { return view })))

	got := decode[ConfigView](t, call(t, cs, "get_config", map[string]any{}))
	assert.Equal(t, []string{"sudo", "dd"}, got.BlockedCommands)
	assert.Equal(t, "/bin/sh", got.DefaultShell)
	assert.Empty(t, got.AllowedDirectories)
	assert.Contains(t, text(t, call(t, cs, "get_config", map[string]any{})), `"allowed_directories": []`)

	// reloaded configuration is reported on the next call
	view.AllowedDirectories = []string{"/srv"}
	got = decode[ConfigView](t, call(t, cs, "get_config", map[string]any{}))
	assert.Equal(t, []string{"/srv"}, got.AllowedDirectories)
}

func TestValidateExecuteArgs(t *testing.T) {
	on := true
	off := false

	tests := []struct {
		name       string
		args       ExecuteCommandArgs
		defaultPTY bool
		wantPTY    bool
		wantErr    string
	}{
		{name: "default pipes", args: ExecuteCommandArgs{Command: "ls"}},
		{name: "default pty", args: ExecuteCommandArgs{Command: "ls"}, defaultPTY: true, wantPTY: true},
		{name: "explicit pty", args: ExecuteCommandArgs{Command: "ls", PTY: &on}, wantPTY: true},
		{name: "explicit off", args: ExecuteCommandArgs{Command: "ls", PTY: &off}, defaultPTY: true},
		{name: "empty", args: ExecuteCommandArgs{}, wantErr: "command is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := validateExecuteArgs(tt.args, tt.defaultPTY)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPTY, req.PTY)
		})
	}
}

func TestValidateExecuteArgs_Timeout(t *testing.T) {
	req, err := validateExecuteArgs(ExecuteCommandArgs{Command: "ls", TimeoutMs: 1500}, false)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, req.Timeout)
}
