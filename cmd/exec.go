package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/schovi/devcontrol/internal/session"
)

var execCmd = &cobra.Command{
	Use:   "exec [flags] -- <command...>",
	Short: "Run a command once and print its output",
	Long: `Run a command the way execute_command does and print the output.

The command runs until it exits or --timeout passes. Without --follow a
command still running at the timeout is terminated, since nothing would be
left to read its output. With --follow its output keeps streaming until it
exits or you press Ctrl+C.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExec,
}

var (
	execTimeoutFlag   int
	execShellFlag     string
	execDirFlag       string
	execPTYFlag       bool
	execFollowFlag    bool
	execStripAnsiFlag bool
	execJsonFlag      bool
	execEnvFlag       []string
)

const followInterval = 100 * time.Millisecond

func init() {
	execCmd.Flags().IntVar(&execTimeoutFlag, "timeout", 0, "Max wait time in ms (default from config)")
	execCmd.Flags().StringVar(&execShellFlag, "shell", "", "Shell to run the command with")
	execCmd.Flags().StringVarP(&execDirFlag, "dir", "C", "", "Working directory")
	execCmd.Flags().BoolVar(&execPTYFlag, "pty", false, "Run on a pseudo-terminal")
	execCmd.Flags().BoolVarP(&execFollowFlag, "follow", "f", false, "Keep streaming output after the timeout")
	execCmd.Flags().BoolVar(&execStripAnsiFlag, "strip-ansi", false, "Strip ANSI escape codes")
	execCmd.Flags().BoolVar(&execJsonFlag, "json", false, "Output as JSON")
	execCmd.Flags().StringArrayVarP(&execEnvFlag, "env", "e", nil, "Set an environment variable (KEY=VALUE, repeatable)")
}

func runExec(cmd *cobra.Command, args []string) error {
	cfg, log, closer, err := setup()
	if err != nil {
		return err
	}
	defer closer.Close()

	rt := newServices(cfg, log)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		rt.manager.Shutdown(ctx)
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, kv := range execEnvFlag {
		if key, _, ok := strings.Cut(kv, "="); !ok || key == "" {
			return fmt.Errorf("invalid --env %q: want KEY=VALUE", kv)
		}
	}

	res, err := rt.manager.Start(ctx, session.StartRequest{
		Command: strings.Join(args, " "),
		Shell:   execShellFlag,
		Dir:     execDirFlag,
		Timeout: time.Duration(execTimeoutFlag) * time.Millisecond,
		PTY:     usePTY(cmd.Flags().Changed("pty"), execPTYFlag, cfg.Shell.PTY),
		Env:     execEnvFlag,
	})
	if err != nil {
		return err
	}

	output := res.Output
	if execFollowFlag && res.State.Live() {
		output, err = follow(ctx, rt.manager, res.SessionID, output)
		if err != nil {
			return err
		}
	}

	sum, err := rt.manager.Get(res.SessionID)
	if err != nil {
		return err
	}
	if sum.State.Live() {
		term, err := rt.manager.Terminate(context.Background(), res.SessionID)
		if err != nil {
			return err
		}
		sum.State = term.State
	}

	if execStripAnsiFlag {
		read, err := rt.manager.ReadOutput(res.SessionID, session.ReadOptions{All: true, StripANSI: true})
		if err != nil {
			return err
		}
		output = read.Output
	}

	if execJsonFlag {
		out := map[string]interface{}{
			"session_id": res.SessionID,
			"pid":        res.PID,
			"state":      sum.State,
			"exit_code":  sum.ExitCode,
			"output":     output,
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal output: %w", err)
		}
		fmt.Println(string(data))
	} else if !execFollowFlag {
		fmt.Print(output)
	}

	switch {
	case sum.State == session.StateCompletedSuccess:
		return nil
	case sum.ExitCode != nil && *sum.ExitCode > 0:
		return fmt.Errorf("command exited with status %d", *sum.ExitCode)
	default:
		return fmt.Errorf("command %s", sum.State)
	}
}

// usePTY lets an explicit --pty, true or false, win over shell.pty.
func usePTY(flagSet, flag, configured bool) bool {
	if flagSet {
		return flag
	}
	return configured
}

// follow prints output as it arrives until the session ends or ctx is done.
// It returns everything seen, starting with initial.
func follow(ctx context.Context, m *session.Manager, id, initial string) (string, error) {
	var all strings.Builder
	all.WriteString(initial)
	if !execJsonFlag {
		fmt.Print(initial)
	}

	ticker := time.NewTicker(followInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return all.String(), nil
		case <-ticker.C:
		}

		read, err := m.ReadOutput(id, session.ReadOptions{})
		if err != nil {
			return all.String(), err
		}
		all.WriteString(read.Output)
		if !execJsonFlag {
			fmt.Print(read.Output)
		}
		if read.State.Terminal() {
			return all.String(), nil
		}
	}
}
