package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/schovi/devcontrol/internal/config"
	"github.com/schovi/devcontrol/internal/mcp"
)

var serveMaxOutputFlag string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the MCP tools over stdio",
	Long: `Serve execute_command, read_output, force_terminate, list_sessions,
list_processes and kill_process to an MCP client over stdin/stdout.

Logs go to stderr or the configured log file. Edits to the config file
take effect for blocked commands, allowed directories and the default shell
without a restart.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveMaxOutputFlag, "max-output", "",
		"Maximum output buffer size per session (e.g., 10MB, 1GB)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, closer, err := setup()
	if err != nil {
		return err
	}
	defer closer.Close()

	if serveMaxOutputFlag != "" {
		maxSize, err := parseSize(serveMaxOutputFlag)
		if err != nil {
			return fmt.Errorf("invalid --max-output: %w", err)
		}
		cfg.Session.MaxOutputBytes = maxSize
	}

	rt := newServices(cfg, log)

	if file := viper.ConfigFileUsed(); file != "" {
		config.Watch(func(next *config.Config) {
			rt.guard.Update(policyRules(next))
			rt.launcher.SetDefaultShell(next.Shell.Default)
			log.Info().Str("file", file).Msg("config reloaded")
		}, func(err error) {
			log.Warn().Err(err).Msg("config change ignored")
		})
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := mcp.NewToolRegistry(rt.manager,
		mcp.WithLogger(log),
		mcp.WithDefaultPTY(cfg.Shell.PTY),
		mcp.WithListLimit(cfg.Process.ListLimit),
		mcp.WithConfig(rt.configView),
	)
	serveErr := mcp.Serve(ctx, mcp.NewServer(registry, Version), log)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rt.manager.Shutdown(shutdownCtx)

	return serveErr
}

// configView reports the live policy and shell, including reloads.
func (s *services) configView() mcp.ConfigView {
	rules := s.guard.Rules()
	return mcp.ConfigView{
		BlockedCommands:    rules.BlockedCommands,
		DefaultShell:       s.launcher.ResolveShell(""),
		AllowedDirectories: rules.AllowedDirectories,
	}
}

var sizePattern = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*(B|KB|MB|GB)?$`)

func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	matches := sizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("invalid format: %s", s)
	}

	val, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, err
	}

	multiplier := 1.0
	switch matches[2] {
	case "KB":
		multiplier = 1024
	case "MB":
		multiplier = 1024 * 1024
	case "GB":
		multiplier = 1024 * 1024 * 1024
	}

	return int64(val * multiplier), nil
}
