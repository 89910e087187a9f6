package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/schovi/devcontrol/internal/config"
	"github.com/schovi/devcontrol/internal/launcher"
	"github.com/schovi/devcontrol/internal/logging"
	"github.com/schovi/devcontrol/internal/policy"
	"github.com/schovi/devcontrol/internal/session"
)

var rootCmd = &cobra.Command{
	Use:   "devcontrol",
	Short: "Shell command sessions and process control for AI agents",
	Long: `devcontrol runs shell commands on behalf of an AI agent. Commands that outlive
their timeout keep running as background sessions whose output can be read later.

Quick start:
  devcontrol serve                          # Serve MCP tools on stdio
  devcontrol exec -- make test              # Run a command once
  devcontrol ps --filter node               # List OS processes
  devcontrol kill 4242                      # SIGTERM a process`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/devcontrol/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(psCmd)
	rootCmd.AddCommand(killCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("DEVCONTROL")
	// DEVCONTROL_SESSION_DEFAULT_TIMEOUT_MS for session.default_timeout_ms
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// a missing config file is fine
	_ = viper.ReadInConfig()
}

// setup loads the configuration and builds the logger every command uses.
func setup() (*config.Config, zerolog.Logger, io.Closer, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), nil, fmt.Errorf("config: %w", err)
	}
	log, closer, err := logging.Init("devcontrol", cfg.Logging)
	if err != nil {
		return nil, zerolog.Nop(), nil, fmt.Errorf("logging: %w", err)
	}
	return cfg, log, closer, nil
}

type services struct {
	launcher *launcher.Launcher
	guard    *policy.Guard
	manager  *session.Manager
}

func newServices(cfg *config.Config, log zerolog.Logger) *services {
	l := launcher.New(
		launcher.WithDefaultShell(cfg.Shell.Default),
		launcher.WithPTYSize(cfg.Shell.PTYCols, cfg.Shell.PTYRows),
	)
	guard := policy.NewGuard(policyRules(cfg))
	m := session.NewManager(l,
		session.WithPolicy(guard),
		session.WithLogger(log),
		session.WithDefaultTimeout(cfg.Session.DefaultTimeout()),
		session.WithGracePeriod(cfg.Session.GracePeriod()),
		session.WithRetention(cfg.Session.Retention()),
		session.WithSweepInterval(cfg.Session.SweepInterval()),
		session.WithMaxOutputSize(cfg.Session.MaxOutputBytes),
		session.WithScreenSize(cfg.Shell.PTYCols, cfg.Shell.PTYRows),
		session.WithEnv(cfg.Shell.Env),
	)
	return &services{launcher: l, guard: guard, manager: m}
}

func policyRules(cfg *config.Config) policy.Rules {
	return policy.Rules{
		BlockedCommands:    cfg.Security.BlockedCommands,
		AllowedDirectories: cfg.Security.AllowedDirectories,
	}
}
