package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/schovi/devcontrol/internal/proctable"
)

var (
	killJsonFlag  bool
	killForceFlag bool
)

func init() {
	killCmd.Flags().BoolVar(&killJsonFlag, "json", false, "Output as JSON")
	killCmd.Flags().BoolVarP(&killForceFlag, "force", "f", false, "Send SIGKILL instead of SIGTERM")
}

var killCmd = &cobra.Command{
	Use:   "kill <pid>",
	Short: "Signal a process by pid",
	Long: `Send SIGTERM, or SIGKILL with --force, to any process by pid.

This works on arbitrary OS processes, not only ones started by devcontrol.`,
	Args: cobra.ExactArgs(1),
	RunE: runKill,
}

func runKill(cmd *cobra.Command, args []string) error {
	pid, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid pid %q", args[0])
	}

	if err := proctable.Kill(pid, killForceFlag); err != nil {
		return err
	}

	signal := "SIGTERM"
	if killForceFlag {
		signal = "SIGKILL"
	}
	if killJsonFlag {
		out := map[string]interface{}{
			"pid":    pid,
			"signal": signal,
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
	} else {
		fmt.Printf("Sent %s to %d\n", signal, pid)
	}
	return nil
}
