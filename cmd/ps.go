package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/schovi/devcontrol/internal/proctable"
)

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List OS processes",
	Args:  cobra.NoArgs,
	RunE:  runPs,
}

var (
	psJsonFlag   bool
	psFilterFlag string
	psLimitFlag  int
)

func init() {
	psCmd.Flags().BoolVar(&psJsonFlag, "json", false, "Output as JSON")
	psCmd.Flags().StringVar(&psFilterFlag, "filter", "", "Only processes whose name or command contains this text")
	psCmd.Flags().IntVar(&psLimitFlag, "limit", 0, "Maximum number of processes (default from config)")
}

func runPs(cmd *cobra.Command, args []string) error {
	cfg, _, closer, err := setup()
	if err != nil {
		return err
	}
	defer closer.Close()

	limit := psLimitFlag
	if limit == 0 {
		limit = cfg.Process.ListLimit
	}

	entries, err := proctable.List(cmd.Context(), proctable.ListOptions{Filter: psFilterFlag, Limit: limit})
	if err != nil {
		return err
	}

	if psJsonFlag {
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal output: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	if len(entries) == 0 {
		fmt.Println("No processes")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PID\tNAME\tCPU%\tMEM%\tRSS")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%.1f\t%.1f\t%d\n", e.PID, e.Name, e.CPUPercent, e.MemoryPercent, e.RSS)
	}
	return w.Flush()
}
