package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"maestro/internal/config"
	"maestro/internal/registry"
)

var agentsRanked bool

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Print the agent roster with learned statistics",
	Long: `List every agent the registry knows: built-in specialists, agents
discovered from the host, and the running statistics the feedback loop
has accumulated for each.`,
	RunE: runAgents,
}

func init() {
	agentsCmd.Flags().BoolVar(&agentsRanked, "ranked", false, "Order by learned success rate")
}

func runAgents(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(stateDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	reg := registry.New(cfg.RegistryCachePath(), time.Duration(cfg.Registry.DebounceMs)*time.Millisecond)

	agents := reg.List()
	if agentsRanked {
		agents = reg.RankedBySuccessRate()
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tSPECIALIZATION\tSUCCESS\tRUNS\tAVG TOKENS\tCAPABILITIES")
	for _, a := range agents {
		caps := strings.Join(a.Capabilities, ",")
		if len(caps) > 48 {
			caps = caps[:45] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%.0f%%\t%d\t%.0f\t%s\n",
			a.ID, a.Specialization, a.SuccessRate*100, a.Total, a.AvgTokens, caps)
	}
	return w.Flush()
}
