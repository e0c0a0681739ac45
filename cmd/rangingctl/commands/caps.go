package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ranging-core/rangingd/internal/ranging"
	"github.com/ranging-core/rangingd/internal/simadapter"
)

func capsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "caps",
		Short: "Print the capability registry state for the simulated adapter stack",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			reg := ranging.NewCapabilityRegistry()
			simadapter.SeedCapabilities(reg)

			for _, tech := range []ranging.TechnologyTag{
				ranging.TechUWB, ranging.TechCS, ranging.TechRTT, ranging.TechRSSI,
			} {
				avail, caps := reg.Get(tech)
				fmt.Printf("%-5s %s\n", tech, avail)
				if caps != nil {
					fmt.Printf("       config_ids=%v channels=%v preambles=%v min_interval_ms=%d aoa=%v\n",
						caps.ConfigIDs, caps.Channels, caps.PreambleIndexes, caps.MinIntervalMs, caps.SupportsAoA)
				}
			}
			return nil
		},
	}
}
