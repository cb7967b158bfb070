// gradinfo is a diagnostic tool for the execution-strategy layer: it probes
// which device kinds are visible to the process and lists the registered
// strategy variants, so a training setup can be checked before a run.
package main

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/gradflow/gradflow/devices"
	"github.com/gradflow/gradflow/strategies"
	_ "github.com/gradflow/gradflow/strategies/multiworker"
	_ "github.com/gradflow/gradflow/strategies/singledevice"
)

var rootCmd = &cobra.Command{
	Use:   "gradinfo",
	Short: "Inspect devices and execution strategies visible to this process",
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List device kinds and their visibility",
	RunE: func(cmd *cobra.Command, args []string) error {
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Kind", "Available", "Visible Devices")
		for _, kind := range devices.Kinds() {
			visible := devices.DefaultProbe(kind)
			available := "no"
			if visible > 0 {
				available = "yes"
			}
			table.Append(kind.String(), available, fmt.Sprintf("%d", visible))
		}
		table.Render()
		return nil
	},
}

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "List registered strategy variants",
	RunE: func(cmd *cobra.Command, args []string) error {
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Name", "Example Configuration")
		examples := map[string]string{
			"single":      "single:cuda:0",
			"multiworker": "multiworker:4,cuda",
		}
		for _, name := range strategies.Registered() {
			table.Append(name, examples[name])
		}
		table.Render()
		fmt.Printf("\nSelect with the %s environment variable.\n", strategies.GRADFLOW_STRATEGY)
		return nil
	},
}

func main() {
	rootCmd.AddCommand(devicesCmd, strategiesCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
