package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/awer25/pandaop/safety"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(modesCmd)
}

var paramHelp = map[safety.Mode]string{
	safety.ModeToyota: fmt.Sprintf("0x%02x EPS torque factor (%%), 0x%x alt brake, 0x%x stock longitudinal",
		safety.ToyotaParamEPSFactorMask, safety.ToyotaParamAltBrake, safety.ToyotaParamStockLong),
	safety.ModeTesla: fmt.Sprintf("0x%x longitudinal", safety.TeslaParamLongitudinal),
	safety.ModeSubaru: fmt.Sprintf("0x%x gen2, 0x%x LKAS_ALT, 0x%x ES_Status",
		safety.SubaruParamGen2, safety.SubaruParamLKASAlt, safety.SubaruParamESStatus),
	safety.ModeVolkswagenMQB: fmt.Sprintf("0x%x longitudinal", safety.VolkswagenParamLongitudinal),
}

var modesCmd = &cobra.Command{
	Use:   "modes",
	Short: "List the available safety modes and their params",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "MODE\tNAME\tPARAM")
		for _, m := range safety.DefaultRegistry().Modes() {
			help := paramHelp[m]
			if help == "" {
				help = "-"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\n", uint16(m), m, help)
		}
		return w.Flush()
	},
}
